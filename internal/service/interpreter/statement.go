package interpreter

import (
	"strconv"
	"strings"

	"presto-notebook/internal/domain"
)

// statement is the lower-cased, trimmed form of a SQL text used for
// prefix-based classification.
type statement string

func classify(sql string) statement {
	return statement(strings.ToLower(strings.TrimSpace(sql)))
}

func (s statement) hasPrefix(prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(string(s), p) {
			return true
		}
	}
	return false
}

func (s statement) isSelect() bool  { return s.hasPrefix("select") }
func (s statement) isExplain() bool { return s.hasPrefix("explain") }

// limitExempt statements never carry or need a limit clause.
func (s statement) limitExempt() bool {
	return s.hasPrefix("show", "desc", "create", "insert", "explain")
}

// producesRows reports statements whose terminal result must carry columns.
func (s statement) producesRows() bool {
	return s.hasPrefix("select", "explain", "show", "desc", "with", "values")
}

// checkLimitClause requires select statements to end in "limit N" with N <= max.
func checkLimitClause(sql string, max int) error {
	s := classify(sql)
	if s.limitExempt() || !s.isSelect() {
		return nil
	}

	tokens := strings.Fields(strings.TrimRight(string(s), "; \t\r\n"))
	if len(tokens) < 2 || tokens[len(tokens)-2] != "limit" {
		return domain.ErrMissingLimit()
	}
	limit, err := strconv.Atoi(tokens[len(tokens)-1])
	if err != nil {
		return domain.ErrMissingLimit()
	}
	if limit > max {
		return domain.ErrExcessiveLimit(max)
	}
	return nil
}
