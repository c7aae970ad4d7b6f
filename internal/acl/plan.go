package acl

import (
	"regexp"
	"strings"
)

var (
	// Presto text plans: TableScan[hive:default:t, ...] or ScanFilter[table = hive:default:t, ...].
	prestoScan = regexp.MustCompile(`(?:TableScan|ScanFilterProject|ScanFilter|ScanProject)\[(?:table = )?([^,\]\s]+)`)
	// DuckDB physical plans: "Table: t" inside a scan box.
	duckdbScan = regexp.MustCompile(`Table:\s*([\w.]+)`)
)

// ExtractTables returns the tables scanned by plan, lower-cased, in order of
// first appearance. Presto handles such as hive:default:t become hive.default.t.
func ExtractTables(plan string) []string {
	var (
		out  []string
		seen = map[string]bool{}
	)
	add := func(name string) {
		name = strings.ToLower(strings.Trim(name, `"`))
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		out = append(out, name)
	}

	for _, m := range prestoScan.FindAllStringSubmatch(plan, -1) {
		parts := strings.Split(m[1], ":")
		if len(parts) > 3 {
			parts = parts[:3]
		}
		add(strings.Join(parts, "."))
	}
	for _, m := range duckdbScan.FindAllStringSubmatch(plan, -1) {
		add(m[1])
	}
	return out
}

// referencesInWhere reports whether column appears after the first WHERE of sql.
func referencesInWhere(sql, column string) bool {
	lower := strings.ToLower(sql)
	loc := whereKeyword.FindStringIndex(lower)
	if loc == nil {
		return false
	}
	col := regexp.MustCompile(`\b` + regexp.QuoteMeta(strings.ToLower(column)) + `\b`)
	return col.MatchString(lower[loc[1]:])
}

var whereKeyword = regexp.MustCompile(`\bwhere\b`)
