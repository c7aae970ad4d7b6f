package interpreter

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"presto-notebook/internal/domain"
)

var cellReplacer = strings.NewReplacer("\n", " ", "\r", " ", "\t", " ", `"`, "'")

// cellString renders a value for the tab-separated buffer and the spill file.
func cellString(v interface{}) string {
	if v == nil {
		return "null"
	}
	return cellReplacer.Replace(rawString(v))
}

// rawString renders a value without escaping. Explain output uses it directly.
func rawString(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case []byte:
		return string(x)
	case time.Time:
		return x.Format("2006-01-02 15:04:05.000")
	case []interface{}:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = rawString(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]interface{}:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + "=" + rawString(x[k])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return fmt.Sprint(x)
	}
}

const (
	envelopeMessagePrefix = "error=QueryError{message="
	envelopeMessageEnd    = ", sqlState="
)

// engineMessage returns the human-readable part of an engine failure. The
// structured EngineError is preferred; the substring scan only handles errors
// that reached us as flattened text.
func engineMessage(err error) string {
	var ee *domain.EngineError
	if errors.As(err, &ee) {
		return ee.Message
	}
	return extractEnvelopeMessage(err.Error())
}

func extractEnvelopeMessage(msg string) string {
	if !strings.Contains(msg, "QueryResults") {
		return msg
	}
	start := strings.Index(msg, envelopeMessagePrefix)
	if start <= 0 {
		return msg
	}
	rest := msg[start+len(envelopeMessagePrefix):]
	end := strings.Index(rest, envelopeMessageEnd)
	if end < 0 {
		return msg
	}
	return rest[:end]
}
