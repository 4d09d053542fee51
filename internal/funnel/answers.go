package funnel

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Answers maps a question id to the raw JSON answer recorded for it. An
// answer may be a string, a number, a bool or an array of those.
type Answers map[string]json.RawMessage

// Values returns the answer for questionID flattened to strings. Missing,
// null, blank and empty-array answers all yield nil.
func (a Answers) Values(questionID string) []string {
	raw, ok := a[questionID]
	if !ok {
		return nil
	}
	return AnswerValues(raw)
}

// AnswerValues flattens a raw JSON answer into its string values
func AnswerValues(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}

	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}

	switch t := v.(type) {
	case nil:
		return nil
	case []interface{}:
		values := make([]string, 0, len(t))
		for _, e := range t {
			if s := scalarString(e); s != "" {
				values = append(values, s)
			}
		}
		if len(values) == 0 {
			return nil
		}
		return values
	default:
		if s := scalarString(t); s != "" {
			return []string{s}
		}
		return nil
	}
}

func scalarString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
