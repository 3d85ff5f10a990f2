package validator

import (
	"fmt"
	"strings"
)

// Filter operators understood by the data tools.
var supportedOps = map[string]bool{
	"==": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true, "in": true, "not in": true,
}

var opAliases = map[string]string{
	"=":      "==",
	"eq":     "==",
	"ne":     "!=",
	"<>":     "!=",
	"not_in": "not in",
	"notin":  "not in",
}

// filters validates a list of [column, op, value] triples. Timestamp
// columns get their values normalized.
func (v *Validator) filters(raw any) ([]any, error) {
	items, err := toArray(raw)
	if err != nil {
		return nil, err
	}

	out := make([]any, 0, len(items))
	for i, item := range items {
		triple, err := toArray(item)
		if err != nil || len(triple) != 3 {
			return nil, fmt.Errorf("filter %d must be [column, op, value]", i+1)
		}

		col, err := toString(triple[0])
		if err != nil || col == "" {
			return nil, fmt.Errorf("filter %d has no column name", i+1)
		}

		op, err := toString(triple[1])
		if err != nil {
			return nil, fmt.Errorf("filter %d has a non-string operator", i+1)
		}
		op = strings.ToLower(strings.Join(strings.Fields(op), " "))
		if alias, ok := opAliases[op]; ok {
			op = alias
		}
		if !supportedOps[op] {
			return nil, fmt.Errorf("filter %d uses unsupported operator %q; supported: == != < <= > >= in, not in", i+1, op)
		}

		val := triple[2]
		if val == nil {
			return nil, fmt.Errorf("filter %d on %q has a null value", i+1, col)
		}

		if op == "in" || op == "not in" {
			list, err := toArray(val)
			if err != nil {
				return nil, fmt.Errorf("filter %d operator %q needs a list value", i+1, op)
			}
			val = list
		}

		if strings.Contains(col, "timestamp") {
			if val, err = normalizeFilterTime(val); err != nil {
				return nil, fmt.Errorf("filter %d on %q: %v", i+1, col, err)
			}
		}

		out = append(out, []any{col, op, val})
	}
	return out, nil
}

func normalizeFilterTime(val any) (any, error) {
	if list, ok := val.([]any); ok {
		out := make([]any, len(list))
		for i, item := range list {
			n, err := normalizeFilterTime(item)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	}
	s, err := timestampInput(val)
	if err != nil {
		return nil, err
	}
	return NormalizeTimestamp(s)
}
