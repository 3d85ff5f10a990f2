package errhandler

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/agentoven/agentoven/rootcause/internal/config"
)

// rule is a compiled error rule. Expressions see three variables:
// message (lowercased error text), status (HTTP status or 0) and
// kind (model, parse, tool, sink or other).
type rule struct {
	src      string
	program  *vm.Program
	category Category
}

func ruleEnv(msg string, status int, kind string) map[string]any {
	return map[string]any{
		"message": msg,
		"status":  status,
		"kind":    kind,
	}
}

func compileRules(rules []config.ErrorRule) ([]rule, error) {
	out := make([]rule, 0, len(rules))
	for i, r := range rules {
		cat, err := parseCategory(r.Category)
		if err != nil {
			return nil, fmt.Errorf("error rule %d: %w", i, err)
		}
		program, err := expr.Compile(r.When, expr.Env(ruleEnv("", 0, "")), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("error rule %d %q: %w", i, r.When, err)
		}
		out = append(out, rule{src: r.When, program: program, category: cat})
	}
	return out, nil
}

func (r rule) match(msg string, status int, kind string) (Category, bool) {
	out, err := expr.Run(r.program, ruleEnv(msg, status, kind))
	if err != nil {
		return "", false
	}
	ok, _ := out.(bool)
	return r.category, ok
}

func parseCategory(s string) (Category, error) {
	switch Category(s) {
	case Transient, ParseError, ToolExecution, Fatal:
		return Category(s), nil
	}
	return "", fmt.Errorf("unknown category %q", s)
}
