package internal

import (
	"fmt"
	"log"
	"strings"

	"github.com/Knetic/govaluate"
	"github.com/PaesslerAG/jsonpath"
)

// DefaultReviewRule is the built-in qualification predicate: only pull
// request events whose action introduces or changes code are reviewed.
const DefaultReviewRule = `event == "pull_request" && (action == "opened" || action == "synchronize" || action == "reopened")`

// Rule decides whether an event qualifies for review. When is a govaluate
// expression evaluated over the flattened payload plus the `event` and
// `action` parameters. Annotate optionally attaches extra payload fields to
// the dispatched review job, each value a JSONPath selector into the raw
// payload.
type Rule struct {
	When     string            `yaml:"when"`
	Annotate map[string]string `yaml:"annotate"`
}

type compiledRule struct {
	expr     *govaluate.EvaluableExpression
	annotate map[string]string
}

// RuleEngine evaluates review qualification rules against normalized events.
type RuleEngine struct {
	rules  []compiledRule
	logger *log.Logger
}

// NewRuleEngine compiles the configured rules. With no rules configured the
// engine falls back to DefaultReviewRule.
func NewRuleEngine(rules []Rule, logger *log.Logger) (*RuleEngine, error) {
	if logger == nil {
		logger = log.Default()
	}
	if len(rules) == 0 {
		rules = []Rule{{When: DefaultReviewRule}}
	}

	compiled := make([]compiledRule, 0, len(rules))
	for i, rule := range rules {
		expr, err := govaluate.NewEvaluableExpression(rule.When)
		if err != nil {
			return nil, fmt.Errorf("compile rule %d: %w", i, err)
		}
		compiled = append(compiled, compiledRule{expr: expr, annotate: rule.Annotate})
	}
	return &RuleEngine{rules: compiled, logger: logger}, nil
}

// Qualifies reports whether the event should be handed to the review
// pipeline, along with annotations extracted from the first matching rule.
func (r *RuleEngine) Qualifies(event WebhookEvent) (bool, map[string]string) {
	payload := event.PayloadObject()
	params := Flatten(payload)
	params["event"] = event.EventType
	params["action"] = event.Action

	for _, rule := range r.rules {
		result, err := rule.expr.Evaluate(params)
		if err != nil {
			// Missing parameters are the common case for unrelated event
			// types; the rule simply does not match.
			continue
		}
		matched, _ := result.(bool)
		if !matched {
			continue
		}
		return true, r.extract(rule.annotate, payload)
	}
	return false, nil
}

func (r *RuleEngine) extract(selectors map[string]string, payload map[string]interface{}) map[string]string {
	if len(selectors) == 0 {
		return nil
	}
	out := make(map[string]string, len(selectors))
	for name, selector := range selectors {
		value, err := jsonpath.Get(selector, interface{}(payload))
		if err != nil {
			r.logger.Printf("annotate %s: %v", name, err)
			continue
		}
		out[name] = fmt.Sprint(value)
	}
	return out
}

func normalizeRules(rules []Rule) ([]Rule, error) {
	out := make([]Rule, 0, len(rules))
	for i := range rules {
		rule := rules[i]
		rule.When = strings.TrimSpace(rule.When)
		if rule.When == "" {
			return nil, fmt.Errorf("rule %d is missing when", i)
		}
		for name, selector := range rule.Annotate {
			if strings.TrimSpace(selector) == "" {
				return nil, fmt.Errorf("rule %d annotation %s is empty", i, name)
			}
		}
		out = append(out, rule)
	}
	return out, nil
}
