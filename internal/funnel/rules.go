package funnel

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Operator combines condition results
type Operator string

const (
	OperatorAnd Operator = "AND"
	OperatorOr  Operator = "OR"
)

var ErrInvalidRule = errors.New("invalid conditional display rule")

func parseOperator(s string) (Operator, error) {
	switch Operator(strings.ToUpper(strings.TrimSpace(s))) {
	case "", OperatorOr:
		return OperatorOr, nil
	case OperatorAnd:
		return OperatorAnd, nil
	default:
		return "", fmt.Errorf("%w: unknown operator %q", ErrInvalidRule, s)
	}
}

// TargetValues is the set of answers a condition matches against. It decodes
// from a JSON array or a single scalar.
type TargetValues []string

// UnmarshalJSON accepts ["a","b"], "a", 3 or [1, "b"]
func (t *TargetValues) UnmarshalJSON(data []byte) error {
	values := AnswerValues(data)
	if values == nil {
		*t = TargetValues{}
		return nil
	}
	*t = values
	return nil
}

// Condition is a single visibility predicate on another question's answer
type Condition struct {
	DependentOnQuestionID string       `json:"dependent_on_question_id"`
	ShowWhenAnswerEquals  TargetValues `json:"show_when_answer_equals"`
	LogicalOperator       Operator     `json:"logical_operator"`
}

// Rule is either *SingleRule or *CompoundRule
type Rule interface {
	isRule()
	// References returns the question ids the rule depends on
	References() []string
}

// SingleRule wraps exactly one condition
type SingleRule struct {
	Condition Condition
}

// CompoundRule combines several conditions with a group operator
type CompoundRule struct {
	Conditions    []Condition
	GroupOperator Operator
}

func (*SingleRule) isRule()   {}
func (*CompoundRule) isRule() {}

func (r *SingleRule) References() []string {
	return []string{r.Condition.DependentOnQuestionID}
}

func (r *CompoundRule) References() []string {
	refs := make([]string, 0, len(r.Conditions))
	for _, c := range r.Conditions {
		refs = append(refs, c.DependentOnQuestionID)
	}
	return refs
}

// ruleDocument is the stored JSON shape covering both variants
type ruleDocument struct {
	Conditions           *[]Condition `json:"conditions"`
	GroupLogicalOperator string       `json:"group_logical_operator"`

	DependentOnQuestionID string       `json:"dependent_on_question_id"`
	ShowWhenAnswerEquals  TargetValues `json:"show_when_answer_equals"`
	LogicalOperator       string       `json:"logical_operator"`
}

// ParseRule decodes a stored conditional_display document. Empty, null and
// {} documents mean "no rule" and return a nil Rule.
func ParseRule(raw []byte) (Rule, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	var doc ruleDocument
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}

	if doc.Conditions != nil {
		group, err := parseOperator(doc.GroupLogicalOperator)
		if err != nil {
			return nil, err
		}
		conditions := make([]Condition, 0, len(*doc.Conditions))
		for _, c := range *doc.Conditions {
			normalized, err := normalizeCondition(c.DependentOnQuestionID, c.ShowWhenAnswerEquals, string(c.LogicalOperator))
			if err != nil {
				return nil, err
			}
			conditions = append(conditions, normalized)
		}
		return &CompoundRule{Conditions: conditions, GroupOperator: group}, nil
	}

	if doc.DependentOnQuestionID != "" {
		c, err := normalizeCondition(doc.DependentOnQuestionID, doc.ShowWhenAnswerEquals, doc.LogicalOperator)
		if err != nil {
			return nil, err
		}
		return &SingleRule{Condition: c}, nil
	}

	if bytes.Equal(bytes.Join(bytes.Fields(trimmed), nil), []byte("{}")) {
		return nil, nil
	}

	return nil, fmt.Errorf("%w: missing dependent_on_question_id or conditions", ErrInvalidRule)
}

func normalizeCondition(dependentOn string, targets TargetValues, op string) (Condition, error) {
	if strings.TrimSpace(dependentOn) == "" {
		return Condition{}, fmt.Errorf("%w: condition without dependent_on_question_id", ErrInvalidRule)
	}
	operator, err := parseOperator(op)
	if err != nil {
		return Condition{}, err
	}
	return Condition{
		DependentOnQuestionID: strings.TrimSpace(dependentOn),
		ShowWhenAnswerEquals:  targets,
		LogicalOperator:       operator,
	}, nil
}

// EvaluateCondition reports whether c holds for the given answers. An
// unanswered dependency hides the question.
//
// OR: any answer value is one of the targets.
// AND: every target value is among the answer values.
func EvaluateCondition(c Condition, answers Answers) bool {
	values := answers.Values(c.DependentOnQuestionID)
	if len(values) == 0 {
		return false
	}

	answered := make(map[string]bool, len(values))
	for _, v := range values {
		answered[v] = true
	}

	switch c.LogicalOperator {
	case OperatorAnd:
		if len(c.ShowWhenAnswerEquals) == 0 {
			return false
		}
		for _, target := range c.ShowWhenAnswerEquals {
			if !answered[target] {
				return false
			}
		}
		return true
	default:
		for _, target := range c.ShowWhenAnswerEquals {
			if answered[target] {
				return true
			}
		}
		return false
	}
}

// Evaluate reports whether rule holds. A nil rule always holds.
func Evaluate(rule Rule, answers Answers) bool {
	switch r := rule.(type) {
	case nil:
		return true
	case *SingleRule:
		return EvaluateCondition(r.Condition, answers)
	case *CompoundRule:
		if len(r.Conditions) == 0 {
			return true
		}
		if r.GroupOperator == OperatorAnd {
			for _, c := range r.Conditions {
				if !EvaluateCondition(c, answers) {
					return false
				}
			}
			return true
		}
		for _, c := range r.Conditions {
			if EvaluateCondition(c, answers) {
				return true
			}
		}
		return false
	default:
		panic(fmt.Sprintf("funnel: unhandled rule type %T", rule))
	}
}
