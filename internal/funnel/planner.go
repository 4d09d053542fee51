package funnel

import (
	"fmt"
	"sort"
)

// StepKind identifies what a wizard step renders
type StepKind string

const (
	StepKindQuestion    StepKind = "question"
	StepKindAddress     StepKind = "address"
	StepKindRoofMapping StepKind = "roof_mapping"
	StepKindContact     StepKind = "contact"
)

// Step is one position in the wizard
type Step struct {
	Index        int      `json:"index"`
	Kind         StepKind `json:"kind"`
	QuestionStep int      `json:"question_step,omitempty"`
	Name         string   `json:"name"`
}

// PlanOptions controls which fixed steps follow the question steps
type PlanOptions struct {
	// RoofMapping is true only for solar categories of partners that enabled it
	RoofMapping bool
}

// StepPlan is the ordered wizard derived from the visible questions
type StepPlan struct {
	ActiveSteps []int      `json:"active_steps"`
	FixedSteps  []StepKind `json:"fixed_steps"`
	TotalSteps  int        `json:"total_steps"`
}

// Plan derives the wizard from the question set and current answers. It is
// a pure function of its inputs.
func Plan(questions []Question, answers Answers, opts PlanOptions) StepPlan {
	seen := make(map[int]bool)
	var active []int
	for _, q := range VisibleQuestions(questions, answers) {
		if !seen[q.StepNumber] {
			seen[q.StepNumber] = true
			active = append(active, q.StepNumber)
		}
	}
	sort.Ints(active)
	if active == nil {
		active = []int{}
	}

	fixed := []StepKind{StepKindAddress}
	if opts.RoofMapping {
		fixed = append(fixed, StepKindRoofMapping)
	}
	fixed = append(fixed, StepKindContact)

	return StepPlan{
		ActiveSteps: active,
		FixedSteps:  fixed,
		TotalSteps:  len(active) + len(fixed),
	}
}

// At maps a 1-based wizard index to its step
func (p StepPlan) At(index int) (Step, bool) {
	if index < 1 || index > p.TotalSteps {
		return Step{}, false
	}
	if index <= len(p.ActiveSteps) {
		n := p.ActiveSteps[index-1]
		return Step{
			Index:        index,
			Kind:         StepKindQuestion,
			QuestionStep: n,
			Name:         fmt.Sprintf("step_%d", n),
		}, true
	}
	kind := p.FixedSteps[index-len(p.ActiveSteps)-1]
	return Step{Index: index, Kind: kind, Name: string(kind)}, true
}

// IndexOf returns the wizard index of a fixed step, or 0 when absent
func (p StepPlan) IndexOf(kind StepKind) int {
	for i, k := range p.FixedSteps {
		if k == kind {
			return len(p.ActiveSteps) + i + 1
		}
	}
	return 0
}

// Clamp keeps a wizard index inside [1, total]
func Clamp(current, total int) int {
	if total < 1 {
		return 1
	}
	if current < 1 {
		return 1
	}
	if current > total {
		return total
	}
	return current
}
