package funnel

import "sort"

// Question is the part of a form question the funnel logic needs
type Question struct {
	ID           string
	StepNumber   int
	DisplayOrder int
	Rule         Rule
}

// IsVisible reports whether q should be shown given the answers so far.
// Questions without a rule are always visible.
func IsVisible(q Question, answers Answers) bool {
	return Evaluate(q.Rule, answers)
}

// VisibleQuestions evaluates the whole question set. Answers held by hidden
// questions do not count toward other questions' rules, so a chain of
// dependents collapses once its root is hidden. The result keeps the input
// order.
func VisibleQuestions(questions []Question, answers Answers) []Question {
	visible := visibleSet(questions, answers)
	out := make([]Question, 0, len(visible))
	for _, q := range questions {
		if visible[q.ID] {
			out = append(out, q)
		}
	}
	return out
}

// PruneHidden returns answers without entries for hidden questions and the
// ids that were removed, sorted.
func PruneHidden(questions []Question, answers Answers) (Answers, []string) {
	visible := visibleSet(questions, answers)
	known := make(map[string]bool, len(questions))
	for _, q := range questions {
		known[q.ID] = true
	}

	kept := make(Answers, len(answers))
	var removed []string
	for id, raw := range answers {
		if known[id] && !visible[id] {
			removed = append(removed, id)
			continue
		}
		kept[id] = raw
	}
	sort.Strings(removed)
	return kept, removed
}

// visibleSet iterates to a fixpoint. Each round can only hide more
// questions, so it terminates within len(questions) rounds even when rules
// reference each other in a cycle.
func visibleSet(questions []Question, answers Answers) map[string]bool {
	effective := answers
	var visible map[string]bool

	for round := 0; round <= len(questions); round++ {
		next := make(map[string]bool, len(questions))
		for _, q := range questions {
			if IsVisible(q, effective) {
				next[q.ID] = true
			}
		}
		if visible != nil && len(next) == len(visible) {
			return next
		}
		visible = next
		effective = restrictToVisible(questions, answers, visible)
	}
	return visible
}

func restrictToVisible(questions []Question, answers Answers, visible map[string]bool) Answers {
	out := make(Answers, len(answers))
	hidden := make(map[string]bool)
	for _, q := range questions {
		if !visible[q.ID] {
			hidden[q.ID] = true
		}
	}
	for id, raw := range answers {
		if !hidden[id] {
			out[id] = raw
		}
	}
	return out
}

// QuestionsForStep returns the visible questions on a question step ordered
// by display order.
func QuestionsForStep(questions []Question, answers Answers, step int) []Question {
	var out []Question
	for _, q := range VisibleQuestions(questions, answers) {
		if q.StepNumber == step {
			out = append(out, q)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DisplayOrder < out[j].DisplayOrder
	})
	return out
}

// UnknownReferences lists rule dependencies that point at no question in the
// set. Such rules can never be satisfied.
func UnknownReferences(questions []Question) map[string][]string {
	known := make(map[string]bool, len(questions))
	for _, q := range questions {
		known[q.ID] = true
	}
	out := make(map[string][]string)
	for _, q := range questions {
		if q.Rule == nil {
			continue
		}
		for _, ref := range q.Rule.References() {
			if !known[ref] {
				out[q.ID] = append(out[q.ID], ref)
			}
		}
	}
	return out
}
