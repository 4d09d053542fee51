package funnel

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func answers(kv map[string]interface{}) Answers {
	out := make(Answers, len(kv))
	for k, v := range kv {
		b, _ := json.Marshal(v)
		out[k] = b
	}
	return out
}

func mustRule(t *testing.T, doc string) Rule {
	t.Helper()
	r, err := ParseRule([]byte(doc))
	require.NoError(t, err)
	return r
}

func TestParseRule_Shapes(t *testing.T) {
	tests := []struct {
		name     string
		doc      string
		wantNil  bool
		wantType string
		wantErr  bool
	}{
		{name: "empty", doc: "", wantNil: true},
		{name: "null", doc: "null", wantNil: true},
		{name: "empty object", doc: " { } ", wantNil: true},
		{name: "single", doc: `{"dependent_on_question_id":"q1","show_when_answer_equals":["yes"]}`, wantType: "single"},
		{name: "compound", doc: `{"conditions":[{"dependent_on_question_id":"q1","show_when_answer_equals":["a"]}],"group_logical_operator":"AND"}`, wantType: "compound"},
		{name: "scalar target", doc: `{"dependent_on_question_id":"q1","show_when_answer_equals":"yes"}`, wantType: "single"},
		{name: "unknown operator", doc: `{"dependent_on_question_id":"q1","show_when_answer_equals":["a"],"logical_operator":"XOR"}`, wantErr: true},
		{name: "missing dependency", doc: `{"show_when_answer_equals":["a"]}`, wantErr: true},
		{name: "not json", doc: `{nope`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := ParseRule([]byte(tt.doc))
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidRule)
				return
			}
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, r)
				return
			}
			switch tt.wantType {
			case "single":
				assert.IsType(t, &SingleRule{}, r)
			case "compound":
				assert.IsType(t, &CompoundRule{}, r)
			}
		})
	}
}

func TestParseRule_DefaultsOperatorToOr(t *testing.T) {
	r := mustRule(t, `{"dependent_on_question_id":"q1","show_when_answer_equals":["a"]}`)
	single := r.(*SingleRule)
	assert.Equal(t, OperatorOr, single.Condition.LogicalOperator)

	r = mustRule(t, `{"conditions":[{"dependent_on_question_id":"q1","show_when_answer_equals":["a"],"logical_operator":"and"}]}`)
	compound := r.(*CompoundRule)
	assert.Equal(t, OperatorOr, compound.GroupOperator)
	assert.Equal(t, OperatorAnd, compound.Conditions[0].LogicalOperator)
}

func TestIsVisible_SingleOr(t *testing.T) {
	q := Question{ID: "Q2", StepNumber: 2, Rule: mustRule(t,
		`{"dependent_on_question_id":"Q1","show_when_answer_equals":["A","B"],"logical_operator":"OR"}`)}

	assert.True(t, IsVisible(q, answers(map[string]interface{}{"Q1": "A"})))
	assert.True(t, IsVisible(q, answers(map[string]interface{}{"Q1": "B"})))
	assert.False(t, IsVisible(q, answers(map[string]interface{}{"Q1": "C"})))
	assert.False(t, IsVisible(q, Answers{}))
	assert.False(t, IsVisible(q, answers(map[string]interface{}{"Q1": ""})))
	assert.False(t, IsVisible(q, answers(map[string]interface{}{"Q1": []string{}})))
	assert.True(t, IsVisible(q, answers(map[string]interface{}{"Q1": []string{"C", "B"}})))
}

func TestIsVisible_SingleAndRequiresEveryTarget(t *testing.T) {
	q := Question{ID: "Q3", Rule: mustRule(t,
		`{"dependent_on_question_id":"Q1","show_when_answer_equals":["A","B"],"logical_operator":"AND"}`)}

	assert.True(t, IsVisible(q, answers(map[string]interface{}{"Q1": []string{"A", "B", "C"}})))
	assert.False(t, IsVisible(q, answers(map[string]interface{}{"Q1": []string{"A"}})))
	assert.False(t, IsVisible(q, answers(map[string]interface{}{"Q1": "A"})))
}

func TestIsVisible_CompoundAnd(t *testing.T) {
	q := Question{ID: "Q5", Rule: mustRule(t, `{
		"conditions": [
			{"dependent_on_question_id":"Q1","show_when_answer_equals":["A"]},
			{"dependent_on_question_id":"Q2","show_when_answer_equals":["X"]}
		],
		"group_logical_operator": "AND"
	}`)}

	assert.True(t, IsVisible(q, answers(map[string]interface{}{"Q1": "A", "Q2": "X"})))
	assert.False(t, IsVisible(q, answers(map[string]interface{}{"Q1": "A", "Q2": "Y"})))
	assert.False(t, IsVisible(q, answers(map[string]interface{}{"Q1": "A"})))
}

func TestIsVisible_CompoundOr(t *testing.T) {
	q := Question{ID: "Q5", Rule: mustRule(t, `{
		"conditions": [
			{"dependent_on_question_id":"Q1","show_when_answer_equals":["A"]},
			{"dependent_on_question_id":"Q2","show_when_answer_equals":["X"]}
		],
		"group_logical_operator": "OR"
	}`)}

	assert.True(t, IsVisible(q, answers(map[string]interface{}{"Q1": "Z", "Q2": "X"})))
	assert.False(t, IsVisible(q, answers(map[string]interface{}{"Q1": "Z", "Q2": "Y"})))
}

func TestIsVisible_EmptyCompoundAndNoRule(t *testing.T) {
	assert.True(t, IsVisible(Question{ID: "Q1"}, Answers{}))
	assert.True(t, IsVisible(Question{ID: "Q1", Rule: &CompoundRule{GroupOperator: OperatorAnd}}, Answers{}))
}

func TestIsVisible_NumericAndBoolAnswers(t *testing.T) {
	q := Question{ID: "Q2", Rule: mustRule(t,
		`{"dependent_on_question_id":"Q1","show_when_answer_equals":[3, true]}`)}

	assert.True(t, IsVisible(q, answers(map[string]interface{}{"Q1": 3})))
	assert.True(t, IsVisible(q, answers(map[string]interface{}{"Q1": "3"})))
	assert.True(t, IsVisible(q, answers(map[string]interface{}{"Q1": true})))
	assert.False(t, IsVisible(q, answers(map[string]interface{}{"Q1": 4})))
}

func TestVisibleQuestions_HiddenChainCollapses(t *testing.T) {
	questions := []Question{
		{ID: "Q1", StepNumber: 1},
		{ID: "Q2", StepNumber: 2, Rule: mustRule(t, `{"dependent_on_question_id":"Q1","show_when_answer_equals":["yes"]}`)},
		{ID: "Q3", StepNumber: 3, Rule: mustRule(t, `{"dependent_on_question_id":"Q2","show_when_answer_equals":["gas"]}`)},
	}

	all := answers(map[string]interface{}{"Q1": "yes", "Q2": "gas"})
	assert.Len(t, VisibleQuestions(questions, all), 3)

	changed := answers(map[string]interface{}{"Q1": "no", "Q2": "gas"})
	visible := VisibleQuestions(questions, changed)
	require.Len(t, visible, 1)
	assert.Equal(t, "Q1", visible[0].ID)

	pruned, removed := PruneHidden(questions, changed)
	assert.Equal(t, []string{"Q2"}, removed)
	assert.NotContains(t, pruned, "Q2")
	assert.Contains(t, pruned, "Q1")
}

func TestVisibleQuestions_CycleTerminates(t *testing.T) {
	questions := []Question{
		{ID: "A", Rule: mustRule(t, `{"dependent_on_question_id":"B","show_when_answer_equals":["1"]}`)},
		{ID: "B", Rule: mustRule(t, `{"dependent_on_question_id":"A","show_when_answer_equals":["1"]}`)},
	}

	assert.Len(t, VisibleQuestions(questions, answers(map[string]interface{}{"A": "1", "B": "1"})), 2)
	assert.Empty(t, VisibleQuestions(questions, Answers{}))
}

func TestUnknownReferences(t *testing.T) {
	questions := []Question{
		{ID: "Q1"},
		{ID: "Q2", Rule: mustRule(t, `{"dependent_on_question_id":"missing","show_when_answer_equals":["x"]}`)},
	}
	assert.Equal(t, map[string][]string{"Q2": {"missing"}}, UnknownReferences(questions))
}
