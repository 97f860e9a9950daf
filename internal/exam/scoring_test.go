package exam

import (
	"encoding/json"
	"fmt"
	"testing"

	"evalbank/internal/question"
)

const fourOptions = `{"options":[{"text":"a"},{"text":"b"},{"text":"c"},{"text":"d"}]}`

func TestScoreChoiceWithPermutation(t *testing.T) {
	// canonical option 0 is shown at position 3
	perm := []int{3, 1, 2, 0}

	tests := []struct {
		name     string
		payload  string
		perm     []int
		key      string
		want     float64
		reason   string
		answered bool
	}{
		{name: "presented position maps to correct canonical", payload: `{"selected":[3]}`, perm: perm, key: `{"correct":[0]}`, want: 1, reason: ReasonCorrect, answered: true},
		{name: "canonical index sent as position is wrong", payload: `{"selected":[0]}`, perm: perm, key: `{"correct":[0]}`, want: 0, reason: ReasonWrong, answered: true},
		{name: "single selection scalar", payload: `{"selected":3}`, perm: perm, key: `{"correct":[0]}`, want: 1, reason: ReasonCorrect, answered: true},
		{name: "no permutation is canonical", payload: `{"selected":[0]}`, key: `{"correct":[0]}`, want: 1, reason: ReasonCorrect, answered: true},
		{name: "multi select set equality", payload: `{"selected":[3,2]}`, perm: perm, key: `{"correct":[0,2]}`, want: 1, reason: ReasonCorrect, answered: true},
		{name: "multi select partial is wrong", payload: `{"selected":[3]}`, perm: perm, key: `{"correct":[0,2]}`, want: 0, reason: ReasonWrong, answered: true},
		{name: "out of range position", payload: `{"selected":[4]}`, perm: perm, key: `{"correct":[0]}`, want: 0, reason: ReasonMalformedPayload, answered: true},
		{name: "permutation of wrong length", payload: `{"selected":[1]}`, perm: []int{1, 0}, key: `{"correct":[0]}`, want: 0, reason: ReasonBadPermutation, answered: true},
		{name: "empty selection", payload: `{"selected":[]}`, perm: perm, key: `{"correct":[0]}`, want: 0, reason: ReasonUnanswered},
		{name: "missing payload", payload: ``, perm: perm, key: `{"correct":[0]}`, want: 0, reason: ReasonUnanswered},
		{name: "selection of strings", payload: `{"selected":["a"]}`, perm: perm, key: `{"correct":[0]}`, want: 0, reason: ReasonMalformedPayload, answered: true},
		{name: "malformed key", payload: `{"selected":[3]}`, perm: perm, key: `{"correct":[9]}`, want: 0, reason: ReasonMalformedKey},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ScoreQuestion(ScoreInput{
				Type:        question.TypeChoice,
				Content:     json.RawMessage(fourOptions),
				AnswerKey:   json.RawMessage(tc.key),
				Payload:     json.RawMessage(tc.payload),
				Permutation: tc.perm,
			})
			if got.Fraction != tc.want || got.Reason != tc.reason || got.Answered != tc.answered {
				t.Fatalf("expected %v/%s/answered=%v, got %+v", tc.want, tc.reason, tc.answered, got)
			}
		})
	}
}

func TestScoreChoiceOnlyPresentedPositionOfKeyScores(t *testing.T) {
	content := json.RawMessage(`{"options":[{"text":"A"},{"text":"B"},{"text":"C"},{"text":"D"}]}`)
	perm := []int{3, 1, 2, 0}

	for pos := 0; pos < 4; pos++ {
		got := ScoreQuestion(ScoreInput{
			Type:        question.TypeChoice,
			Content:     content,
			AnswerKey:   json.RawMessage(`{"correct":[2]}`),
			Payload:     json.RawMessage(fmt.Sprintf(`{"selected":[%d]}`, pos)),
			Permutation: perm,
		})
		want := 0.0
		if pos == 2 {
			want = 1
		}
		if got.Fraction != want {
			t.Fatalf("presented position %d: expected %v, got %+v", pos, want, got)
		}
	}
}

func TestScoreOrderingIsAllOrNothing(t *testing.T) {
	content := json.RawMessage(`{"items":[{"text":"w"},{"text":"x"},{"text":"y"},{"text":"z"}]}`)
	key := json.RawMessage(`{"order":[0,1,2,3]}`)

	tests := []struct {
		name    string
		payload string
		perm    []int
		want    float64
		reason  string
	}{
		{name: "exact order", payload: `{"order":[0,1,2,3]}`, want: 1, reason: ReasonCorrect},
		{name: "one transposition", payload: `{"order":[1,0,2,3]}`, want: 0, reason: ReasonWrong},
		{name: "short answer", payload: `{"order":[0,1,2]}`, want: 0, reason: ReasonWrong},
		{name: "presented positions mapped back", payload: `{"order":[3,1,2,0]}`, perm: []int{3, 1, 2, 0}, want: 1, reason: ReasonCorrect},
		{name: "presented order taken literally is wrong", payload: `{"order":[0,1,2,3]}`, perm: []int{3, 1, 2, 0}, want: 0, reason: ReasonWrong},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ScoreQuestion(ScoreInput{
				Type:        question.TypeOrdering,
				Content:     content,
				AnswerKey:   key,
				Payload:     json.RawMessage(tc.payload),
				Permutation: tc.perm,
			})
			if got.Fraction != tc.want || got.Reason != tc.reason {
				t.Fatalf("expected %v/%s, got %+v", tc.want, tc.reason, got)
			}
		})
	}
}

func TestScoreNumericBoundary(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		payload string
		want    float64
	}{
		{name: "exact match with zero tolerance", key: `{"value":10.5,"tolerance":0}`, payload: `{"value":10.5}`, want: 1},
		{name: "off by a hundredth with zero tolerance", key: `{"value":10.5,"tolerance":0}`, payload: `{"value":10.51}`, want: 0},
		{name: "edge of tolerance counts", key: `{"value":10.5,"tolerance":0.01}`, payload: `{"value":10.51}`, want: 1},
		{name: "just outside tolerance", key: `{"value":10.5,"tolerance":0.01}`, payload: `{"value":10.52}`, want: 0},
		{name: "numeric string with comma", key: `{"value":10.5,"tolerance":0}`, payload: `{"value":"10,5"}`, want: 1},
		{name: "half unit tolerance upper edge", key: `{"value":10.0,"tolerance":0.5}`, payload: `{"value":10.5}`, want: 1},
		{name: "half unit tolerance lower edge", key: `{"value":10.0,"tolerance":0.5}`, payload: `{"value":9.5}`, want: 1},
		{name: "just past half unit tolerance", key: `{"value":10.0,"tolerance":0.5}`, payload: `{"value":10.51}`, want: 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ScoreQuestion(ScoreInput{
				Type:      question.TypeNumeric,
				AnswerKey: json.RawMessage(tc.key),
				Payload:   json.RawMessage(tc.payload),
			})
			if got.Fraction != tc.want {
				t.Fatalf("expected %v, got %+v", tc.want, got)
			}
		})
	}
}

func TestScoreBlanksNormalizesCaseAndSpace(t *testing.T) {
	key := json.RawMessage(`{"blanks":[{"id":"b1","text":"Ciudad de México"},{"id":"b2","text":"Straße"}]}`)

	tests := []struct {
		name    string
		payload string
		want    float64
		reason  string
	}{
		{name: "case and whitespace differences", payload: `{"blanks":{"b1":"  ciudad   DE méxico ","b2":"STRASSE"}}`, want: 1, reason: ReasonCorrect},
		{name: "one blank wrong", payload: `{"blanks":{"b1":"ciudad de mexico","b2":"strasse"}}`, want: 0, reason: ReasonWrong},
		{name: "missing blank", payload: `{"blanks":{"b1":"ciudad de méxico"}}`, want: 0, reason: ReasonWrong},
		{name: "empty map", payload: `{"blanks":{}}`, want: 0, reason: ReasonUnanswered},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ScoreQuestion(ScoreInput{
				Type:      question.TypeBlanks,
				Content:   json.RawMessage(`{"text":"__ __","blanks":[{"id":"b1"},{"id":"b2"}]}`),
				AnswerKey: key,
				Payload:   json.RawMessage(tc.payload),
			})
			if got.Fraction != tc.want || got.Reason != tc.reason {
				t.Fatalf("expected %v/%s, got %+v", tc.want, tc.reason, got)
			}
		})
	}
}

func TestScoreMatchingComparesPairSets(t *testing.T) {
	content := json.RawMessage(`{"left":[{"id":"l1"},{"id":"l2"}],"right":[{"id":"r1"},{"id":"r2"}]}`)
	key := json.RawMessage(`{"pairs":[{"left":"l1","right":"r2"},{"left":"l2","right":"r1"}]}`)

	right := ScoreQuestion(ScoreInput{Type: question.TypeMatching, Content: content, AnswerKey: key,
		Payload: json.RawMessage(`{"pairs":[{"left":"l2","right":"r1"},{"left":"l1","right":"r2"}]}`)})
	if right.Fraction != 1 {
		t.Fatalf("expected order-insensitive match, got %+v", right)
	}

	wrong := ScoreQuestion(ScoreInput{Type: question.TypeMatching, Content: content, AnswerKey: key,
		Payload: json.RawMessage(`{"pairs":[{"left":"l1","right":"r1"},{"left":"l2","right":"r2"}]}`)})
	if wrong.Fraction != 0 || wrong.Reason != ReasonWrong {
		t.Fatalf("expected wrong, got %+v", wrong)
	}
}

func TestScoreTrueFalseAndOpen(t *testing.T) {
	tf := ScoreQuestion(ScoreInput{Type: question.TypeTrueFalse, AnswerKey: json.RawMessage(`{"correct":false}`), Payload: json.RawMessage(`{"value":false}`)})
	if tf.Fraction != 1 {
		t.Fatalf("expected true/false correct, got %+v", tf)
	}

	open := ScoreQuestion(ScoreInput{Type: question.TypeOpen, Payload: json.RawMessage(`{"text":"my essay"}`)})
	if open.Fraction != 0 || open.Reason != ReasonManualReview || !open.Answered {
		t.Fatalf("expected manual review with answer, got %+v", open)
	}

	blank := ScoreQuestion(ScoreInput{Type: question.TypeOpen, Payload: json.RawMessage(`{"text":"   "}`)})
	if blank.Answered {
		t.Fatalf("blank essay should not count as answered")
	}
}

func TestScoreUnknownTypeNeverPanics(t *testing.T) {
	got := ScoreQuestion(ScoreInput{Type: "dibujo", Payload: json.RawMessage(`{}`)})
	if got.Fraction != 0 || got.Reason != ReasonMalformedKey {
		t.Fatalf("expected malformed key, got %+v", got)
	}
}
