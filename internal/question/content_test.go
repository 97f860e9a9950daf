package question

import (
	"encoding/json"
	"testing"

	"evalbank/internal/apperr"
)

func TestValidateContent(t *testing.T) {
	tests := []struct {
		name      string
		qType     Type
		content   string
		key       string
		wantField string
	}{
		{name: "single choice ok", qType: TypeChoice, content: `{"options":[{"text":"a"},{"text":"b"}]}`, key: `{"correct":[1]}`},
		{name: "multi choice ok", qType: TypeChoice, content: `{"options":[{"text":"a"},{"text":"b"},{"text":"c"}],"multiple":true}`, key: `{"correct":[0,2]}`},
		{name: "single choice two answers", qType: TypeChoice, content: `{"options":[{"text":"a"},{"text":"b"}]}`, key: `{"correct":[0,1]}`, wantField: "answer_key"},
		{name: "choice index out of range", qType: TypeChoice, content: `{"options":[{"text":"a"},{"text":"b"}]}`, key: `{"correct":[2]}`, wantField: "answer_key"},
		{name: "choice one option", qType: TypeChoice, content: `{"options":[{"text":"a"}]}`, key: `{"correct":[0]}`, wantField: "content"},
		{name: "true false ok", qType: TypeTrueFalse, content: `{}`, key: `{"correct":false}`},
		{name: "true false missing", qType: TypeTrueFalse, content: `{}`, key: `{}`, wantField: "answer_key"},
		{name: "blanks ok", qType: TypeBlanks, content: `{"text":"__ is blue","blanks":[{"id":"b1"}]}`, key: `{"blanks":[{"id":"b1","text":"Sky"}]}`},
		{name: "blanks key missing blank", qType: TypeBlanks, content: `{"blanks":[{"id":"b1"},{"id":"b2"}]}`, key: `{"blanks":[{"id":"b1","text":"x"}]}`, wantField: "answer_key"},
		{name: "blanks key extra blank", qType: TypeBlanks, content: `{"blanks":[{"id":"b1"}]}`, key: `{"blanks":[{"id":"b1","text":"x"},{"id":"b9","text":"y"}]}`, wantField: "answer_key"},
		{name: "numeric ok", qType: TypeNumeric, content: `{}`, key: `{"value":10,"tolerance":0.5}`},
		{name: "numeric negative tolerance", qType: TypeNumeric, content: `{}`, key: `{"value":10,"tolerance":-1}`, wantField: "answer_key"},
		{name: "numeric missing value", qType: TypeNumeric, content: `{}`, key: `{"tolerance":1}`, wantField: "answer_key"},
		{name: "ordering ok", qType: TypeOrdering, content: `{"items":[{"text":"a"},{"text":"b"},{"text":"c"}]}`, key: `{"order":[2,0,1]}`},
		{name: "ordering partial key", qType: TypeOrdering, content: `{"items":[{"text":"a"},{"text":"b"},{"text":"c"}]}`, key: `{"order":[2,0]}`, wantField: "answer_key"},
		{name: "ordering duplicate", qType: TypeOrdering, content: `{"items":[{"text":"a"},{"text":"b"}]}`, key: `{"order":[1,1]}`, wantField: "answer_key"},
		{name: "matching ok", qType: TypeMatching, content: `{"left":[{"id":"l1"},{"id":"l2"}],"right":[{"id":"r1"},{"id":"r2"}]}`, key: `{"pairs":[{"left":"l1","right":"r2"},{"left":"l2","right":"r1"}]}`},
		{name: "matching unknown right", qType: TypeMatching, content: `{"left":[{"id":"l1"}],"right":[{"id":"r1"}]}`, key: `{"pairs":[{"left":"l1","right":"r9"}]}`, wantField: "answer_key"},
		{name: "open ok", qType: TypeOpen, content: `{}`, key: ``},
		{name: "open with key", qType: TypeOpen, content: `{}`, key: `{"text":"x"}`, wantField: "answer_key"},
		{name: "unknown type", qType: Type("dibujo"), content: `{}`, key: `{}`, wantField: "type"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateContent(tc.qType, json.RawMessage(tc.content), json.RawMessage(tc.key))
			if tc.wantField == "" {
				if err != nil {
					t.Fatalf("expected nil error, got %v", err)
				}
				return
			}
			if apperr.KindOf(err) != apperr.KindValidation {
				t.Fatalf("expected validation error, got %v", err)
			}
			if got := apperr.FieldOf(err); got != tc.wantField {
				t.Fatalf("expected field %q, got %q (%v)", tc.wantField, got, err)
			}
		})
	}
}

func TestValidateVersionInput(t *testing.T) {
	partial := 2
	base := VersionInput{
		Type:       TypeTrueFalse,
		Difficulty: 5,
		Scope:      ScopePartial,
		PartialID:  &partial,
		Statement:  "The earth is round",
		Content:    json.RawMessage(`{}`),
		AnswerKey:  json.RawMessage(`{"correct":true}`),
	}
	if err := ValidateVersionInput(base); err != nil {
		t.Fatalf("expected valid input, got %v", err)
	}

	tests := []struct {
		name      string
		mutate    func(in *VersionInput)
		wantField string
	}{
		{name: "difficulty zero", mutate: func(in *VersionInput) { in.Difficulty = 0 }, wantField: "difficulty"},
		{name: "difficulty eleven", mutate: func(in *VersionInput) { in.Difficulty = 11 }, wantField: "difficulty"},
		{name: "partial without id", mutate: func(in *VersionInput) { in.PartialID = nil }, wantField: "partial_id"},
		{name: "final with partial id", mutate: func(in *VersionInput) { in.Scope = ScopeFinal }, wantField: "partial_id"},
		{name: "bad scope", mutate: func(in *VersionInput) { in.Scope = "midterm" }, wantField: "scope"},
		{name: "blank statement", mutate: func(in *VersionInput) { in.Statement = "  " }, wantField: "statement"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			in := base
			tc.mutate(&in)
			err := ValidateVersionInput(in)
			if got := apperr.FieldOf(err); got != tc.wantField {
				t.Fatalf("expected field %q, got %q (%v)", tc.wantField, got, err)
			}
		})
	}
}

func TestElementCount(t *testing.T) {
	n, err := ElementCount(TypeChoice, json.RawMessage(`{"options":[{"text":"a"},{"text":"b"},{"text":"c"}]}`))
	if err != nil || n != 3 {
		t.Fatalf("expected 3 options, got %d (%v)", n, err)
	}
	n, err = ElementCount(TypeOrdering, json.RawMessage(`{"items":[{"text":"a"},{"text":"b"}]}`))
	if err != nil || n != 2 {
		t.Fatalf("expected 2 items, got %d (%v)", n, err)
	}
	n, err = ElementCount(TypeNumeric, json.RawMessage(`{}`))
	if err != nil || n != 0 {
		t.Fatalf("expected 0 for numeric, got %d (%v)", n, err)
	}
}
