package exam

import (
	"bytes"
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"

	"evalbank/internal/question"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

const (
	ReasonCorrect          = "correct"
	ReasonWrong            = "wrong"
	ReasonUnanswered       = "unanswered"
	ReasonManualReview     = "manual_review"
	ReasonMalformedKey     = "malformed_answer_key"
	ReasonMalformedPayload = "malformed_payload"
	ReasonBadPermutation   = "invalid_permutation"
)

// numericSlack absorbs float representation error at the tolerance edge.
const numericSlack = 1e-9

type ScoreInput struct {
	Type        question.Type
	Content     json.RawMessage
	AnswerKey   json.RawMessage
	Payload     json.RawMessage
	Permutation []int
}

type ScoreResult struct {
	Fraction float64 `json:"fraction"`
	Answered bool    `json:"answered"`
	Reason   string  `json:"reason"`
}

// ScoreQuestion returns the fraction of points earned. It never fails:
// a bad key or payload scores 0 and the reason says why.
func ScoreQuestion(in ScoreInput) ScoreResult {
	switch in.Type {
	case question.TypeChoice:
		return scoreChoice(in)
	case question.TypeTrueFalse:
		return scoreTrueFalse(in)
	case question.TypeBlanks:
		return scoreBlanks(in)
	case question.TypeNumeric:
		return scoreNumeric(in)
	case question.TypeOrdering:
		return scoreOrdering(in)
	case question.TypeMatching:
		return scoreMatching(in)
	case question.TypeOpen:
		return ScoreResult{Answered: openAnswered(in.Payload), Reason: ReasonManualReview}
	default:
		return ScoreResult{Reason: ReasonMalformedKey}
	}
}

func scoreChoice(in ScoreInput) ScoreResult {
	c, err := question.ParseChoiceContent(in.Content)
	if err != nil {
		return ScoreResult{Reason: ReasonMalformedKey}
	}
	key, err := question.ParseChoiceKey(in.AnswerKey, len(c.Options))
	if err != nil {
		return ScoreResult{Reason: ReasonMalformedKey}
	}

	raw, status := payloadField(in.Payload, "selected")
	if status != "answered" {
		return statusResult(status)
	}
	positions, ok := parseIndexList(raw)
	if !ok {
		return ScoreResult{Answered: true, Reason: ReasonMalformedPayload}
	}
	if len(positions) == 0 {
		return ScoreResult{Reason: ReasonUnanswered}
	}

	canonical, reason := toCanonical(in.Permutation, positions, len(c.Options))
	if reason != "" {
		return ScoreResult{Answered: true, Reason: reason}
	}
	return verdict(equalIntSets(canonical, key.Correct))
}

func scoreTrueFalse(in ScoreInput) ScoreResult {
	want, err := question.ParseTrueFalseKey(in.AnswerKey)
	if err != nil {
		return ScoreResult{Reason: ReasonMalformedKey}
	}
	raw, status := payloadField(in.Payload, "value")
	if status != "answered" {
		return statusResult(status)
	}
	var got bool
	if err := json.Unmarshal(raw, &got); err != nil {
		return ScoreResult{Answered: true, Reason: ReasonMalformedPayload}
	}
	return verdict(got == want)
}

func scoreBlanks(in ScoreInput) ScoreResult {
	expected, err := question.ParseBlanksKey(in.AnswerKey)
	if err != nil {
		return ScoreResult{Reason: ReasonMalformedKey}
	}
	raw, status := payloadField(in.Payload, "blanks")
	if status != "answered" {
		return statusResult(status)
	}
	var got map[string]string
	if err := json.Unmarshal(raw, &got); err != nil {
		return ScoreResult{Answered: true, Reason: ReasonMalformedPayload}
	}
	if len(got) == 0 {
		return ScoreResult{Reason: ReasonUnanswered}
	}
	for id, want := range expected {
		if normalizeBlank(got[id]) != normalizeBlank(want) {
			return verdict(false)
		}
	}
	return verdict(true)
}

var folder = cases.Fold()

// normalizeBlank folds case and collapses whitespace runs.
func normalizeBlank(s string) string {
	s = norm.NFC.String(s)
	s = folder.String(s)
	return strings.Join(strings.Fields(s), " ")
}

func scoreNumeric(in ScoreInput) ScoreResult {
	key, err := question.ParseNumericKey(in.AnswerKey)
	if err != nil {
		return ScoreResult{Reason: ReasonMalformedKey}
	}
	raw, status := payloadField(in.Payload, "value")
	if status != "answered" {
		return statusResult(status)
	}
	got, ok := parseNumber(raw)
	if !ok {
		return ScoreResult{Answered: true, Reason: ReasonMalformedPayload}
	}
	return verdict(math.Abs(got-*key.Value) <= key.Tolerance+numericSlack)
}

func scoreOrdering(in ScoreInput) ScoreResult {
	c, err := question.ParseOrderingContent(in.Content)
	if err != nil {
		return ScoreResult{Reason: ReasonMalformedKey}
	}
	key, err := question.ParseOrderingKey(in.AnswerKey, len(c.Items))
	if err != nil {
		return ScoreResult{Reason: ReasonMalformedKey}
	}
	raw, status := payloadField(in.Payload, "order")
	if status != "answered" {
		return statusResult(status)
	}
	positions, ok := parseIndexList(raw)
	if !ok {
		return ScoreResult{Answered: true, Reason: ReasonMalformedPayload}
	}
	if len(positions) == 0 {
		return ScoreResult{Reason: ReasonUnanswered}
	}
	if len(positions) != len(key.Order) {
		return verdict(false)
	}
	canonical, reason := toCanonical(in.Permutation, positions, len(c.Items))
	if reason != "" {
		return ScoreResult{Answered: true, Reason: reason}
	}
	for i := range canonical {
		if canonical[i] != key.Order[i] {
			return verdict(false)
		}
	}
	return verdict(true)
}

func scoreMatching(in ScoreInput) ScoreResult {
	c, err := question.ParseMatchingContent(in.Content)
	if err != nil {
		return ScoreResult{Reason: ReasonMalformedKey}
	}
	key, err := question.ParseMatchingKey(in.AnswerKey, c)
	if err != nil {
		return ScoreResult{Reason: ReasonMalformedKey}
	}
	raw, status := payloadField(in.Payload, "pairs")
	if status != "answered" {
		return statusResult(status)
	}
	var got []question.Pair
	if err := json.Unmarshal(raw, &got); err != nil {
		return ScoreResult{Answered: true, Reason: ReasonMalformedPayload}
	}
	if len(got) == 0 {
		return ScoreResult{Reason: ReasonUnanswered}
	}
	return verdict(equalStrings(pairKeys(got), pairKeys(key.Pairs)))
}

func pairKeys(pairs []question.Pair) []string {
	seen := make(map[string]struct{}, len(pairs))
	out := make([]string, 0, len(pairs))
	for _, p := range pairs {
		k := strings.TrimSpace(p.Left) + "->" + strings.TrimSpace(p.Right)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func openAnswered(payload json.RawMessage) bool {
	raw, status := payloadField(payload, "text")
	if status != "answered" {
		return false
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return false
	}
	return strings.TrimSpace(text) != ""
}

// payloadField extracts one field of the student payload. Status is
// "answered", "unanswered" or "malformed".
func payloadField(payload json.RawMessage, field string) (json.RawMessage, string) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, "unanswered"
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return nil, "malformed"
	}
	raw, ok := obj[field]
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return nil, "unanswered"
	}
	return raw, "answered"
}

func statusResult(status string) ScoreResult {
	if status == "malformed" {
		return ScoreResult{Answered: true, Reason: ReasonMalformedPayload}
	}
	return ScoreResult{Reason: ReasonUnanswered}
}

func verdict(correct bool) ScoreResult {
	if correct {
		return ScoreResult{Fraction: 1, Answered: true, Reason: ReasonCorrect}
	}
	return ScoreResult{Fraction: 0, Answered: true, Reason: ReasonWrong}
}

// parseIndexList accepts a single index or a list of indices.
func parseIndexList(raw json.RawMessage) ([]int, bool) {
	var list []int
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, true
	}
	var single int
	if err := json.Unmarshal(raw, &single); err == nil {
		return []int{single}, true
	}
	return nil, false
}

func parseNumber(raw json.RawMessage) (float64, bool) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, !math.IsNaN(f) && !math.IsInf(f, 0)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(s, ",", ".")), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func equalIntSets(a, b []int) bool {
	as := dedupeSorted(a)
	bs := dedupeSorted(b)
	if len(as) != len(bs) {
		return false
	}
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

func dedupeSorted(in []int) []int {
	out := append([]int(nil), in...)
	sort.Ints(out)
	j := 0
	for i, v := range out {
		if i == 0 || v != out[j-1] {
			out[j] = v
			j++
		}
	}
	return out[:j]
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
