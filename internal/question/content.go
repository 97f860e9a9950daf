package question

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"evalbank/internal/apperr"
)

// Canonical content and answer-key shapes per question type. Indices in
// answer keys always refer to canonical (unshuffled) positions.

type Option struct {
	Text string `json:"text"`
}

type ChoiceContent struct {
	Options  []Option `json:"options"`
	Multiple bool     `json:"multiple"`
}

type ChoiceKey struct {
	Correct []int `json:"correct"`
}

type TrueFalseKey struct {
	Correct *bool `json:"correct"`
}

type Blank struct {
	ID string `json:"id"`
}

type BlanksContent struct {
	Text   string  `json:"text"`
	Blanks []Blank `json:"blanks"`
}

type BlankAnswer struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type BlanksKey struct {
	Blanks []BlankAnswer `json:"blanks"`
}

type NumericKey struct {
	Value     *float64 `json:"value"`
	Tolerance float64  `json:"tolerance"`
}

type OrderingContent struct {
	Items []Option `json:"items"`
}

type OrderingKey struct {
	Order []int `json:"order"`
}

type MatchItem struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type MatchingContent struct {
	Left  []MatchItem `json:"left"`
	Right []MatchItem `json:"right"`
}

type Pair struct {
	Left  string `json:"left"`
	Right string `json:"right"`
}

type MatchingKey struct {
	Pairs []Pair `json:"pairs"`
}

func invalid(field, format string, args ...interface{}) error {
	return apperr.Validation(field, fmt.Sprintf(format, args...))
}

func decodeStrict(raw json.RawMessage, dst interface{}) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return fmt.Errorf("empty document")
	}
	return json.Unmarshal(raw, dst)
}

func isEmptyJSON(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null" || s == "{}"
}

// ValidateContent checks content and answer key against the schema of t.
func ValidateContent(t Type, content, key json.RawMessage) error {
	switch t {
	case TypeChoice:
		c, err := ParseChoiceContent(content)
		if err != nil {
			return invalid("content", "%v", err)
		}
		k, err := ParseChoiceKey(key, len(c.Options))
		if err != nil {
			return invalid("answer_key", "%v", err)
		}
		if !c.Multiple && len(k.Correct) != 1 {
			return invalid("answer_key", "single-answer question needs exactly one correct option")
		}
	case TypeTrueFalse:
		if _, err := ParseTrueFalseKey(key); err != nil {
			return invalid("answer_key", "%v", err)
		}
	case TypeBlanks:
		c, err := ParseBlanksContent(content)
		if err != nil {
			return invalid("content", "%v", err)
		}
		k, err := ParseBlanksKey(key)
		if err != nil {
			return invalid("answer_key", "%v", err)
		}
		expected := make(map[string]struct{}, len(k))
		for id := range k {
			expected[id] = struct{}{}
		}
		for _, b := range c.Blanks {
			if _, ok := expected[b.ID]; !ok {
				return invalid("answer_key", "blank %q has no expected text", b.ID)
			}
			delete(expected, b.ID)
		}
		if len(expected) > 0 {
			return invalid("answer_key", "answer key references unknown blanks")
		}
	case TypeNumeric:
		if _, err := ParseNumericKey(key); err != nil {
			return invalid("answer_key", "%v", err)
		}
	case TypeOrdering:
		c, err := ParseOrderingContent(content)
		if err != nil {
			return invalid("content", "%v", err)
		}
		if _, err := ParseOrderingKey(key, len(c.Items)); err != nil {
			return invalid("answer_key", "%v", err)
		}
	case TypeMatching:
		c, err := ParseMatchingContent(content)
		if err != nil {
			return invalid("content", "%v", err)
		}
		if _, err := ParseMatchingKey(key, c); err != nil {
			return invalid("answer_key", "%v", err)
		}
	case TypeOpen:
		if !isEmptyJSON(key) {
			return invalid("answer_key", "open questions carry no answer key")
		}
	default:
		return invalid("type", "unsupported question type %q", t)
	}
	return nil
}

// ElementCount is the number of options or items a permutation must cover.
func ElementCount(t Type, content json.RawMessage) (int, error) {
	switch t {
	case TypeChoice:
		c, err := ParseChoiceContent(content)
		if err != nil {
			return 0, err
		}
		return len(c.Options), nil
	case TypeOrdering:
		c, err := ParseOrderingContent(content)
		if err != nil {
			return 0, err
		}
		return len(c.Items), nil
	default:
		return 0, nil
	}
}

func ParseChoiceContent(raw json.RawMessage) (ChoiceContent, error) {
	var c ChoiceContent
	if err := decodeStrict(raw, &c); err != nil {
		return c, fmt.Errorf("choice content: %w", err)
	}
	if len(c.Options) < 2 {
		return c, fmt.Errorf("choice content needs at least 2 options")
	}
	for i, o := range c.Options {
		if strings.TrimSpace(o.Text) == "" {
			return c, fmt.Errorf("option %d is empty", i)
		}
	}
	return c, nil
}

func ParseChoiceKey(raw json.RawMessage, optionCount int) (ChoiceKey, error) {
	var k ChoiceKey
	if err := decodeStrict(raw, &k); err != nil {
		return k, fmt.Errorf("choice key: %w", err)
	}
	if len(k.Correct) == 0 {
		return k, fmt.Errorf("choice key needs at least one correct index")
	}
	if err := checkIndexSet(k.Correct, optionCount); err != nil {
		return k, err
	}
	return k, nil
}

func ParseTrueFalseKey(raw json.RawMessage) (bool, error) {
	var k TrueFalseKey
	if err := decodeStrict(raw, &k); err != nil {
		return false, fmt.Errorf("true/false key: %w", err)
	}
	if k.Correct == nil {
		return false, fmt.Errorf("true/false key needs a boolean correct")
	}
	return *k.Correct, nil
}

func ParseBlanksContent(raw json.RawMessage) (BlanksContent, error) {
	var c BlanksContent
	if err := decodeStrict(raw, &c); err != nil {
		return c, fmt.Errorf("blanks content: %w", err)
	}
	if len(c.Blanks) == 0 {
		return c, fmt.Errorf("blanks content needs at least one blank")
	}
	seen := map[string]struct{}{}
	for i, b := range c.Blanks {
		if strings.TrimSpace(b.ID) == "" {
			return c, fmt.Errorf("blank %d has no id", i)
		}
		if _, ok := seen[b.ID]; ok {
			return c, fmt.Errorf("duplicate blank id %q", b.ID)
		}
		seen[b.ID] = struct{}{}
	}
	return c, nil
}

// ParseBlanksKey returns expected text by blank id.
func ParseBlanksKey(raw json.RawMessage) (map[string]string, error) {
	var k BlanksKey
	if err := decodeStrict(raw, &k); err != nil {
		return nil, fmt.Errorf("blanks key: %w", err)
	}
	if len(k.Blanks) == 0 {
		return nil, fmt.Errorf("blanks key is empty")
	}
	out := make(map[string]string, len(k.Blanks))
	for i, b := range k.Blanks {
		if strings.TrimSpace(b.ID) == "" {
			return nil, fmt.Errorf("blank %d has no id", i)
		}
		if _, ok := out[b.ID]; ok {
			return nil, fmt.Errorf("duplicate blank id %q", b.ID)
		}
		if strings.TrimSpace(b.Text) == "" {
			return nil, fmt.Errorf("blank %q has empty expected text", b.ID)
		}
		out[b.ID] = b.Text
	}
	return out, nil
}

func ParseNumericKey(raw json.RawMessage) (NumericKey, error) {
	var k NumericKey
	if err := decodeStrict(raw, &k); err != nil {
		return k, fmt.Errorf("numeric key: %w", err)
	}
	if k.Value == nil || math.IsNaN(*k.Value) || math.IsInf(*k.Value, 0) {
		return k, fmt.Errorf("numeric key needs a finite value")
	}
	if k.Tolerance < 0 || math.IsNaN(k.Tolerance) {
		return k, fmt.Errorf("numeric tolerance must be >= 0")
	}
	return k, nil
}

func ParseOrderingContent(raw json.RawMessage) (OrderingContent, error) {
	var c OrderingContent
	if err := decodeStrict(raw, &c); err != nil {
		return c, fmt.Errorf("ordering content: %w", err)
	}
	if len(c.Items) < 2 {
		return c, fmt.Errorf("ordering content needs at least 2 items")
	}
	return c, nil
}

func ParseOrderingKey(raw json.RawMessage, itemCount int) (OrderingKey, error) {
	var k OrderingKey
	if err := decodeStrict(raw, &k); err != nil {
		return k, fmt.Errorf("ordering key: %w", err)
	}
	if len(k.Order) != itemCount {
		return k, fmt.Errorf("ordering key must list all %d items", itemCount)
	}
	if err := checkIndexSet(k.Order, itemCount); err != nil {
		return k, err
	}
	return k, nil
}

func ParseMatchingContent(raw json.RawMessage) (MatchingContent, error) {
	var c MatchingContent
	if err := decodeStrict(raw, &c); err != nil {
		return c, fmt.Errorf("matching content: %w", err)
	}
	if len(c.Left) == 0 || len(c.Right) == 0 {
		return c, fmt.Errorf("matching content needs left and right items")
	}
	for _, side := range [][]MatchItem{c.Left, c.Right} {
		seen := map[string]struct{}{}
		for _, it := range side {
			if strings.TrimSpace(it.ID) == "" {
				return c, fmt.Errorf("matching item without id")
			}
			if _, ok := seen[it.ID]; ok {
				return c, fmt.Errorf("duplicate matching id %q", it.ID)
			}
			seen[it.ID] = struct{}{}
		}
	}
	return c, nil
}

func ParseMatchingKey(raw json.RawMessage, c MatchingContent) (MatchingKey, error) {
	var k MatchingKey
	if err := decodeStrict(raw, &k); err != nil {
		return k, fmt.Errorf("matching key: %w", err)
	}
	if len(k.Pairs) == 0 {
		return k, fmt.Errorf("matching key needs at least one pair")
	}
	left := idSet(c.Left)
	right := idSet(c.Right)
	used := map[string]struct{}{}
	for _, p := range k.Pairs {
		if _, ok := left[p.Left]; !ok {
			return k, fmt.Errorf("unknown left id %q", p.Left)
		}
		if _, ok := right[p.Right]; !ok {
			return k, fmt.Errorf("unknown right id %q", p.Right)
		}
		if _, ok := used[p.Left]; ok {
			return k, fmt.Errorf("left id %q paired twice", p.Left)
		}
		used[p.Left] = struct{}{}
	}
	return k, nil
}

func idSet(items []MatchItem) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, it := range items {
		out[it.ID] = struct{}{}
	}
	return out
}

func checkIndexSet(idx []int, n int) error {
	seen := make(map[int]struct{}, len(idx))
	for _, i := range idx {
		if i < 0 || i >= n {
			return fmt.Errorf("index %d out of range [0,%d)", i, n)
		}
		if _, ok := seen[i]; ok {
			return fmt.Errorf("duplicate index %d", i)
		}
		seen[i] = struct{}{}
	}
	return nil
}

// ValidateVersionInput checks everything about a version that does not need
// the database.
func ValidateVersionInput(in VersionInput) error {
	if !in.Type.Valid() {
		return invalid("type", "unsupported question type %q", in.Type)
	}
	if in.Difficulty < 1 || in.Difficulty > 10 {
		return invalid("difficulty", "difficulty must be between 1 and 10")
	}
	switch in.Scope {
	case ScopePartial:
		if in.PartialID == nil || *in.PartialID <= 0 {
			return invalid("partial_id", "partial_id is required for parcial scope")
		}
	case ScopeFinal:
		if in.PartialID != nil {
			return invalid("partial_id", "partial_id must be empty for final scope")
		}
	default:
		return invalid("scope", "scope must be parcial or final")
	}
	if strings.TrimSpace(in.Statement) == "" {
		return invalid("statement", "statement is required")
	}
	return ValidateContent(in.Type, in.Content, in.AnswerKey)
}
