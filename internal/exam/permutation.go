package exam

import (
	"encoding/json"
	"fmt"

	"evalbank/internal/question"
)

// toCanonical maps presented positions back to canonical indices using
// perm[presented] = canonical. A nil perm means positions are canonical.
func toCanonical(perm []int, positions []int, n int) ([]int, string) {
	if perm != nil && len(perm) != n {
		return nil, ReasonBadPermutation
	}
	out := make([]int, len(positions))
	for i, p := range positions {
		if p < 0 || p >= n {
			return nil, ReasonMalformedPayload
		}
		if perm == nil {
			out[i] = p
			continue
		}
		c := perm[p]
		if c < 0 || c >= n {
			return nil, ReasonBadPermutation
		}
		out[i] = c
	}
	return out, ""
}

func validPermutation(perm []int, n int) bool {
	if len(perm) != n {
		return false
	}
	seen := make([]bool, n)
	for _, c := range perm {
		if c < 0 || c >= n || seen[c] {
			return false
		}
		seen[c] = true
	}
	return true
}

// presentContent reorders the options or items of a permutable question so
// that presented[i] = canonical[perm[i]]. Other fields are kept untouched.
func presentContent(t question.Type, content json.RawMessage, perm []int) (json.RawMessage, error) {
	if perm == nil || !t.Permutable() {
		return content, nil
	}
	var field string
	switch t {
	case question.TypeChoice:
		field = "options"
	case question.TypeOrdering:
		field = "items"
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(content, &obj); err != nil {
		return nil, fmt.Errorf("decode content: %w", err)
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(obj[field], &elems); err != nil {
		return nil, fmt.Errorf("decode %s: %w", field, err)
	}
	if !validPermutation(perm, len(elems)) {
		return nil, fmt.Errorf("permutation of length %d does not fit %d %s", len(perm), len(elems), field)
	}

	reordered := make([]json.RawMessage, len(elems))
	for i, c := range perm {
		reordered[i] = elems[c]
	}
	raw, err := json.Marshal(reordered)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", field, err)
	}
	obj[field] = raw
	out, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("encode content: %w", err)
	}
	return out, nil
}

func encodePermutation(perm []int) (any, error) {
	if perm == nil {
		return nil, nil
	}
	raw, err := json.Marshal(perm)
	if err != nil {
		return nil, fmt.Errorf("encode permutation: %w", err)
	}
	return string(raw), nil
}

func decodePermutation(raw []byte) ([]int, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var perm []int
	if err := json.Unmarshal(raw, &perm); err != nil {
		return nil, fmt.Errorf("decode permutation: %w", err)
	}
	return perm, nil
}
