package features

import (
	"encoding/json"
	"sort"
)

// UnknownLabel is the reserved vocabulary slot for values unseen at training time.
const UnknownLabel = "UNKNOWN"

// Encoder is an immutable label encoder for one categorical column.
// Classes are kept in sorted order, so indices do not depend on row order.
type Encoder struct {
	classes []string
	index   map[string]int
}

// FitEncoder builds an encoder from observed values plus the UNKNOWN label.
func FitEncoder(values []string) *Encoder {
	set := make(map[string]struct{}, len(values)+1)
	for _, v := range values {
		set[v] = struct{}{}
	}
	set[UnknownLabel] = struct{}{}

	classes := make([]string, 0, len(set))
	for v := range set {
		classes = append(classes, v)
	}
	sort.Strings(classes)
	return newEncoder(classes)
}

func newEncoder(classes []string) *Encoder {
	index := make(map[string]int, len(classes))
	for i, c := range classes {
		index[c] = i
	}
	return &Encoder{classes: classes, index: index}
}

// Classes returns a copy of the ordered vocabulary.
func (e *Encoder) Classes() []string {
	return append([]string(nil), e.classes...)
}

// UnknownIndex returns the UNKNOWN slot, or 0 when the vocabulary has none.
func (e *Encoder) UnknownIndex() int {
	if idx, ok := e.index[UnknownLabel]; ok {
		return idx
	}
	return 0
}

// Encode maps a value to its index, degrading to the UNKNOWN slot.
func (e *Encoder) Encode(value string) int {
	if idx, ok := e.index[value]; ok {
		return idx
	}
	return e.UnknownIndex()
}

// MarshalJSON persists the vocabulary in index order.
func (e *Encoder) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.classes)
}

// UnmarshalJSON restores a vocabulary exactly as stored, without re-sorting.
func (e *Encoder) UnmarshalJSON(data []byte) error {
	var classes []string
	if err := json.Unmarshal(data, &classes); err != nil {
		return err
	}
	*e = *newEncoder(classes)
	return nil
}
