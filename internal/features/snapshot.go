package features

import "encoding/json"

// StatKey names a persisted statistic, e.g. TimeOnSite_median.
func StatKey(column, stat string) string {
	return column + "_" + stat
}

// Snapshot is the immutable feature contract shared by training and inference:
// the ordered feature list, the per-column encoders and the training statistics.
type Snapshot struct {
	features []string
	encoders map[string]*Encoder
	stats    map[string]float64
}

// NewSnapshot copies its inputs into a new immutable snapshot.
func NewSnapshot(features []string, encoders map[string]*Encoder, stats map[string]float64) *Snapshot {
	s := &Snapshot{
		features: append([]string(nil), features...),
		encoders: make(map[string]*Encoder, len(encoders)),
		stats:    make(map[string]float64, len(stats)),
	}
	for k, v := range encoders {
		s.encoders[k] = v
	}
	for k, v := range stats {
		s.stats[k] = v
	}
	return s
}

// Features returns a copy of the ordered trained feature list.
func (s *Snapshot) Features() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.features...)
}

// Encoder returns the encoder fitted for a column.
func (s *Snapshot) Encoder(column string) (*Encoder, bool) {
	if s == nil {
		return nil, false
	}
	enc, ok := s.encoders[column]
	return enc, ok
}

// Stat returns a persisted statistic.
func (s *Snapshot) Stat(key string) (float64, bool) {
	if s == nil {
		return 0, false
	}
	v, ok := s.stats[key]
	return v, ok
}

// StatOr returns a persisted statistic or the fallback.
func (s *Snapshot) StatOr(key string, fallback float64) float64 {
	if v, ok := s.Stat(key); ok {
		return v
	}
	return fallback
}

type snapshotWire struct {
	Features []string            `json:"features"`
	Encoders map[string]*Encoder `json:"encoders"`
	Stats    map[string]float64  `json:"stats,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(snapshotWire{Features: s.features, Encoders: s.encoders, Stats: s.stats})
}

// UnmarshalJSON implements json.Unmarshaler. Snapshots written before statistics
// were persisted decode with an empty statistics map.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var wire snapshotWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*s = *NewSnapshot(wire.Features, wire.Encoders, wire.Stats)
	return nil
}
