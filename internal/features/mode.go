package features

// Mode selects how the Engineer resolves statistics and encoders.
// It is either a *TrainingContext or an InferenceContext.
type Mode interface {
	featureMode()
}

// TrainingContext collects statistics and encoders while a training batch is engineered.
type TrainingContext struct {
	stats    map[string]float64
	encoders map[string]*Encoder
}

// NewTrainingContext returns an empty training context.
func NewTrainingContext() *TrainingContext {
	return &TrainingContext{
		stats:    make(map[string]float64),
		encoders: make(map[string]*Encoder),
	}
}

func (*TrainingContext) featureMode() {}

// Freeze captures everything collected so far, plus the trained feature list, as a snapshot.
func (t *TrainingContext) Freeze(featureList []string) *Snapshot {
	return NewSnapshot(featureList, t.encoders, t.stats)
}

// InferenceContext replays a persisted snapshot.
type InferenceContext struct {
	Snapshot *Snapshot
}

func (InferenceContext) featureMode() {}
