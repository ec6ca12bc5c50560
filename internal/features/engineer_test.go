package features

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"math"
	"strings"
	"testing"

	"github.com/miradorstack/mirador-leads/internal/models"
)

func leadFrame(t *testing.T) *models.Frame {
	t.Helper()
	f := models.NewFrame(4)
	cols := []*models.Column{
		models.NewNumericColumn("TimeOnSite", []float64{100, 300, 50, 400}),
		models.NewNumericColumn("PagesVisited", []float64{1, 5, 3, 4}),
		models.NewNumericColumn("EmailOpened", []float64{1, 0, 1, 1}),
		models.NewNumericColumn("MeetingBooked", []float64{0, 1, 0, 2}),
		models.NewCategoricalColumn("Source", []string{"google", "referral", "", "ads"}),
	}
	for _, c := range cols {
		if err := f.Set(c); err != nil {
			t.Fatalf("set %s: %v", c.Name, err)
		}
	}
	return f
}

func floats(t *testing.T, f *models.Frame, name string) []float64 {
	t.Helper()
	col, ok := f.Column(name)
	if !ok {
		t.Fatalf("column %s missing", name)
	}
	return col.Floats
}

func TestApplyTrainingDerivesSignals(t *testing.T) {
	ctx := NewTrainingContext()
	out, err := NewEngineer(nil).Apply(leadFrame(t), ctx)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	// medians: TimeOnSite 200, PagesVisited 3.5
	if got := floats(t, out, ColIsHighlyEngaged); !equal(got, []float64{0, 1, 0, 1}) {
		t.Fatalf("unexpected IsHighlyEngaged %v", got)
	}
	if got := floats(t, out, ColEngagementScore); !equal(got, []float64{100, 1500, 150, 1600}) {
		t.Fatalf("unexpected EngagementScore %v", got)
	}
	if got := floats(t, out, ColInteractionCount); !equal(got, []float64{1, 1, 1, 3}) {
		t.Fatalf("unexpected InteractionCount %v", got)
	}
	if got := floats(t, out, ColHasBookedMeeting); !equal(got, []float64{0, 1, 0, 1}) {
		t.Fatalf("unexpected HasBookedMeeting %v", got)
	}
	if got := floats(t, out, ColBehaviorScore); math.Abs(got[3]-(4+8+3+20)) > 1e-9 {
		t.Fatalf("unexpected BehaviorScore %v", got)
	}
	if got := floats(t, out, ColTimePerPage); math.Abs(got[0]-100/(1+1e-5)) > 1e-9 {
		t.Fatalf("unexpected TimePerPage %v", got)
	}

	snap := ctx.Freeze(nil)
	if v, ok := snap.Stat("TimeOnSite_median"); !ok || v != 200 {
		t.Fatalf("expected persisted TimeOnSite median 200, got %v %v", v, ok)
	}
	if v, ok := snap.Stat("PagesVisited_median"); !ok || v != 3.5 {
		t.Fatalf("expected persisted PagesVisited median 3.5, got %v %v", v, ok)
	}

	enc, ok := snap.Encoder("Source")
	if !ok {
		t.Fatalf("expected Source encoder")
	}
	// missing cell filled with "0" before fitting; sorted vocabulary
	want := []string{"0", "UNKNOWN", "ads", "google", "referral"}
	if got := enc.Classes(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected vocabulary %v", got)
	}
	if got := floats(t, out, "Source"); !equal(got, []float64{3, 4, 0, 2}) {
		t.Fatalf("unexpected Source codes %v", got)
	}
}

func TestApplyInferenceUsesPersistedMedian(t *testing.T) {
	ctx := NewTrainingContext()
	if _, err := NewEngineer(nil).Apply(leadFrame(t), ctx); err != nil {
		t.Fatalf("train apply: %v", err)
	}
	snap := ctx.Freeze(nil)

	// A batch whose own median would differ from the training median of 200.
	batch := models.NewFrame(2)
	_ = batch.Set(models.NewNumericColumn("TimeOnSite", []float64{250, 900}))
	_ = batch.Set(models.NewNumericColumn("PagesVisited", []float64{3, 3}))

	out, err := NewEngineer(nil).Apply(batch, InferenceContext{Snapshot: snap})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := floats(t, out, ColIsHighlyEngaged); !equal(got, []float64{1, 1}) {
		t.Fatalf("expected training median to drive engagement, got %v", got)
	}
}

func TestApplyInferenceFallbackIsLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	snap := NewSnapshot(nil, nil, nil)

	_, err := NewEngineer(logger).Apply(leadFrame(t), InferenceContext{Snapshot: snap})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !strings.Contains(buf.String(), "TimeOnSite_median") {
		t.Fatalf("expected fallback warning, got %q", buf.String())
	}
}

func TestApplyInferenceUnknownCategory(t *testing.T) {
	ctx := NewTrainingContext()
	if _, err := NewEngineer(nil).Apply(leadFrame(t), ctx); err != nil {
		t.Fatalf("train apply: %v", err)
	}
	snap := ctx.Freeze(nil)

	batch := models.NewFrame(2)
	_ = batch.Set(models.NewCategoricalColumn("Source", []string{"tiktok", "google"}))
	_ = batch.Set(models.NewCategoricalColumn("Region", []string{"emea", "apac"}))

	out, err := NewEngineer(nil).Apply(batch, InferenceContext{Snapshot: snap})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	enc, _ := snap.Encoder("Source")
	if got := floats(t, out, "Source"); !equal(got, []float64{float64(enc.UnknownIndex()), 3}) {
		t.Fatalf("expected UNKNOWN bucket for unseen value, got %v", got)
	}
	if got := floats(t, out, "Region"); !equal(got, []float64{0, 0}) {
		t.Fatalf("expected untrained categorical column zeroed, got %v", got)
	}
}

func TestApplyWithoutSourceColumnsDefaultsToZero(t *testing.T) {
	batch := models.NewFrame(2)
	_ = batch.Set(models.NewCategoricalColumn("Source", []string{"a", "b"}))

	out, err := NewEngineer(nil).Apply(batch, NewTrainingContext())
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	for _, name := range DerivedColumns {
		if got := floats(t, out, name); !equal(got, []float64{0, 0}) {
			t.Fatalf("%s: expected zeros, got %v", name, got)
		}
	}
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	in := leadFrame(t)
	if _, err := NewEngineer(nil).Apply(in, NewTrainingContext()); err != nil {
		t.Fatalf("apply: %v", err)
	}
	col, _ := in.Column("Source")
	if col.Kind != models.KindCategorical || col.Valid[2] {
		t.Fatalf("input frame was modified: %+v", col)
	}
	if _, ok := in.Column(ColBehaviorScore); ok {
		t.Fatalf("derived column leaked into input frame")
	}
}

func TestSnapshotJSONRoundTripKeepsEncoderOrder(t *testing.T) {
	enc := FitEncoder([]string{"b", "a"})
	snap := NewSnapshot([]string{"x", "y"}, map[string]*Encoder{"c": enc}, map[string]float64{"x_median": 2})

	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Snapshot
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	got, _ := decoded.Encoder("c")
	if got.Encode("b") != enc.Encode("b") || got.Encode("zzz") != enc.UnknownIndex() {
		t.Fatalf("encoder changed across persistence")
	}
	if strings.Join(decoded.Features(), ",") != "x,y" {
		t.Fatalf("feature order changed: %v", decoded.Features())
	}
}

func TestLegacyEncoderWithoutUnknownMapsToZero(t *testing.T) {
	var enc Encoder
	if err := json.Unmarshal([]byte(`["a","b"]`), &enc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got := enc.Encode("c"); got != 0 {
		t.Fatalf("expected 0 for legacy vocabulary, got %d", got)
	}
}

func TestMedian(t *testing.T) {
	if Median(nil) != 0 {
		t.Fatalf("expected 0 for empty input")
	}
	if got := Median([]float64{3, 1, 2}); got != 2 {
		t.Fatalf("expected 2, got %v", got)
	}
	if got := Median([]float64{4, 1, 2, 3}); got != 2.5 {
		t.Fatalf("expected 2.5, got %v", got)
	}
}

func equal(a, b []float64) bool {
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
