package engine

import (
	"fmt"
	"strings"

	"github.com/miradorstack/mirador-leads/internal/features"
	"github.com/miradorstack/mirador-leads/internal/models"
)

// Medians used when the snapshot carries none.
const (
	defaultTimeOnSiteMedian   = 120
	defaultPagesVisitedMedian = 3
)

var highValueSources = map[string]struct{}{"referral": {}, "organic": {}, "google": {}}

// explainer renders the rule-based explanation for each lead of one batch.
type explainer struct {
	frame     *models.Frame
	tosMedian float64
	pvMedian  float64
	tos       *models.Column
	pv        *models.Column
	meeting   *models.Column
	email     *models.Column
	source    *models.Column
}

func newExplainer(frame *models.Frame, snapshot *features.Snapshot) *explainer {
	e := &explainer{
		frame:     frame,
		tosMedian: snapshot.StatOr(features.StatKey(features.ColTimeOnSite, "median"), defaultTimeOnSiteMedian),
		pvMedian:  snapshot.StatOr(features.StatKey(features.ColPagesVisited, "median"), defaultPagesVisitedMedian),
	}
	e.tos, _ = frame.Lookup(features.ColTimeOnSite)
	e.pv, _ = frame.Lookup(features.ColPagesVisited)
	e.meeting, _ = frame.Lookup(features.ColMeetingBooked)
	e.email, _ = frame.Lookup(features.ColEmailOpened)
	e.source, _ = frame.Lookup("Source")
	return e
}

func value(col *models.Column, i int) float64 {
	if col == nil {
		return 0
	}
	v, _ := col.Float(i)
	return v
}

func (e *explainer) explain(i int, score float64, priority models.Priority) string {
	tos, pv := value(e.tos, i), value(e.pv, i)
	var reasons []string
	limit := 2

	switch priority {
	case models.PriorityHigh:
		if tos > e.tosMedian {
			reasons = append(reasons, fmt.Sprintf("high engagement (%ds > avg %ds)", int(tos), int(e.tosMedian)))
		}
		if pv > e.pvMedian {
			reasons = append(reasons, fmt.Sprintf("visited %d pages (avg %d)", int(pv), int(e.pvMedian)))
		}
		if value(e.meeting, i) > 0 {
			reasons = append(reasons, "booked a meeting")
		} else if value(e.email, i) > 0 {
			reasons = append(reasons, "opened emails")
		}
		if e.source != nil {
			if src, ok := e.source.Text(i); ok {
				if _, hv := highValueSources[strings.ToLower(src)]; hv {
					reasons = append(reasons, fmt.Sprintf("high value source (%s)", src))
				}
			}
		}
		if len(reasons) == 0 {
			reasons = append(reasons,
				fmt.Sprintf("strong AI confidence (%d%% match)", int(score*100)),
				"behaves like top 10% of customers")
		}
	case models.PriorityMedium:
		if tos > e.tosMedian {
			reasons = append(reasons, fmt.Sprintf("good browsing time (%ds)", int(tos)))
		} else if pv > 1 {
			reasons = append(reasons, "multiple page visits")
		}
		if len(reasons) == 0 {
			reasons = append(reasons, "showing initial interest", fmt.Sprintf("moderate AI score (%d%%)", int(score*100)))
		}
	default:
		reasons = append(reasons, "low engagement detected")
		limit = 1
	}

	if len(reasons) > limit {
		reasons = reasons[:limit]
	}
	return fmt.Sprintf("%s Priority: %s.", priority, strings.Join(reasons, ", "))
}
