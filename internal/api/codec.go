package api

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-leads/internal/models"
)

// PredictRequest uploads one CSV file for scoring. Content is base64 in the payload.
type PredictRequest struct {
	Filename string `json:"filename"`
	Content  []byte `json:"content"`
}

// TrainRequest uploads one CSV file for training.
type TrainRequest struct {
	Filename string `json:"filename"`
	Content  []byte `json:"content"`
	Target   string `json:"target,omitempty"`
}

// AnalyzeRequest uploads one CSV file for exploration.
type AnalyzeRequest struct {
	Filename string `json:"filename"`
	Content  []byte `json:"content"`
}

// GetRunRequest selects one prediction run.
type GetRunRequest struct {
	RunID int64 `json:"run_id"`
}

// GetRunResponse is a stored run with its leads and, when still held, the full result.
type GetRunResponse struct {
	Run    models.PredictionRun     `json:"run"`
	Leads  []models.LeadRecord      `json:"leads"`
	Result *models.PredictionResult `json:"result,omitempty"`
}

// ListRunsResponse lists runs newest first.
type ListRunsResponse struct {
	Runs []models.PredictionRun `json:"runs"`
}

// SearchLeadsRequest is a free-text lead query.
type SearchLeadsRequest struct {
	Query string `json:"query"`
}

// SearchLeadsResponse holds the matching leads.
type SearchLeadsResponse struct {
	Leads []models.LeadRecord `json:"leads"`
}

// ListNotificationsRequest pages notifications.
type ListNotificationsRequest struct {
	Limit      int  `json:"limit,omitempty"`
	UnreadOnly bool `json:"unread_only,omitempty"`
}

// ListNotificationsResponse holds notifications newest first.
type ListNotificationsResponse struct {
	Notifications []models.Notification `json:"notifications"`
}

// MarkNotificationReadRequest selects one notification.
type MarkNotificationReadRequest struct {
	ID int64 `json:"id"`
}

// Ack acknowledges a state change.
type Ack struct {
	OK bool `json:"ok"`
}

// Upload converts the request into the domain upload.
func (r PredictRequest) Upload() models.Upload {
	return models.Upload{Filename: r.Filename, Content: r.Content}
}

// ToStruct encodes v through its JSON form.
func ToStruct(v any) (*structpb.Struct, error) {
	if v == nil {
		return &structpb.Struct{Fields: map[string]*structpb.Value{}}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("payload is not an object: %w", err)
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return s, nil
}

// FromStruct decodes s into out through its JSON form.
func FromStruct(s *structpb.Struct, out any) error {
	if s == nil {
		return fmt.Errorf("payload is nil")
	}
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
