package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-leads/internal/features"
	"github.com/miradorstack/mirador-leads/internal/models"
)

// Default actions used when no rule matches.
const (
	DefaultHighAction  = "Contact immediately"
	DefaultOtherAction = "Nurture"
)

// Signals a rule can require.
const (
	SignalMeetingBooked = "meeting_booked"
	SignalEmailOpened   = "email_opened"
)

// RuleEngine assigns next actions and sales notes to scored leads.
type RuleEngine struct {
	rules  []Rule
	logger *slog.Logger
}

// Rule represents a single action rule. The first matching rule wins.
type Rule struct {
	ID         string    `yaml:"id"`
	Match      RuleMatch `yaml:"match"`
	NextAction string    `yaml:"next_action"`
	SalesNotes string    `yaml:"sales_notes"`
}

// RuleMatch defines optional attributes for rule matching.
type RuleMatch struct {
	Priority       string   `yaml:"priority"`
	MinScore       float64  `yaml:"min_score"`
	Signals        []string `yaml:"signals"`
	SourceContains []string `yaml:"source_contains"`
}

// RuleConfigFile is the YAML root structure.
type RuleConfigFile struct {
	Rules []Rule `yaml:"rules"`
}

// LeadSignals are the lead attributes rules can inspect.
type LeadSignals struct {
	Priority      models.Priority
	Score         float64
	MeetingBooked bool
	EmailOpened   bool
	Source        string
}

// NewRuleEngine loads rules from the provided path. If path is empty or the file does
// not exist, returns a nil engine which applies the defaults.
func NewRuleEngine(path string, logger *slog.Logger) (*RuleEngine, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var cfg RuleConfigFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse rules %s: %w", path, err)
	}
	for i, rule := range cfg.Rules {
		if strings.TrimSpace(rule.NextAction) == "" {
			return nil, fmt.Errorf("rule %d (%s): next_action is required", i, rule.ID)
		}
		for _, sig := range rule.Match.Signals {
			if sig != SignalMeetingBooked && sig != SignalEmailOpened {
				return nil, fmt.Errorf("rule %d (%s): unknown signal %q", i, rule.ID, sig)
			}
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("action rules loaded", slog.String("path", path), slog.Int("rules", len(cfg.Rules)))
	return &RuleEngine{rules: cfg.Rules, logger: logger}, nil
}

// Recommend returns the next action and sales notes for one lead.
func (e *RuleEngine) Recommend(lead LeadSignals) (string, string) {
	if e != nil {
		for _, rule := range e.rules {
			if rule.matches(lead) {
				return rule.NextAction, rule.SalesNotes
			}
		}
	}
	if lead.Priority == models.PriorityHigh {
		return DefaultHighAction, ""
	}
	return DefaultOtherAction, ""
}

func (r Rule) matches(lead LeadSignals) bool {
	if r.Match.Priority != "" && !strings.EqualFold(r.Match.Priority, string(lead.Priority)) {
		return false
	}
	if lead.Score < r.Match.MinScore {
		return false
	}
	for _, sig := range r.Match.Signals {
		switch sig {
		case SignalMeetingBooked:
			if !lead.MeetingBooked {
				return false
			}
		case SignalEmailOpened:
			if !lead.EmailOpened {
				return false
			}
		}
	}
	if len(r.Match.SourceContains) > 0 && !containsAny(lead.Source, r.Match.SourceContains) {
		return false
	}
	return true
}

func containsAny(value string, keywords []string) bool {
	value = strings.ToLower(value)
	for _, kw := range keywords {
		if kw != "" && strings.Contains(value, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// signalsFor reads the rule inputs for row i of the raw batch.
func signalsFor(frame *models.Frame, i int, score float64, priority models.Priority) LeadSignals {
	lead := LeadSignals{Priority: priority, Score: score}
	if col, ok := frame.LookupExact(features.ColMeetingBooked); ok {
		v, _ := col.Float(i)
		lead.MeetingBooked = v > 0
	}
	if col, ok := frame.LookupExact(features.ColEmailOpened); ok {
		v, _ := col.Float(i)
		lead.EmailOpened = v > 0
	}
	if col, ok := frame.Lookup("Source"); ok {
		lead.Source, _ = col.Text(i)
	}
	return lead
}
