package utils

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)
	for _, in := range []string{"2024-05-01T10:30:00Z", "2024-05-01 10:30:00", FormatTimestamp(want.In(time.FixedZone("x", 3600)))} {
		got, err := ParseTimestamp(in)
		if err != nil {
			t.Fatalf("parse %q: %v", in, err)
		}
		if !got.Equal(want) {
			t.Fatalf("parse %q = %v", in, got)
		}
	}
	if _, err := ParseTimestamp("yesterday"); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := ParseTimestamp(""); err == nil {
		t.Fatalf("expected error for empty value")
	}
}

func TestKindOf(t *testing.T) {
	base := errors.New("boom")
	err := fmt.Errorf("wrapped: %w", NotFoundError("get run", "run 7 not found", base))
	if KindOf(err) != KindNotFound {
		t.Fatalf("expected not found kind")
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected unwrap to base error")
	}
	if KindOf(base) != KindInternal {
		t.Fatalf("expected internal for plain errors")
	}
	if !strings.Contains(err.Error(), "run 7 not found") {
		t.Fatalf("unexpected message %q", err)
	}
}

func TestNewLoggerTo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, "warn", true)
	logger.Info("hidden")
	logger.Warn("shown", slog.String("stat", "TimeOnSite_median"))
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"stat":"TimeOnSite_median"`) {
		t.Fatalf("unexpected log output %q", out)
	}
	if ParseLevel("bogus") != slog.LevelInfo {
		t.Fatalf("expected info default")
	}
}

func TestFormatTimestampSortsAsText(t *testing.T) {
	base := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)
	earlier := FormatTimestamp(base)
	later := FormatTimestamp(base.Add(500 * time.Millisecond))
	if !(earlier < later) {
		t.Fatalf("expected %q < %q", earlier, later)
	}
}
