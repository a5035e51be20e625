package models

import (
	"testing"

	"github.com/google/uuid"
)

func TestTargetDuration(t *testing.T) {
	job := &RenderJob{RequestedDurationSec: 60}
	if got := job.TargetDuration(); got != 60 {
		t.Errorf("fallback duration = %v, want 60", got)
	}

	measured := 42.7
	job.VoiceoverDurationSec = &measured
	if got := job.TargetDuration(); got != 42.7 {
		t.Errorf("measured duration = %v, want 42.7", got)
	}

	// A zero measurement is unusable, fall back to the requested value.
	zero := 0.0
	job.VoiceoverDurationSec = &zero
	if got := job.TargetDuration(); got != 60 {
		t.Errorf("duration with zero measurement = %v, want 60", got)
	}
}

func TestSettingsSnapshot(t *testing.T) {
	topic := "ocean waves"
	job := &RenderJob{
		ID:                   uuid.New(),
		AspectRatio:          "9:16",
		BackgroundMode:       BackgroundModeStock,
		BackgroundTopic:      &topic,
		RequestedDurationSec: 30,
	}

	snap := job.SettingsSnapshot()
	if snap["aspect_ratio"] != "9:16" {
		t.Errorf("aspect_ratio = %v", snap["aspect_ratio"])
	}
	if snap["background_mode"] != "stock" {
		t.Errorf("background_mode = %v", snap["background_mode"])
	}
	if snap["background_topic"] != "ocean waves" {
		t.Errorf("background_topic = %v", snap["background_topic"])
	}
	if _, present := snap["background_style"]; present {
		t.Error("unset style should be omitted from the snapshot")
	}
}

func TestJSONBRoundTrip(t *testing.T) {
	original := JSONB{"key": "value", "count": float64(3)}

	raw, err := original.Value()
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}

	var decoded JSONB
	if err := decoded.Scan(raw); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if decoded["key"] != "value" || decoded["count"] != float64(3) {
		t.Errorf("round trip mismatch: %+v", decoded)
	}

	// NULL column scans to nil.
	var nullable JSONB
	if err := nullable.Scan(nil); err != nil {
		t.Fatalf("Scan(nil) failed: %v", err)
	}
	if nullable != nil {
		t.Errorf("expected nil for NULL column, got %+v", nullable)
	}
}
