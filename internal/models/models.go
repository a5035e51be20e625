package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Enums
type RenderJobStatus string

const (
	RenderJobStatusAwaitingApproval RenderJobStatus = "awaiting_approval"
	RenderJobStatusFetchingMedia    RenderJobStatus = "fetching_media"
	RenderJobStatusAssembling       RenderJobStatus = "assembling"
	RenderJobStatusRendering        RenderJobStatus = "rendering"
	RenderJobStatusCompleted        RenderJobStatus = "completed"
	RenderJobStatusFailed           RenderJobStatus = "failed"
)

type BackgroundMode string

const (
	BackgroundModeStock BackgroundMode = "stock"
	BackgroundModeAI    BackgroundMode = "ai"
)

// MediaKind selects what the background track is built from. Hybrid mixes
// videos and images, with videos exhausted before any video repeats.
type MediaKind string

const (
	MediaKindVideo  MediaKind = "video"
	MediaKindImage  MediaKind = "image"
	MediaKindHybrid MediaKind = "hybrid"
)

type GenerationType string

const (
	GenerationTypeVideo GenerationType = "video"
)

// JSONB is a custom type for PostgreSQL JSONB columns
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}

// CaptionStyle parameterizes the caption track. All fields are optional
// pointers; nil falls back to the defaults documented in pipeline.BuildEdit.
type CaptionStyle struct {
	Font              *string  `json:"font,omitempty"`               // Default: "Montserrat ExtraBold"
	FontSize          *int     `json:"font_size,omitempty"`          // Default: 30
	Color             *string  `json:"color,omitempty"`              // Default: "#ffffff"
	BackgroundColor   *string  `json:"background_color,omitempty"`   // Default: "#000000"
	BackgroundOpacity *float64 `json:"background_opacity,omitempty"` // 0..1, default 0.6
	Position          *string  `json:"position,omitempty"`           // Default: "bottom"
	OffsetY           *float64 `json:"offset_y,omitempty"`           // Fraction of frame height, default 0.1
}

// Models

// RenderJob is one end-to-end video assembly request. Created when a user
// approves a generated voiceover; mutated by each pipeline stage; terminal at
// completed. A failed job can be reset to awaiting_approval for retry.
type RenderJob struct {
	ID                   uuid.UUID       `json:"id"`
	UserID               uuid.UUID       `json:"user_id"`
	VoiceoverURL         string          `json:"voiceover_url"`
	VoiceoverDurationSec *float64        `json:"voiceover_duration_sec,omitempty"` // Actual audio length when known
	RequestedDurationSec int             `json:"requested_duration_sec"`           // Fallback when audio length unknown
	AspectRatio          string          `json:"aspect_ratio"`                     // "9:16", "16:9", "1:1"
	CaptionStyle         *CaptionStyle   `json:"caption_style,omitempty"`
	BackgroundMode       BackgroundMode  `json:"background_mode"`
	BackgroundTopic      *string         `json:"background_topic,omitempty"` // Free-text topic for stock search
	BackgroundStyle      *string         `json:"background_style,omitempty"` // Canned-query style hint ("nature", "city", ...)
	CustomAssetURL       *string         `json:"custom_asset_url,omitempty"` // User-supplied background, bypasses search
	Status               RenderJobStatus `json:"status"`
	ExternalRenderID     *string         `json:"external_render_id,omitempty"`
	TokensDebited        int             `json:"tokens_debited"` // Outstanding debit for the current attempt; 0 after refund or completion
	ErrorKind            *string         `json:"error_kind,omitempty"`
	ErrorMessage         *string         `json:"error_message,omitempty"`
	ErrorStage           *string         `json:"error_stage,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// TargetDuration returns the timeline duration in seconds: the measured
// voiceover length when known, otherwise the requested duration.
func (j *RenderJob) TargetDuration() float64 {
	if j.VoiceoverDurationSec != nil && *j.VoiceoverDurationSec > 0 {
		return *j.VoiceoverDurationSec
	}
	return float64(j.RequestedDurationSec)
}

// SettingsSnapshot captures the render settings for the GenerationRecord.
func (j *RenderJob) SettingsSnapshot() JSONB {
	snap := JSONB{
		"aspect_ratio":    j.AspectRatio,
		"background_mode": string(j.BackgroundMode),
		"duration_sec":    j.TargetDuration(),
	}
	if j.BackgroundTopic != nil {
		snap["background_topic"] = *j.BackgroundTopic
	}
	if j.BackgroundStyle != nil {
		snap["background_style"] = *j.BackgroundStyle
	}
	return snap
}

// BackgroundAsset is a candidate media unit produced by the media selector.
// Transient: never persisted beyond the job's lifetime. Only the minimal
// fields are retained (url, duration, orientation) so peak memory stays flat
// while iterating provider result pages.
type BackgroundAsset struct {
	URL         string  `json:"url"`
	Kind        string  `json:"kind"` // "video" or "image"
	DurationSec float64 `json:"duration_sec,omitempty"`
	Portrait    bool    `json:"portrait"`
	ProviderID  string  `json:"provider_id,omitempty"` // For de-duplication
}

// GenerationRecord is the durable artifact of a completed render.
// Immutable after creation except for audit-log linking.
type GenerationRecord struct {
	ID          uuid.UUID      `json:"id"`
	UserID      uuid.UUID      `json:"user_id"`
	JobID       uuid.UUID      `json:"job_id"`
	Type        GenerationType `json:"type"`
	StoragePath string         `json:"storage_path"`
	Settings    JSONB          `json:"settings,omitempty"` // Snapshot of the job settings at render time
	TokenCost   int            `json:"token_cost"`
	ByteSize    *int64         `json:"byte_size,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// APICallLog is one audited exchange with an external provider.
// Payloads are stored with secrets redacted.
type APICallLog struct {
	ID           uuid.UUID  `json:"id"`
	JobID        uuid.UUID  `json:"job_id"`
	GenerationID *uuid.UUID `json:"generation_id,omitempty"` // Linked after successful materialization
	Provider     string     `json:"provider"`
	Endpoint     string     `json:"endpoint"`
	Request      JSONB      `json:"request,omitempty"`
	Response     JSONB      `json:"response,omitempty"`
	StatusCode   *int       `json:"status_code,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// DTOs for API responses

type CreateRenderJobRequest struct {
	UserID               uuid.UUID       `json:"user_id"`
	VoiceoverURL         string          `json:"voiceover_url"`
	VoiceoverDurationSec *float64        `json:"voiceover_duration_sec,omitempty"`
	RequestedDurationSec *int            `json:"requested_duration_sec,omitempty"` // Default: 60
	AspectRatio          *string         `json:"aspect_ratio,omitempty"`           // Default: "9:16"
	CaptionStyle         *CaptionStyle   `json:"caption_style,omitempty"`
	BackgroundMode       *BackgroundMode `json:"background_mode,omitempty"` // Default: "stock"
	BackgroundTopic      *string         `json:"background_topic,omitempty"`
	BackgroundStyle      *string         `json:"background_style,omitempty"`
	CustomAssetURL       *string         `json:"custom_asset_url,omitempty"`
}

type StartRenderRequest struct {
	JobID uuid.UUID `json:"job_id"`
}

type StartRenderResponse struct {
	JobID            uuid.UUID       `json:"job_id"`
	Status           RenderJobStatus `json:"status"`
	EstimatedSeconds int             `json:"estimated_seconds"`
}

type RenderStatusResponse struct {
	JobID        uuid.UUID       `json:"job_id"`
	Status       RenderJobStatus `json:"status"`
	ResultURL    *string         `json:"result_url,omitempty"`
	DownloadURL  *string         `json:"download_url,omitempty"`
	ErrorKind    *string         `json:"error_kind,omitempty"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	Retryable    *bool           `json:"retryable,omitempty"`
}
