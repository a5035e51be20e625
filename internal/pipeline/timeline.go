package pipeline

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"

	"github.com/ampersands-ai/mymedia-studio-sub004/internal/models"
)

// ---------------------------------------------------------------------------
// Edit document
// The declarative timeline submitted to the render provider: an audio track
// carrying the voiceover under a named alias, a caption track time-synced to
// that alias, and a background track packed gaplessly from the asset pool.
// ---------------------------------------------------------------------------

// voiceoverAlias names the audio clip so the caption asset can reference it
// for automatic word timing instead of manual per-word cues.
const voiceoverAlias = "voiceover"

type Edit struct {
	Timeline Timeline `json:"timeline"`
	Output   Output   `json:"output"`
}

type Timeline struct {
	Background string  `json:"background"`
	Tracks     []Track `json:"tracks"`
}

type Track struct {
	Clips []Clip `json:"clips"`
}

type Clip struct {
	Asset      Asset       `json:"asset"`
	Start      float64     `json:"start"`
	Length     Length      `json:"length"`
	Fit        string      `json:"fit,omitempty"`
	Position   string      `json:"position,omitempty"`
	Offset     *Offset     `json:"offset,omitempty"`
	Transition *Transition `json:"transition,omitempty"`
	Alias      string      `json:"alias,omitempty"`
}

// Asset is the union of asset shapes the provider accepts; Type selects which
// optional fields apply.
type Asset struct {
	Type       string             `json:"type"` // video, image, audio, caption, title
	Src        string             `json:"src,omitempty"`
	Text       string             `json:"text,omitempty"` // title fallback shape only
	Volume     float64            `json:"volume,omitempty"`
	Font       *CaptionFont       `json:"font,omitempty"`
	Background *CaptionBackground `json:"background,omitempty"`
}

type CaptionFont struct {
	Family string `json:"family,omitempty"`
	Size   int    `json:"size,omitempty"`
	Color  string `json:"color,omitempty"`
}

type CaptionBackground struct {
	Color   string  `json:"color,omitempty"`
	Opacity float64 `json:"opacity,omitempty"`
}

type Offset struct {
	Y float64 `json:"y,omitempty"`
}

type Transition struct {
	In  string `json:"in,omitempty"`
	Out string `json:"out,omitempty"`
}

// transitionPalette is the fixed set of in/out pairs background clips draw
// from. The first clip never gets one.
var transitionPalette = []Transition{
	{In: "fade", Out: "fade"},
	{In: "slideLeft", Out: "slideLeft"},
	{In: "slideRight", Out: "slideRight"},
	{In: "wipeLeft", Out: "wipeLeft"},
	{In: "zoom", Out: "zoom"},
}

type Output struct {
	Format      string `json:"format"`
	Resolution  string `json:"resolution,omitempty"`
	AspectRatio string `json:"aspectRatio,omitempty"`
}

// Length is a clip length that is either a fixed number of seconds or the
// provider's "auto" (follow the linked source).
type Length struct {
	auto    bool
	seconds float64
}

func AutoLength() Length       { return Length{auto: true} }
func Seconds(v float64) Length { return Length{seconds: v} }

func (l Length) MarshalJSON() ([]byte, error) {
	if l.auto {
		return json.Marshal("auto")
	}
	return json.Marshal(math.Round(l.seconds*100) / 100)
}

func (l *Length) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s != "auto" {
			return fmt.Errorf("unsupported length value %q", s)
		}
		l.auto = true
		return nil
	}
	return json.Unmarshal(data, &l.seconds)
}

// ---------------------------------------------------------------------------
// Builder
// ---------------------------------------------------------------------------

// Caption styling defaults, applied field-by-field when the job's style
// leaves them unset.
const (
	defaultCaptionFont      = "Montserrat ExtraBold"
	defaultCaptionSize      = 30
	defaultCaptionColor     = "#ffffff"
	defaultCaptionBgColor   = "#000000"
	defaultCaptionBgOpacity = 0.6
	defaultCaptionPosition  = "bottom"
	defaultCaptionOffsetY   = 0.1
)

// BuildRequest carries everything the timeline builder needs for one job.
type BuildRequest struct {
	Duration     float64
	Assets       []models.BackgroundAsset
	Kind         models.MediaKind
	CaptionStyle *models.CaptionStyle
	AspectRatio  string
	VoiceoverURL string
	Rand         *rand.Rand // nil = package-level rand; tests inject a seeded source
}

// BuildEdit converts the voiceover duration, caption style and asset pool
// into a complete multi-track edit document. The background track covers
// [0, Duration) with no gaps; deliberate transition overlaps are additive.
func BuildEdit(cfg Config, req BuildRequest) (*Edit, error) {
	if req.Duration <= 0 {
		return nil, fmt.Errorf("timeline duration must be positive, got %.2f", req.Duration)
	}
	if len(req.Assets) == 0 {
		return nil, fmt.Errorf("no background assets to build timeline from")
	}
	if req.VoiceoverURL == "" {
		return nil, fmt.Errorf("voiceover URL is required")
	}

	background, err := packBackgroundTrack(cfg, req)
	if err != nil {
		return nil, err
	}

	captionTrack := Track{Clips: []Clip{buildCaptionClip(req.CaptionStyle)}}

	audioTrack := Track{Clips: []Clip{{
		Asset:  Asset{Type: "audio", Src: req.VoiceoverURL, Volume: 1},
		Start:  0,
		Length: Seconds(req.Duration),
		Alias:  voiceoverAlias,
	}}}

	return &Edit{
		Timeline: Timeline{
			Background: "#000000",
			Tracks:     []Track{captionTrack, background, audioTrack},
		},
		Output: Output{
			Format:      "mp4",
			Resolution:  "hd",
			AspectRatio: req.AspectRatio,
		},
	}, nil
}

// buildCaptionClip builds the single auto-length caption clip, styled from
// the job's caption style with defaults for every unset field. The src
// alias ties caption timing to the voiceover audio.
func buildCaptionClip(style *models.CaptionStyle) Clip {
	font := &CaptionFont{
		Family: defaultCaptionFont,
		Size:   defaultCaptionSize,
		Color:  defaultCaptionColor,
	}
	bg := &CaptionBackground{
		Color:   defaultCaptionBgColor,
		Opacity: defaultCaptionBgOpacity,
	}
	position := defaultCaptionPosition
	offsetY := defaultCaptionOffsetY

	if style != nil {
		if style.Font != nil {
			font.Family = *style.Font
		}
		if style.FontSize != nil {
			font.Size = *style.FontSize
		}
		if style.Color != nil {
			font.Color = *style.Color
		}
		if style.BackgroundColor != nil {
			bg.Color = *style.BackgroundColor
		}
		if style.BackgroundOpacity != nil {
			bg.Opacity = *style.BackgroundOpacity
		}
		if style.Position != nil {
			position = *style.Position
		}
		if style.OffsetY != nil {
			offsetY = *style.OffsetY
		}
	}

	return Clip{
		Asset: Asset{
			Type:       "caption",
			Src:        "alias://" + voiceoverAlias,
			Font:       font,
			Background: bg,
		},
		Start:    0,
		Length:   AutoLength(),
		Position: position,
		Offset:   &Offset{Y: offsetY},
	}
}

// packBackgroundTrack walks a cursor across the timeline, placing one clip
// per step. Clip length is min(preferred, remaining, the video's own length);
// remainders below the minimum clip length merge into the previous clip
// instead of becoming a sliver. Every clip after the first gets a transition
// pair and overlaps its predecessor by the transition duration, so the
// cursor advances by (length − overlap), floored to guarantee termination.
// The clip-count cap is a last-ditch guard: if hit, the final clip absorbs
// whatever timeline remains.
func packBackgroundTrack(cfg Config, req BuildRequest) (Track, error) {
	const epsilon = 1e-6

	assets := orderAssets(req.Assets, req.Kind)

	// A single asset long enough to cover everything is one clip, no transitions.
	if len(assets) == 1 && assets[0].DurationSec >= req.Duration {
		return Track{Clips: []Clip{backgroundClip(assets[0], 0, req.Duration, nil)}}, nil
	}

	pick := func(n int) int { return n % len(assets) }
	randIntn := rand.Intn
	if req.Rand != nil {
		randIntn = req.Rand.Intn
	}

	var clips []Clip
	cursor := 0.0
	step := 0

	for cursor < req.Duration-epsilon {
		if len(clips) >= cfg.MaxClips {
			// Safety cap: stretch the last clip over the remainder.
			last := &clips[len(clips)-1]
			last.Length = Seconds(req.Duration - last.Start)
			cursor = req.Duration
			break
		}

		asset := assets[pick(step)]
		step++

		remaining := req.Duration - cursor
		length := cfg.PreferredClipSec
		if remaining < length {
			length = remaining
		}
		if asset.Kind == "video" && asset.DurationSec > 0 && asset.DurationSec < length {
			length = asset.DurationSec
		}

		// Sliver merge: a clip shorter than the floor extends the previous
		// clip to the timeline end instead of being placed.
		if length < cfg.MinClipSec && len(clips) > 0 {
			last := &clips[len(clips)-1]
			last.Length = Seconds(req.Duration - last.Start)
			cursor = req.Duration
			break
		}

		var transition *Transition
		if len(clips) > 0 {
			t := transitionPalette[randIntn(len(transitionPalette))]
			transition = &t
		}

		clips = append(clips, backgroundClip(asset, cursor, length, transition))

		advance := length - cfg.TransitionOverlap
		if advance < cfg.MinCursorAdvance {
			advance = cfg.MinCursorAdvance
		}

		if cursor+length >= req.Duration-epsilon {
			// Final clip placed; it ends exactly at the timeline end.
			cursor = req.Duration
			break
		}
		cursor += advance
	}

	if len(clips) == 0 {
		return Track{}, fmt.Errorf("background packing produced no clips for duration %.2f", req.Duration)
	}

	// The last placed clip must close the timeline exactly.
	last := &clips[len(clips)-1]
	if end := last.Start + last.Length.seconds; end < req.Duration-epsilon || end > req.Duration+epsilon {
		last.Length = Seconds(req.Duration - last.Start)
	}

	return Track{Clips: clips}, nil
}

func backgroundClip(asset models.BackgroundAsset, start, length float64, transition *Transition) Clip {
	return Clip{
		Asset:      Asset{Type: asset.Kind, Src: asset.URL},
		Start:      math.Round(start*100) / 100,
		Length:     Seconds(length),
		Fit:        "cover",
		Transition: transition,
	}
}

// orderAssets arranges the pool for round-robin consumption. Hybrid mode
// plays all videos before any image so videos are exhausted before repeats.
func orderAssets(assets []models.BackgroundAsset, kind models.MediaKind) []models.BackgroundAsset {
	if kind != models.MediaKindHybrid {
		return assets
	}
	ordered := make([]models.BackgroundAsset, 0, len(assets))
	for _, a := range assets {
		if a.Kind == "video" {
			ordered = append(ordered, a)
		}
	}
	for _, a := range assets {
		if a.Kind != "video" {
			ordered = append(ordered, a)
		}
	}
	return ordered
}
