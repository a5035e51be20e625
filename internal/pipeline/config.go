package pipeline

import "time"

// Config holds every tuning bound the pipeline uses. It replaces scattered
// module-level constants so tests can tighten budgets without touching
// globals. DefaultConfig documents production values.
type Config struct {
	// Media selector
	QueryBudget       int           // Max search queries per media kind
	PageSize          int           // Max results requested per query
	TargetPoolSize    int           // Stop searching once this many unique assets are collected
	MinPoolSize       int           // Hard floor; below this the caller falls back to another media kind
	SearchTimeout     time.Duration // Per-query request cap
	MinVideoDuration  float64       // Videos shorter than this (seconds) are discarded outright
	GoodVideoDuration float64       // Preferred minimum duration for the strictest relaxation tier
	AIImageCount      int           // Background images generated per job in "ai" mode

	// Timeline builder
	PreferredClipSec  float64 // Target background clip length
	MinClipSec        float64 // Shorter remainders merge into the previous clip
	TransitionOverlap float64 // Consecutive clips overlap by this much so transitions never show empty frame
	MinCursorAdvance  float64 // Floor on per-clip cursor advance, guarantees loop termination
	MaxClips          int     // Hard safety cap on background clip count

	// Render polling
	PollInterval    time.Duration // Fixed interval between status checks
	MaxPollAttempts int           // Poll budget; exhausting it is a timeout, not a provider failure

	// Materialization
	DownloadTimeout time.Duration // Cap on fetching the finished render

	// Credits
	RenderTokenCost int // Tokens debited per attempt, refunded in full on failure
}

// DefaultConfig returns production tuning.
func DefaultConfig() Config {
	return Config{
		QueryBudget:       5,
		PageSize:          30,
		TargetPoolSize:    25,
		MinPoolSize:       3,
		SearchTimeout:     10 * time.Second,
		MinVideoDuration:  3,
		GoodVideoDuration: 8,
		AIImageCount:      6,

		PreferredClipSec:  4,
		MinClipSec:        1,
		TransitionOverlap: 0.5,
		MinCursorAdvance:  0.5,
		MaxClips:          100,

		PollInterval:    5 * time.Second,
		MaxPollAttempts: 120,

		DownloadTimeout: 120 * time.Second,

		RenderTokenCost: 5,
	}
}
