package pipeline

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"strings"

	"github.com/ampersands-ai/mymedia-studio-sub004/internal/models"
	"github.com/ampersands-ai/mymedia-studio-sub004/internal/providers"
)

// customAssetDuration is assumed for user-supplied background assets whose
// real length we never probe. Generous so the packing loop treats them as
// effectively unbounded.
const customAssetDuration = 60.0

// stopwords filtered out of free-text topics before they become search terms.
var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "but": true,
	"of": true, "in": true, "on": true, "at": true, "to": true, "for": true,
	"with": true, "about": true, "is": true, "are": true, "was": true,
	"were": true, "be": true, "been": true, "this": true, "that": true,
	"these": true, "those": true, "it": true, "its": true, "as": true,
	"by": true, "from": true, "how": true, "what": true, "why": true,
	"when": true, "where": true, "you": true, "your": true, "my": true,
}

const maxKeywords = 5

// styleQueries maps a background style hint to a canned primary query, used
// when the job carries no free-text topic.
var styleQueries = map[string]string{
	"nature":   "nature landscape scenic",
	"city":     "city skyline urban night",
	"ocean":    "ocean waves water",
	"abstract": "abstract motion particles",
	"tech":     "technology digital futuristic",
	"space":    "space stars galaxy",
	"minimal":  "minimal clean gradient",
}

// loopQueries are generic fallbacks appended after the primary query for
// variety once the primary is exhausted.
var loopQueries = []string{
	"abstract background loop",
	"slow motion nature",
	"aerial landscape",
	"bokeh lights",
	"clouds timelapse",
}

// SelectionRequest carries everything the media selector needs for one job.
type SelectionRequest struct {
	TargetDuration float64
	Topic          string // Free-text topic; keywords are extracted from it
	Style          string // Canned-query hint when Topic is empty
	AspectRatio    string // "9:16" wants portrait assets
	CustomAssetURL string // Short-circuits search entirely when set
	Kind           models.MediaKind
}

// Selector produces an ordered pool of background assets within fixed query,
// page-size and wall-clock budgets.
type Selector struct {
	stock providers.StockProvider
	cfg   Config
	rng   *rand.Rand // nil = package-level rand; tests inject a seeded source
}

func NewSelector(stock providers.StockProvider, cfg Config) *Selector {
	return &Selector{stock: stock, cfg: cfg}
}

// SelectBackgrounds returns a shuffled pool of assets sufficient to cover the
// timeline. Individual query failures are skipped; an empty pool after the
// full query budget is fatal for the requested media kind; the pipeline then
// falls back video → hybrid → image before failing outright.
func (s *Selector) SelectBackgrounds(ctx context.Context, req SelectionRequest) ([]models.BackgroundAsset, error) {
	if req.CustomAssetURL != "" {
		return []models.BackgroundAsset{{
			URL:         req.CustomAssetURL,
			Kind:        "video",
			DurationSec: customAssetDuration,
			Portrait:    wantsPortrait(req.AspectRatio),
		}}, nil
	}

	queries := buildQueries(req.Topic, req.Style)

	switch req.Kind {
	case models.MediaKindImage:
		return s.collectImages(ctx, queries, req)
	default:
		return s.collectVideos(ctx, queries, req)
	}
}

// buildQueries ranks search queries: extracted topic keywords (or the style's
// canned query) first, then the generic loop fallbacks.
func buildQueries(topic, style string) []string {
	var queries []string

	if primary := extractKeywords(topic); primary != "" {
		queries = append(queries, primary)
	} else if canned, ok := styleQueries[strings.ToLower(strings.TrimSpace(style))]; ok {
		queries = append(queries, canned)
	}

	queries = append(queries, loopQueries...)
	return queries
}

// extractKeywords reduces a free-text topic to at most maxKeywords meaningful
// search terms.
func extractKeywords(topic string) string {
	fields := strings.Fields(strings.ToLower(topic))
	keywords := make([]string, 0, maxKeywords)
	for _, f := range fields {
		f = strings.Trim(f, ".,!?\"'()[]:;")
		if f == "" || len(f) < 3 || stopwords[f] {
			continue
		}
		keywords = append(keywords, f)
		if len(keywords) == maxKeywords {
			break
		}
	}
	return strings.Join(keywords, " ")
}

// collectVideos runs the budgeted search loop for videos: one query at a
// time, each under its own timeout, deduplicating by provider id and keeping
// only the minimal asset fields. Stops early once the target pool size is
// reached.
func (s *Selector) collectVideos(ctx context.Context, queries []string, req SelectionRequest) ([]models.BackgroundAsset, error) {
	seen := make(map[string]bool)
	var pool []models.BackgroundAsset

	budget := s.cfg.QueryBudget
	if budget > len(queries) {
		budget = len(queries)
	}

	for i := 0; i < budget && len(pool) < s.cfg.TargetPoolSize; i++ {
		query := queries[i]

		searchCtx, cancel := context.WithTimeout(ctx, s.cfg.SearchTimeout)
		hits, err := s.stock.SearchVideos(searchCtx, query, s.cfg.PageSize)
		cancel()

		if err != nil {
			// Non-fatal: a slow or failing query just burns one unit of budget.
			log.Printf("[Selector] video query %d/%d %q failed: %v", i+1, budget, query, err)
			continue
		}

		for _, hit := range hits {
			if len(pool) >= s.cfg.TargetPoolSize {
				break
			}
			if hit.ID != "" && seen[hit.ID] {
				continue
			}
			if hit.DurationSec > 0 && hit.DurationSec < s.cfg.MinVideoDuration {
				continue
			}
			seen[hit.ID] = true
			pool = append(pool, models.BackgroundAsset{
				URL:         hit.URL,
				Kind:        "video",
				DurationSec: hit.DurationSec,
				Portrait:    hit.Height > hit.Width,
				ProviderID:  hit.ID,
			})
		}

		log.Printf("[Selector] query %q: pool now %d/%d", query, len(pool), s.cfg.TargetPoolSize)
	}

	if len(pool) == 0 {
		return nil, fmt.Errorf("no video assets found after %d queries", budget)
	}

	usable := s.relaxToUsablePool(pool, wantsPortrait(req.AspectRatio))
	if len(usable) < s.cfg.MinPoolSize {
		return usable, fmt.Errorf("video pool too small: %d assets, need %d", len(usable), s.cfg.MinPoolSize)
	}

	s.shuffle(usable)
	return usable, nil
}

// collectImages mirrors collectVideos for still images. Images carry no
// duration or orientation metadata worth filtering on, so there is no
// relaxation phase. Whatever is fetched is usable.
func (s *Selector) collectImages(ctx context.Context, queries []string, req SelectionRequest) ([]models.BackgroundAsset, error) {
	seen := make(map[string]bool)
	var pool []models.BackgroundAsset

	budget := s.cfg.QueryBudget
	if budget > len(queries) {
		budget = len(queries)
	}

	for i := 0; i < budget && len(pool) < s.cfg.TargetPoolSize; i++ {
		query := queries[i]

		searchCtx, cancel := context.WithTimeout(ctx, s.cfg.SearchTimeout)
		hits, err := s.stock.SearchImages(searchCtx, query, s.cfg.PageSize)
		cancel()

		if err != nil {
			log.Printf("[Selector] image query %d/%d %q failed: %v", i+1, budget, query, err)
			continue
		}

		for _, hit := range hits {
			if len(pool) >= s.cfg.TargetPoolSize {
				break
			}
			if seen[hit.URL] {
				continue
			}
			seen[hit.URL] = true
			pool = append(pool, models.BackgroundAsset{
				URL:      hit.URL,
				Kind:     "image",
				Portrait: wantsPortrait(req.AspectRatio),
			})
		}
	}

	if len(pool) == 0 {
		return nil, fmt.Errorf("no image assets found after %d queries", budget)
	}

	s.shuffle(pool)
	return pool, nil
}

// relaxToUsablePool applies the tiered relaxation filter: orientation + a
// generous duration first, then progressively looser criteria until the pool
// reaches the minimum usable size. Last resort is everything fetched.
func (s *Selector) relaxToUsablePool(pool []models.BackgroundAsset, portrait bool) []models.BackgroundAsset {
	tiers := []func(models.BackgroundAsset) bool{
		func(a models.BackgroundAsset) bool {
			return a.Portrait == portrait && a.DurationSec >= s.cfg.GoodVideoDuration
		},
		func(a models.BackgroundAsset) bool {
			return a.Portrait == portrait && a.DurationSec >= s.cfg.MinVideoDuration
		},
		func(a models.BackgroundAsset) bool {
			return a.DurationSec >= s.cfg.GoodVideoDuration
		},
		func(a models.BackgroundAsset) bool {
			return a.DurationSec >= s.cfg.MinVideoDuration
		},
	}

	for tier, keep := range tiers {
		var filtered []models.BackgroundAsset
		for _, a := range pool {
			if keep(a) {
				filtered = append(filtered, a)
			}
		}
		if len(filtered) >= s.cfg.MinPoolSize {
			if tier > 0 {
				log.Printf("[Selector] relaxed to tier %d: %d usable assets", tier, len(filtered))
			}
			return filtered
		}
	}

	log.Printf("[Selector] all tiers too strict, using full fetched pool (%d assets)", len(pool))
	return pool
}

// shuffle permutes the pool uniformly so repeated renders of the same job
// don't produce identical videos.
func (s *Selector) shuffle(pool []models.BackgroundAsset) {
	swap := func(i, j int) { pool[i], pool[j] = pool[j], pool[i] }
	if s.rng != nil {
		s.rng.Shuffle(len(pool), swap)
		return
	}
	rand.Shuffle(len(pool), swap)
}

func wantsPortrait(aspectRatio string) bool {
	switch aspectRatio {
	case "9:16", "4:5":
		return true
	}
	return false
}
