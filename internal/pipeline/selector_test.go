package pipeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/ampersands-ai/mymedia-studio-sub004/internal/models"
	"github.com/ampersands-ai/mymedia-studio-sub004/internal/providers"
)

// fakeStock scripts search responses per call.
type fakeStock struct {
	videos     func(call int, query string) ([]providers.StockVideo, error)
	images     func(call int, query string) ([]providers.StockImage, error)
	videoCalls int
	imageCalls int
}

func (f *fakeStock) SearchVideos(ctx context.Context, query string, perPage int) ([]providers.StockVideo, error) {
	f.videoCalls++
	if f.videos == nil {
		return nil, nil
	}
	return f.videos(f.videoCalls, query)
}

func (f *fakeStock) SearchImages(ctx context.Context, query string, perPage int) ([]providers.StockImage, error) {
	f.imageCalls++
	if f.images == nil {
		return nil, nil
	}
	return f.images(f.imageCalls, query)
}

func stockVideos(n int, durationSec float64, portrait bool, idOffset int) []providers.StockVideo {
	hits := make([]providers.StockVideo, n)
	for i := range hits {
		w, h := 1920, 1080
		if portrait {
			w, h = 1080, 1920
		}
		hits[i] = providers.StockVideo{
			ID:          fmt.Sprintf("v%d", idOffset+i),
			URL:         fmt.Sprintf("https://cdn.test/v%d.mp4", idOffset+i),
			DurationSec: durationSec,
			Width:       w,
			Height:      h,
		}
	}
	return hits
}

func TestExtractKeywords(t *testing.T) {
	tests := []struct {
		topic string
		want  string
	}{
		{"How to Make the Perfect Coffee at Home!", "make perfect coffee home"},
		{"the a an of", ""},
		{"", ""},
		{"ocean waves crashing on rocky cliffs during golden hour sunset", "ocean waves crashing rocky cliffs"},
		{"AI, robots & the future.", "robots future"},
	}
	for _, tt := range tests {
		if got := extractKeywords(tt.topic); got != tt.want {
			t.Errorf("extractKeywords(%q) = %q, want %q", tt.topic, got, tt.want)
		}
	}
}

func TestBuildQueries(t *testing.T) {
	// Topic keywords lead when present.
	qs := buildQueries("city skyline timelapse", "nature")
	if qs[0] != "city skyline timelapse" {
		t.Errorf("primary query = %q, want topic keywords", qs[0])
	}

	// Style's canned query leads when the topic is empty.
	qs = buildQueries("", "ocean")
	if qs[0] != styleQueries["ocean"] {
		t.Errorf("primary query = %q, want canned ocean query", qs[0])
	}

	// Neither: only the loop fallbacks.
	qs = buildQueries("", "unknown-style")
	if len(qs) != len(loopQueries) {
		t.Errorf("expected only %d loop queries, got %d", len(loopQueries), len(qs))
	}
}

func TestCustomAssetShortCircuitsSearch(t *testing.T) {
	stock := &fakeStock{}
	sel := NewSelector(stock, DefaultConfig())

	assets, err := sel.SelectBackgrounds(context.Background(), SelectionRequest{
		TargetDuration: 30,
		CustomAssetURL: "https://cdn.test/custom.mp4",
		AspectRatio:    "9:16",
		Kind:           models.MediaKindVideo,
	})
	if err != nil {
		t.Fatalf("selection failed: %v", err)
	}
	if len(assets) != 1 || assets[0].URL != "https://cdn.test/custom.mp4" {
		t.Fatalf("unexpected assets: %+v", assets)
	}
	if assets[0].DurationSec != customAssetDuration {
		t.Errorf("custom asset duration = %v, want %v", assets[0].DurationSec, customAssetDuration)
	}
	if stock.videoCalls != 0 || stock.imageCalls != 0 {
		t.Errorf("custom asset should not hit the provider (%d video, %d image calls)", stock.videoCalls, stock.imageCalls)
	}
}

func TestSelectorStopsAtTargetPoolSize(t *testing.T) {
	stock := &fakeStock{
		videos: func(call int, query string) ([]providers.StockVideo, error) {
			return stockVideos(30, 10, true, call*100), nil
		},
	}
	sel := NewSelector(stock, DefaultConfig())

	assets, err := sel.SelectBackgrounds(context.Background(), SelectionRequest{
		TargetDuration: 30,
		Topic:          "mountain sunrise",
		AspectRatio:    "9:16",
		Kind:           models.MediaKindVideo,
	})
	if err != nil {
		t.Fatalf("selection failed: %v", err)
	}
	if len(assets) != DefaultConfig().TargetPoolSize {
		t.Errorf("pool size = %d, want %d", len(assets), DefaultConfig().TargetPoolSize)
	}
	if stock.videoCalls != 1 {
		t.Errorf("expected one query to fill the pool, got %d", stock.videoCalls)
	}
}

func TestSelectorDeduplicatesByProviderID(t *testing.T) {
	// Every query returns the same three hits.
	stock := &fakeStock{
		videos: func(call int, query string) ([]providers.StockVideo, error) {
			return stockVideos(3, 10, true, 0), nil
		},
	}
	sel := NewSelector(stock, DefaultConfig())

	assets, err := sel.SelectBackgrounds(context.Background(), SelectionRequest{
		Topic:       "sunset",
		AspectRatio: "9:16",
		Kind:        models.MediaKindVideo,
	})
	if err != nil {
		t.Fatalf("selection failed: %v", err)
	}
	if len(assets) != 3 {
		t.Errorf("expected 3 unique assets after dedupe, got %d", len(assets))
	}
	// All queries in the budget should have been burned looking for more.
	if stock.videoCalls != DefaultConfig().QueryBudget {
		t.Errorf("expected full query budget %d, got %d calls", DefaultConfig().QueryBudget, stock.videoCalls)
	}
}

func TestSelectorDiscardsTooShortVideos(t *testing.T) {
	stock := &fakeStock{
		videos: func(call int, query string) ([]providers.StockVideo, error) {
			hits := stockVideos(5, 10, true, 0)
			hits = append(hits, stockVideos(5, 1, true, 100)...) // below MinVideoDuration
			return hits, nil
		},
	}
	sel := NewSelector(stock, DefaultConfig())

	assets, err := sel.SelectBackgrounds(context.Background(), SelectionRequest{
		Topic:       "sunset",
		AspectRatio: "9:16",
		Kind:        models.MediaKindVideo,
	})
	if err != nil {
		t.Fatalf("selection failed: %v", err)
	}
	for _, a := range assets {
		if a.DurationSec < DefaultConfig().MinVideoDuration {
			t.Errorf("asset %s with duration %v should have been discarded", a.ProviderID, a.DurationSec)
		}
	}
}

func TestSelectorFailsWhenAllQueriesError(t *testing.T) {
	stock := &fakeStock{
		videos: func(call int, query string) ([]providers.StockVideo, error) {
			return nil, fmt.Errorf("provider down")
		},
	}
	sel := NewSelector(stock, DefaultConfig())

	_, err := sel.SelectBackgrounds(context.Background(), SelectionRequest{
		Topic:       "sunset",
		AspectRatio: "9:16",
		Kind:        models.MediaKindVideo,
	})
	if err == nil {
		t.Fatal("expected error when every query fails")
	}
	if stock.videoCalls != DefaultConfig().QueryBudget {
		t.Errorf("expected the full budget of %d attempts, got %d", DefaultConfig().QueryBudget, stock.videoCalls)
	}
}

func TestSelectorErrorsBelowMinPool(t *testing.T) {
	stock := &fakeStock{
		videos: func(call int, query string) ([]providers.StockVideo, error) {
			if call == 1 {
				return stockVideos(2, 10, true, 0), nil
			}
			return nil, nil
		},
	}
	sel := NewSelector(stock, DefaultConfig())

	assets, err := sel.SelectBackgrounds(context.Background(), SelectionRequest{
		Topic:       "sunset",
		AspectRatio: "9:16",
		Kind:        models.MediaKindVideo,
	})
	if err == nil {
		t.Fatal("expected error for pool below minimum")
	}
	// The undersized pool still comes back so the caller can build a hybrid.
	if len(assets) != 2 {
		t.Errorf("expected the partial pool to be returned, got %d assets", len(assets))
	}
}

func TestRelaxationTiers(t *testing.T) {
	cfg := DefaultConfig()
	sel := NewSelector(&fakeStock{}, cfg)

	landscape := func(d float64) models.BackgroundAsset {
		return models.BackgroundAsset{Kind: "video", DurationSec: d, Portrait: false}
	}
	portrait := func(d float64) models.BackgroundAsset {
		return models.BackgroundAsset{Kind: "video", DurationSec: d, Portrait: true}
	}

	// Enough good portrait assets: strictest tier holds, landscape filtered out.
	pool := []models.BackgroundAsset{portrait(10), portrait(12), portrait(9), landscape(10)}
	usable := sel.relaxToUsablePool(pool, true)
	if len(usable) != 3 {
		t.Errorf("strict tier: got %d assets, want 3", len(usable))
	}

	// Too few good portraits: relaxes to portrait + minimum duration.
	pool = []models.BackgroundAsset{portrait(4), portrait(5), portrait(10), landscape(10)}
	usable = sel.relaxToUsablePool(pool, true)
	if len(usable) != 3 {
		t.Errorf("duration-relaxed tier: got %d assets, want 3", len(usable))
	}
	for _, a := range usable {
		if !a.Portrait {
			t.Error("duration-relaxed tier should still filter orientation")
		}
	}

	// No portraits at all: orientation is dropped.
	pool = []models.BackgroundAsset{landscape(10), landscape(9), landscape(8)}
	usable = sel.relaxToUsablePool(pool, true)
	if len(usable) != 3 {
		t.Errorf("orientation-relaxed tier: got %d assets, want 3", len(usable))
	}

	// Nothing passes any tier: the full fetched pool comes back.
	pool = []models.BackgroundAsset{portrait(1), portrait(2)}
	usable = sel.relaxToUsablePool(pool, true)
	if len(usable) != 2 {
		t.Errorf("last resort: got %d assets, want the full pool of 2", len(usable))
	}
}

func TestCollectImagesDeduplicatesByURL(t *testing.T) {
	stock := &fakeStock{
		images: func(call int, query string) ([]providers.StockImage, error) {
			return []providers.StockImage{
				{URL: "https://cdn.test/a.jpg"},
				{URL: "https://cdn.test/b.jpg"},
				{URL: "https://cdn.test/a.jpg"},
			}, nil
		},
	}
	sel := NewSelector(stock, DefaultConfig())

	assets, err := sel.SelectBackgrounds(context.Background(), SelectionRequest{
		Topic:       "sunset",
		AspectRatio: "9:16",
		Kind:        models.MediaKindImage,
	})
	if err != nil {
		t.Fatalf("selection failed: %v", err)
	}
	if len(assets) != 2 {
		t.Errorf("expected 2 unique images, got %d", len(assets))
	}
	for _, a := range assets {
		if a.Kind != "image" || !a.Portrait {
			t.Errorf("unexpected image asset: %+v", a)
		}
	}
}
