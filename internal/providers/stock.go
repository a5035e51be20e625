package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ---------------------------------------------------------------------------
// Pixabay Stock Media Service
// Searches stock videos and images for the background track. One request per
// query; the media selector owns the query budget and per-request timeout.
// ---------------------------------------------------------------------------

const (
	pixabayBaseURL        = "https://pixabay.com"
	pixabayRequestTimeout = 10 * time.Second // Per-search cap so a slow query can't eat the whole budget
)

// StockVideo is one video search hit, reduced to the fields the selector needs.
type StockVideo struct {
	ID          string
	URL         string
	DurationSec float64
	Width       int
	Height      int
}

// StockImage is one image search hit.
type StockImage struct {
	URL string
}

// StockProvider is the stock-media search contract consumed by the media
// selector. Implementations must honor ctx cancellation.
type StockProvider interface {
	SearchVideos(ctx context.Context, query string, perPage int) ([]StockVideo, error)
	SearchImages(ctx context.Context, query string, perPage int) ([]StockImage, error)
}

// PixabayClient searches the Pixabay REST API.
type PixabayClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewPixabayClient(apiKey string) *PixabayClient {
	return &PixabayClient{
		apiKey:  apiKey,
		baseURL: pixabayBaseURL,
		client:  &http.Client{Timeout: pixabayRequestTimeout},
	}
}

// NewPixabayClientWithBaseURL is used by tests to point at a fake server.
func NewPixabayClientWithBaseURL(apiKey, baseURL string) *PixabayClient {
	c := NewPixabayClient(apiKey)
	c.baseURL = baseURL
	return c
}

// pixabayVideoResponse mirrors only the slice of the provider payload we
// read. Full hit metadata is never retained past decoding.
type pixabayVideoResponse struct {
	Hits []struct {
		ID       int64   `json:"id"`
		Duration float64 `json:"duration"`
		Videos   struct {
			Medium pixabayVideoFile `json:"medium"`
			Small  pixabayVideoFile `json:"small"`
		} `json:"videos"`
	} `json:"hits"`
}

type pixabayVideoFile struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type pixabayImageResponse struct {
	Hits []struct {
		LargeImageURL string `json:"largeImageURL"`
		WebformatURL  string `json:"webformatURL"`
	} `json:"hits"`
}

// SearchVideos queries Pixabay's video search. Each call carries its own
// timeout so a hung provider surfaces as a distinguishable error instead of
// stalling the pipeline.
func (c *PixabayClient) SearchVideos(ctx context.Context, query string, perPage int) ([]StockVideo, error) {
	params := url.Values{}
	params.Set("key", c.apiKey)
	params.Set("q", query)
	params.Set("per_page", strconv.Itoa(perPage))
	params.Set("safesearch", "true")

	var decoded pixabayVideoResponse
	if err := c.get(ctx, c.baseURL+"/api/videos/?"+params.Encode(), &decoded); err != nil {
		return nil, err
	}

	results := make([]StockVideo, 0, len(decoded.Hits))
	for _, hit := range decoded.Hits {
		file := hit.Videos.Medium
		if file.URL == "" {
			file = hit.Videos.Small
		}
		if file.URL == "" {
			continue
		}
		results = append(results, StockVideo{
			ID:          strconv.FormatInt(hit.ID, 10),
			URL:         file.URL,
			DurationSec: hit.Duration,
			Width:       file.Width,
			Height:      file.Height,
		})
	}

	return results, nil
}

// SearchImages queries Pixabay's image search.
func (c *PixabayClient) SearchImages(ctx context.Context, query string, perPage int) ([]StockImage, error) {
	params := url.Values{}
	params.Set("key", c.apiKey)
	params.Set("q", query)
	params.Set("per_page", strconv.Itoa(perPage))
	params.Set("safesearch", "true")

	var decoded pixabayImageResponse
	if err := c.get(ctx, c.baseURL+"/api/?"+params.Encode(), &decoded); err != nil {
		return nil, err
	}

	results := make([]StockImage, 0, len(decoded.Hits))
	for _, hit := range decoded.Hits {
		u := hit.LargeImageURL
		if u == "" {
			u = hit.WebformatURL
		}
		if u == "" {
			continue
		}
		results = append(results, StockImage{URL: u})
	}

	return results, nil
}

func (c *PixabayClient) get(ctx context.Context, rawURL string, out interface{}) error {
	reqCtx, cancel := context.WithTimeout(ctx, pixabayRequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, "GET", rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("pixabay request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pixabay returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse pixabay response: %w", err)
	}

	return nil
}
