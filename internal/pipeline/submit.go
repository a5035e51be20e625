package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ampersands-ai/mymedia-studio-sub004/internal/models"
	"github.com/ampersands-ai/mymedia-studio-sub004/internal/providers"
	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Render submission with caption-asset fallback shapes, and bounded polling.
// ---------------------------------------------------------------------------

// editTransform is one attempt variant: a pure function producing the edit
// document shape for that attempt. Variants are tried in order, an explicit
// list instead of nested retry conditionals.
type editTransform struct {
	name  string
	apply func(Edit) Edit
}

// captionVariants is the ordered list of caption-asset shapes tried when the
// provider rejects the document over the caption asset. Older provider
// schemas choke on styled captions; the reduced shapes keep the render alive.
var captionVariants = []editTransform{
	{name: "styled_caption", apply: func(e Edit) Edit { return e }},
	{name: "plain_caption", apply: stripCaptionStyling},
	{name: "no_caption", apply: dropCaptionTrack},
}

// stripCaptionStyling keeps the caption clip but removes font/background
// styling, leaving only the alias link.
func stripCaptionStyling(e Edit) Edit {
	out := cloneEdit(e)
	for ti := range out.Timeline.Tracks {
		for ci := range out.Timeline.Tracks[ti].Clips {
			clip := &out.Timeline.Tracks[ti].Clips[ci]
			if clip.Asset.Type == "caption" {
				clip.Asset.Font = nil
				clip.Asset.Background = nil
				clip.Position = ""
				clip.Offset = nil
			}
		}
	}
	return out
}

// dropCaptionTrack removes the caption track entirely: last resort, the
// render goes out without captions rather than failing.
func dropCaptionTrack(e Edit) Edit {
	out := cloneEdit(e)
	tracks := out.Timeline.Tracks[:0]
	for _, t := range out.Timeline.Tracks {
		hasCaption := false
		for _, c := range t.Clips {
			if c.Asset.Type == "caption" {
				hasCaption = true
				break
			}
		}
		if !hasCaption {
			tracks = append(tracks, t)
		}
	}
	out.Timeline.Tracks = tracks
	return out
}

// cloneEdit deep-copies the track/clip structure so transforms never mutate
// the caller's document.
func cloneEdit(e Edit) Edit {
	out := e
	out.Timeline.Tracks = make([]Track, len(e.Timeline.Tracks))
	for i, t := range e.Timeline.Tracks {
		clips := make([]Clip, len(t.Clips))
		copy(clips, t.Clips)
		out.Timeline.Tracks[i] = Track{Clips: clips}
	}
	return out
}

// isCaptionRejection reports whether a submission rejection body points at
// the caption asset shape, which is worth retrying with a reduced shape.
func isCaptionRejection(err *providers.SubmissionError) bool {
	if err.StatusCode < 400 || err.StatusCode >= 500 {
		return false
	}
	return strings.Contains(strings.ToLower(err.Body), "caption")
}

// submitWithFallback tries each caption variant in order. Every attempt,
// success or failure, lands in the audit log with secrets redacted. A
// rejection that doesn't implicate the caption asset is fatal immediately.
func (p *Pipeline) submitWithFallback(ctx context.Context, job *models.RenderJob, edit *Edit) (string, error) {
	var lastErr error

	for i, variant := range captionVariants {
		doc := variant.apply(*edit)

		renderID, err := p.render.SubmitRender(ctx, doc)
		p.auditSubmission(ctx, job.ID, variant.name, doc, renderID, err)

		if err == nil {
			if i > 0 {
				log.Printf("[Pipeline] job %s: submission accepted with fallback shape %q", job.ID, variant.name)
			}
			return renderID, nil
		}

		lastErr = err

		var subErr *providers.SubmissionError
		if errors.As(err, &subErr) {
			if isCaptionRejection(subErr) && i < len(captionVariants)-1 {
				log.Printf("[Pipeline] job %s: caption shape %q rejected, trying next variant", job.ID, variant.name)
				continue
			}
			return "", newError(KindSubmissionRejected, StageSubmitting,
				fmt.Sprintf("render provider rejected the edit document (shape %q)", variant.name), err)
		}

		// Network-level failure is not a schema problem, no point mutating the document.
		return "", newError(KindProviderUnavailable, StageSubmitting, "render submission failed", err)
	}

	return "", newError(KindSubmissionRejected, StageSubmitting, "all caption fallback shapes rejected", lastErr)
}

// auditSubmission records one submission attempt. Payloads are stored
// redacted; audit failures are logged but never fail the render.
func (p *Pipeline) auditSubmission(ctx context.Context, jobID uuid.UUID, variant string, doc Edit, renderID string, submitErr error) {
	reqJSON, err := json.Marshal(doc)
	if err != nil {
		reqJSON = []byte(fmt.Sprintf(`{"marshal_error":%q}`, err.Error()))
	}

	entry := &models.APICallLog{
		ID:       uuid.New(),
		JobID:    jobID,
		Provider: "shotstack",
		Endpoint: "POST /render",
		Request: models.JSONB{
			"variant": variant,
			"edit":    json.RawMessage(p.redact(string(reqJSON))),
		},
	}

	if submitErr != nil {
		status := 0
		var subErr *providers.SubmissionError
		if errors.As(submitErr, &subErr) {
			status = subErr.StatusCode
			entry.Response = models.JSONB{"error": p.redact(subErr.Body)}
		} else {
			entry.Response = models.JSONB{"error": p.redact(submitErr.Error())}
		}
		if status != 0 {
			entry.StatusCode = &status
		}
	} else {
		ok := 201
		entry.StatusCode = &ok
		entry.Response = models.JSONB{"render_id": renderID}
	}

	if err := p.store.CreateAPICallLog(ctx, entry); err != nil {
		log.Printf("[Pipeline] WARNING: failed to write audit log for job %s: %v", jobID, err)
	}
}

// redact scrubs configured secrets out of audit payloads.
func (p *Pipeline) redact(s string) string {
	for _, secret := range p.secrets {
		if secret != "" {
			s = strings.ReplaceAll(s, secret, "[REDACTED]")
		}
	}
	return s
}

// pollRender checks render status on a fixed interval for a bounded number
// of attempts. An explicit provider failure and an exhausted poll budget are
// distinct terminal outcomes; both propagate to the state machine for refund
// processing.
func (p *Pipeline) pollRender(ctx context.Context, job *models.RenderJob, renderID string) (string, error) {
	for attempt := 1; attempt <= p.cfg.MaxPollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return "", newError(KindProviderUnavailable, StagePolling, "polling cancelled", ctx.Err())
		case <-time.After(p.cfg.PollInterval):
		}

		status, err := p.render.GetRenderStatus(ctx, renderID)
		if err != nil {
			// A flaky status check burns an attempt but doesn't kill the render.
			log.Printf("[Pipeline] job %s: poll %d/%d failed: %v", job.ID, attempt, p.cfg.MaxPollAttempts, err)
			continue
		}

		switch status.State {
		case providers.RenderStateDone:
			if status.URL == "" {
				return "", newError(KindRenderFailed, StagePolling, "render reported done without a result URL", nil)
			}
			log.Printf("[Pipeline] job %s: render done after %d poll(s)", job.ID, attempt)
			return status.URL, nil

		case providers.RenderStateFailed:
			msg := status.Error
			if msg == "" {
				msg = "unknown provider error"
			}
			return "", newError(KindRenderFailed, StagePolling, fmt.Sprintf("render provider reported failure: %s", msg), nil)

		default:
			log.Printf("[Pipeline] job %s: poll %d/%d: still processing", job.ID, attempt, p.cfg.MaxPollAttempts)
		}
	}

	return "", newError(KindRenderTimeout, StagePolling,
		fmt.Sprintf("render still processing after %d polls at %v intervals", p.cfg.MaxPollAttempts, p.cfg.PollInterval), nil)
}
