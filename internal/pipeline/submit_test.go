package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/ampersands-ai/mymedia-studio-sub004/internal/providers"
)

func testEdit(t *testing.T) *Edit {
	t.Helper()
	edit, err := BuildEdit(DefaultConfig(), buildReq(30, videoPool(5, 10)))
	if err != nil {
		t.Fatalf("failed to build test edit: %v", err)
	}
	return edit
}

func captionClipCount(doc Edit) int {
	n := 0
	for _, track := range doc.Timeline.Tracks {
		for _, clip := range track.Clips {
			if clip.Asset.Type == "caption" {
				n++
			}
		}
	}
	return n
}

func captionRejection() error {
	return &providers.SubmissionError{
		StatusCode: 400,
		Body:       `{"success":false,"message":"Bad Request","detail":"asset type 'caption' is not valid"}`,
	}
}

func TestSubmitFirstAttemptSucceeds(t *testing.T) {
	job := testJob()
	fx := newFixture(job, testConfig(), nil)

	renderID, err := fx.pipe.submitWithFallback(context.Background(), job, testEdit(t))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if renderID != "render-1" {
		t.Errorf("render id = %q", renderID)
	}
	if fx.render.submits != 1 {
		t.Errorf("submits = %d, want 1", fx.render.submits)
	}
	if len(fx.store.audits) != 1 {
		t.Errorf("audit entries = %d, want 1", len(fx.store.audits))
	}
}

func TestSubmitCaptionFallbackSequence(t *testing.T) {
	job := testJob()
	fx := newFixture(job, testConfig(), nil)
	fx.render.submit = func(attempt int, edit interface{}) (string, error) {
		if attempt < 3 {
			return "", captionRejection()
		}
		return "render-3", nil
	}

	renderID, err := fx.pipe.submitWithFallback(context.Background(), job, testEdit(t))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if renderID != "render-3" {
		t.Errorf("render id = %q", renderID)
	}
	if fx.render.submits != 3 {
		t.Fatalf("submits = %d, want 3", fx.render.submits)
	}

	// First attempt: fully styled caption.
	first := fx.render.docs[0]
	if captionClipCount(first) != 1 {
		t.Error("first attempt should carry the caption clip")
	}

	// Second attempt: caption survives but styling is stripped.
	second := fx.render.docs[1]
	if captionClipCount(second) != 1 {
		t.Fatal("second attempt should still carry a caption clip")
	}
	for _, track := range second.Timeline.Tracks {
		for _, clip := range track.Clips {
			if clip.Asset.Type == "caption" && (clip.Asset.Font != nil || clip.Asset.Background != nil) {
				t.Error("second attempt should strip caption styling")
			}
		}
	}

	// Third attempt: no caption track at all.
	third := fx.render.docs[2]
	if captionClipCount(third) != 0 {
		t.Error("third attempt should drop the caption track")
	}
	if len(third.Timeline.Tracks) != 2 {
		t.Errorf("third attempt has %d tracks, want 2", len(third.Timeline.Tracks))
	}

	if len(fx.store.audits) != 3 {
		t.Errorf("audit entries = %d, want one per attempt", len(fx.store.audits))
	}
}

func TestSubmitFallbacksNeverMutateOriginalEdit(t *testing.T) {
	job := testJob()
	fx := newFixture(job, testConfig(), nil)
	fx.render.submit = func(attempt int, edit interface{}) (string, error) {
		return "", captionRejection()
	}

	edit := testEdit(t)
	tracksBefore := len(edit.Timeline.Tracks)

	_, _ = fx.pipe.submitWithFallback(context.Background(), job, edit)

	if len(edit.Timeline.Tracks) != tracksBefore {
		t.Error("fallback transforms mutated the caller's edit document")
	}
	caption := edit.Timeline.Tracks[0].Clips[0]
	if caption.Asset.Font == nil || caption.Asset.Background == nil {
		t.Error("fallback transforms stripped styling from the caller's edit document")
	}
}

func TestSubmitNonCaptionRejectionIsFatal(t *testing.T) {
	job := testJob()
	fx := newFixture(job, testConfig(), nil)
	fx.render.submit = func(attempt int, edit interface{}) (string, error) {
		return "", &providers.SubmissionError{StatusCode: 400, Body: `{"message":"timeline.tracks is required"}`}
	}

	_, err := fx.pipe.submitWithFallback(context.Background(), job, testEdit(t))
	var perr *Error
	if !errors.As(err, &perr) || perr.Kind != KindSubmissionRejected {
		t.Fatalf("expected submission_rejected, got %v", err)
	}
	if fx.render.submits != 1 {
		t.Errorf("submits = %d, want 1; unrelated rejections must not trigger fallbacks", fx.render.submits)
	}
}

func TestSubmitServerErrorIsFatal(t *testing.T) {
	// A 5xx mentioning captions is provider trouble, not a schema problem.
	job := testJob()
	fx := newFixture(job, testConfig(), nil)
	fx.render.submit = func(attempt int, edit interface{}) (string, error) {
		return "", &providers.SubmissionError{StatusCode: 500, Body: `{"message":"caption renderer crashed"}`}
	}

	_, err := fx.pipe.submitWithFallback(context.Background(), job, testEdit(t))
	var perr *Error
	if !errors.As(err, &perr) || perr.Kind != KindSubmissionRejected {
		t.Fatalf("unexpected error: %v", err)
	}
	if fx.render.submits != 1 {
		t.Errorf("submits = %d, want 1", fx.render.submits)
	}
}

func TestSubmitNetworkErrorIsProviderUnavailable(t *testing.T) {
	job := testJob()
	fx := newFixture(job, testConfig(), nil)
	fx.render.submit = func(attempt int, edit interface{}) (string, error) {
		return "", fmt.Errorf("dial tcp: connection refused")
	}

	_, err := fx.pipe.submitWithFallback(context.Background(), job, testEdit(t))
	var perr *Error
	if !errors.As(err, &perr) || perr.Kind != KindProviderUnavailable {
		t.Fatalf("expected provider_unavailable, got %v", err)
	}
	if fx.render.submits != 1 {
		t.Errorf("submits = %d, want 1", fx.render.submits)
	}
}

func TestSubmitAllFallbacksRejected(t *testing.T) {
	job := testJob()
	fx := newFixture(job, testConfig(), nil)
	fx.render.submit = func(attempt int, edit interface{}) (string, error) {
		return "", captionRejection()
	}

	_, err := fx.pipe.submitWithFallback(context.Background(), job, testEdit(t))
	var perr *Error
	if !errors.As(err, &perr) || perr.Kind != KindSubmissionRejected {
		t.Fatalf("expected submission_rejected, got %v", err)
	}
	if fx.render.submits != len(captionVariants) {
		t.Errorf("submits = %d, want %d", fx.render.submits, len(captionVariants))
	}
}

func TestSubmitAuditRedactsSecrets(t *testing.T) {
	job := testJob()
	fx := newFixture(job, testConfig(), nil)
	fx.pipe.secrets = []string{"sk-very-secret"}
	fx.render.submit = func(attempt int, edit interface{}) (string, error) {
		return "", &providers.SubmissionError{
			StatusCode: 400,
			Body:       `{"message":"invalid key sk-very-secret supplied"}`,
		}
	}

	_, _ = fx.pipe.submitWithFallback(context.Background(), job, testEdit(t))

	if len(fx.store.audits) == 0 {
		t.Fatal("no audit entries written")
	}
	errField, _ := fx.store.audits[0].Response["error"].(string)
	if errField == "" {
		t.Fatal("audit entry has no error field")
	}
	if !strings.Contains(errField, "[REDACTED]") {
		t.Errorf("audit error %q does not redact the secret", errField)
	}
	if strings.Contains(errField, "sk-very-secret") {
		t.Errorf("secret leaked into audit log: %q", errField)
	}
}

func TestPollRenderFailureDetail(t *testing.T) {
	job := testJob()
	fx := newFixture(job, testConfig(), nil)
	fx.render.status = func(poll int, renderID string) (*providers.RenderStatus, error) {
		return &providers.RenderStatus{State: providers.RenderStateFailed, Error: "asset fetch failed"}, nil
	}

	_, err := fx.pipe.pollRender(context.Background(), job, "render-1")
	var perr *Error
	if !errors.As(err, &perr) || perr.Kind != KindRenderFailed {
		t.Fatalf("expected render_failed, got %v", err)
	}
	if !strings.Contains(perr.Message, "asset fetch failed") {
		t.Errorf("provider detail lost from error message: %q", perr.Message)
	}
}

func TestPollRenderToleratesFlakyStatusChecks(t *testing.T) {
	job := testJob()
	fx := newFixture(job, testConfig(), nil)
	fx.render.status = func(poll int, renderID string) (*providers.RenderStatus, error) {
		if poll == 1 {
			return nil, fmt.Errorf("transient network error")
		}
		return &providers.RenderStatus{State: providers.RenderStateDone, URL: "https://cdn.test/out.mp4"}, nil
	}

	url, err := fx.pipe.pollRender(context.Background(), job, "render-1")
	if err != nil {
		t.Fatalf("poll failed: %v", err)
	}
	if url != "https://cdn.test/out.mp4" {
		t.Errorf("url = %q", url)
	}
	if fx.render.polls != 2 {
		t.Errorf("polls = %d, want 2", fx.render.polls)
	}
}

func TestPollRenderDoneWithoutURLFails(t *testing.T) {
	job := testJob()
	fx := newFixture(job, testConfig(), nil)
	fx.render.status = func(poll int, renderID string) (*providers.RenderStatus, error) {
		return &providers.RenderStatus{State: providers.RenderStateDone}, nil
	}

	_, err := fx.pipe.pollRender(context.Background(), job, "render-1")
	var perr *Error
	if !errors.As(err, &perr) || perr.Kind != KindRenderFailed {
		t.Fatalf("expected render_failed for done-without-url, got %v", err)
	}
}
