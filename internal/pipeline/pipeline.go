package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path"
	"time"

	"github.com/ampersands-ai/mymedia-studio-sub004/internal/db"
	"github.com/ampersands-ai/mymedia-studio-sub004/internal/models"
	"github.com/ampersands-ai/mymedia-studio-sub004/internal/providers"
	"github.com/google/uuid"
)

// Store is the persistence surface the pipeline needs. *db.DB satisfies it;
// tests substitute a fake.
type Store interface {
	GetRenderJob(ctx context.Context, id uuid.UUID) (*models.RenderJob, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, to models.RenderJobStatus, from ...models.RenderJobStatus) error
	SetExternalRenderID(ctx context.Context, id uuid.UUID, renderID string) error
	SetError(ctx context.Context, id uuid.UUID, kind, message, stage string) error

	Balance(ctx context.Context, userID uuid.UUID) (int, error)
	DebitForRender(ctx context.Context, userID, jobID uuid.UUID, amount int) error
	RefundRenderDebit(ctx context.Context, userID, jobID uuid.UUID) (int, error)
	ClearDebitOnCompletion(ctx context.Context, jobID uuid.UUID) error

	CreateGeneration(ctx context.Context, gen *models.GenerationRecord) error
	CreateAPICallLog(ctx context.Context, entry *models.APICallLog) error
	LinkAPICalls(ctx context.Context, jobID, generationID uuid.UUID) error
}

// BlobStore is the object-storage surface: streaming upload of the finished
// render, buffered upload of AI background stills.
type BlobStore interface {
	Upload(ctx context.Context, storagePath string, data []byte, contentType string) error
	UploadStream(ctx context.Context, storagePath string, body io.Reader, contentType string, contentLength int64) error
	GetPublicURL(storagePath string) string
}

// Pipeline runs one render job end to end: select media, build the timeline,
// submit, poll, materialize. Exactly one invocation owns a job at a time;
// the status transition guards enforce that.
type Pipeline struct {
	store   Store
	blobs   BlobStore
	render  providers.RenderProvider
	ai      providers.BackgroundGenerator // nil disables background mode "ai"
	sel     *Selector
	cfg     Config
	client  *http.Client // result download
	secrets []string     // redacted from audit payloads
	now     func() time.Time
}

type Options struct {
	Store   Store
	Blobs   BlobStore
	Stock   providers.StockProvider
	Render  providers.RenderProvider
	AI      providers.BackgroundGenerator
	Config  Config
	Secrets []string
}

func New(opts Options) *Pipeline {
	return &Pipeline{
		store:   opts.Store,
		blobs:   opts.Blobs,
		render:  opts.Render,
		ai:      opts.AI,
		sel:     NewSelector(opts.Stock, opts.Config),
		cfg:     opts.Config,
		client:  &http.Client{Timeout: opts.Config.DownloadTimeout},
		secrets: opts.Secrets,
		now:     time.Now,
	}
}

// Run executes one approved job. Every failure path either leaves the job
// untouched (pre-claim rejections) or lands it in failed with the debit
// refunded. A job is never left silently stuck in an intermediate status.
func (p *Pipeline) Run(ctx context.Context, jobID uuid.UUID) error {
	job, err := p.store.GetRenderJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job %s: %w", jobID, err)
	}

	if perr := p.validate(job); perr != nil {
		// Bad input: fail the job without claiming it or touching credits.
		p.persistFailure(ctx, job, perr)
		return perr
	}

	// Check the balance before claiming the job so an underfunded approval
	// leaves everything untouched.
	balance, err := p.store.Balance(ctx, job.UserID)
	if err != nil {
		return fmt.Errorf("failed to read balance for job %s: %w", jobID, err)
	}
	if balance < p.cfg.RenderTokenCost {
		return newError(KindInsufficientCredits, StageCredits,
			fmt.Sprintf("balance %d below render cost %d", balance, p.cfg.RenderTokenCost), nil)
	}

	// Claim. A conflict means another invocation owns the job or it is
	// terminal. Reject without side effects.
	if err := p.store.TransitionStatus(ctx, job.ID, models.RenderJobStatusFetchingMedia, models.RenderJobStatusAwaitingApproval); err != nil {
		if errors.Is(err, db.ErrStatusConflict) {
			return newError(KindValidation, StageValidation,
				fmt.Sprintf("job is %s, not awaiting approval", job.Status), err)
		}
		return fmt.Errorf("failed to claim job %s: %w", jobID, err)
	}

	// Debit after the claim: only one invocation can reach this point, and a
	// lost race on credits unwinds the claim.
	if err := p.store.DebitForRender(ctx, job.UserID, job.ID, p.cfg.RenderTokenCost); err != nil {
		if unwindErr := p.store.TransitionStatus(ctx, job.ID, models.RenderJobStatusAwaitingApproval, models.RenderJobStatusFetchingMedia); unwindErr != nil {
			log.Printf("[Pipeline] job %s: failed to unwind claim after debit failure: %v", job.ID, unwindErr)
		}
		if errors.Is(err, db.ErrInsufficientCredits) {
			return newError(KindInsufficientCredits, StageCredits, "balance below render cost", err)
		}
		return fmt.Errorf("failed to debit for job %s: %w", jobID, err)
	}

	if err := p.execute(ctx, job); err != nil {
		perr := asPipelineError(err)
		p.failAndRefund(ctx, job, perr)
		return perr
	}
	return nil
}

// execute runs the stages after claim+debit. Any returned error triggers the
// refund-and-fail path in Run.
func (p *Pipeline) execute(ctx context.Context, job *models.RenderJob) error {
	assets, kind, err := p.gatherBackgrounds(ctx, job)
	if err != nil {
		return err
	}
	log.Printf("[Pipeline] job %s: %d %s asset(s) selected", job.ID, len(assets), kind)

	if err := p.store.TransitionStatus(ctx, job.ID, models.RenderJobStatusAssembling, models.RenderJobStatusFetchingMedia); err != nil {
		return fmt.Errorf("failed to enter assembling: %w", err)
	}

	edit, err := BuildEdit(p.cfg, BuildRequest{
		Duration:     job.TargetDuration(),
		Assets:       assets,
		Kind:         kind,
		CaptionStyle: job.CaptionStyle,
		AspectRatio:  job.AspectRatio,
		VoiceoverURL: job.VoiceoverURL,
	})
	if err != nil {
		return newError(KindValidation, StageBuildingTimeline, "failed to build edit document", err)
	}

	renderID, err := p.submitWithFallback(ctx, job, edit)
	if err != nil {
		return err
	}

	if err := p.store.SetExternalRenderID(ctx, job.ID, renderID); err != nil {
		return fmt.Errorf("failed to record render id: %w", err)
	}
	// Rendering is entered only after the provider has accepted the job.
	if err := p.store.TransitionStatus(ctx, job.ID, models.RenderJobStatusRendering, models.RenderJobStatusAssembling); err != nil {
		return fmt.Errorf("failed to enter rendering: %w", err)
	}
	log.Printf("[Pipeline] job %s: submitted, render id %s", job.ID, renderID)

	resultURL, err := p.pollRender(ctx, job, renderID)
	if err != nil {
		return err
	}

	return p.materialize(ctx, job, resultURL)
}

func (p *Pipeline) validate(job *models.RenderJob) *Error {
	if job.VoiceoverURL == "" {
		return newError(KindValidation, StageValidation, "job has no voiceover URL", nil)
	}
	if job.TargetDuration() <= 0 {
		return newError(KindValidation, StageValidation, "job has no usable duration", nil)
	}
	if job.BackgroundMode == models.BackgroundModeAI && p.ai == nil {
		return newError(KindValidation, StageValidation, "ai background mode is not enabled", nil)
	}
	return nil
}

// gatherBackgrounds produces the asset pool. Stock mode degrades through
// media kinds (video, then video+image hybrid, then pure image) before
// giving up.
func (p *Pipeline) gatherBackgrounds(ctx context.Context, job *models.RenderJob) ([]models.BackgroundAsset, models.MediaKind, error) {
	if job.BackgroundMode == models.BackgroundModeAI {
		assets, err := p.generateAIBackgrounds(ctx, job)
		if err != nil {
			return nil, "", err
		}
		return assets, models.MediaKindImage, nil
	}

	req := SelectionRequest{
		TargetDuration: job.TargetDuration(),
		AspectRatio:    job.AspectRatio,
		Kind:           models.MediaKindVideo,
	}
	if job.BackgroundTopic != nil {
		req.Topic = *job.BackgroundTopic
	}
	if job.BackgroundStyle != nil {
		req.Style = *job.BackgroundStyle
	}
	if job.CustomAssetURL != nil {
		req.CustomAssetURL = *job.CustomAssetURL
	}

	videos, videoErr := p.sel.SelectBackgrounds(ctx, req)
	if videoErr == nil {
		return videos, models.MediaKindVideo, nil
	}
	log.Printf("[Pipeline] job %s: video selection failed (%v), falling back", job.ID, videoErr)

	req.Kind = models.MediaKindImage
	images, imageErr := p.sel.SelectBackgrounds(ctx, req)
	if imageErr != nil {
		return nil, "", newError(KindProviderUnavailable, StageSelectingMedia,
			"stock search produced no usable assets", errors.Join(videoErr, imageErr))
	}

	// Whatever videos the failed attempt did find still lead the hybrid pool.
	if len(videos) > 0 {
		return append(videos, images...), models.MediaKindHybrid, nil
	}
	return images, models.MediaKindImage, nil
}

// generateAIBackgrounds renders stills via the image model and uploads them
// to storage so the timeline references plain URLs.
func (p *Pipeline) generateAIBackgrounds(ctx context.Context, job *models.RenderJob) ([]models.BackgroundAsset, error) {
	prompt := ""
	if job.BackgroundTopic != nil {
		prompt = *job.BackgroundTopic
	}
	if prompt == "" && job.BackgroundStyle != nil {
		prompt = *job.BackgroundStyle
	}
	if prompt == "" {
		return nil, newError(KindValidation, StageSelectingMedia, "ai background mode requires a topic or style", nil)
	}

	images, err := p.ai.GenerateBackgrounds(ctx, prompt, p.cfg.AIImageCount, job.AspectRatio)
	if err != nil {
		return nil, newError(KindProviderUnavailable, StageSelectingMedia, "background image generation failed", err)
	}

	date := p.now().UTC().Format("2006-01-02")
	assets := make([]models.BackgroundAsset, 0, len(images))
	for i, img := range images {
		storagePath := path.Join(job.UserID.String(), date, job.ID.String(), fmt.Sprintf("bg_%d.png", i))
		if err := p.blobs.Upload(ctx, storagePath, img, "image/png"); err != nil {
			return nil, newError(KindProviderUnavailable, StageSelectingMedia,
				fmt.Sprintf("failed to upload background image %d", i), err)
		}
		assets = append(assets, models.BackgroundAsset{
			URL:      p.blobs.GetPublicURL(storagePath),
			Kind:     "image",
			Portrait: wantsPortrait(job.AspectRatio),
		})
	}
	return assets, nil
}

// materialize streams the finished render from the provider's CDN into our
// storage, records the generation, finalizes the debit and completes the job.
func (p *Pipeline) materialize(ctx context.Context, job *models.RenderJob, resultURL string) error {
	dlCtx, cancel := context.WithTimeout(ctx, p.cfg.DownloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(dlCtx, "GET", resultURL, nil)
	if err != nil {
		return newError(KindMaterializationFailed, StageMaterializing, "failed to build result download request", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return newError(KindMaterializationFailed, StageMaterializing, "failed to download finished render", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return newError(KindMaterializationFailed, StageMaterializing,
			fmt.Sprintf("result download returned status %d", resp.StatusCode), nil)
	}

	storagePath := path.Join(job.UserID.String(), p.now().UTC().Format("2006-01-02"), job.ID.String()+".mp4")
	if err := p.blobs.UploadStream(ctx, storagePath, resp.Body, "video/mp4", resp.ContentLength); err != nil {
		return newError(KindMaterializationFailed, StageMaterializing, "failed to upload render to storage", err)
	}

	gen := &models.GenerationRecord{
		ID:          uuid.New(),
		UserID:      job.UserID,
		JobID:       job.ID,
		Type:        models.GenerationTypeVideo,
		StoragePath: storagePath,
		Settings:    job.SettingsSnapshot(),
		TokenCost:   p.cfg.RenderTokenCost,
	}
	if resp.ContentLength >= 0 {
		size := resp.ContentLength
		gen.ByteSize = &size
	}
	if err := p.store.CreateGeneration(ctx, gen); err != nil {
		return newError(KindMaterializationFailed, StageMaterializing, "failed to record generation", err)
	}

	if err := p.store.LinkAPICalls(ctx, job.ID, gen.ID); err != nil {
		// The generation exists; a broken audit link is not worth failing the job.
		log.Printf("[Pipeline] job %s: failed to link audit entries: %v", job.ID, err)
	}

	if err := p.store.ClearDebitOnCompletion(ctx, job.ID); err != nil {
		return newError(KindMaterializationFailed, StageMaterializing, "failed to finalize debit", err)
	}

	if err := p.store.TransitionStatus(ctx, job.ID, models.RenderJobStatusCompleted, models.RenderJobStatusRendering); err != nil {
		return fmt.Errorf("failed to complete job %s: %w", job.ID, err)
	}

	log.Printf("[Pipeline] job %s: completed, stored at %s", job.ID, storagePath)
	return nil
}

// failAndRefund refunds the attempt's debit and records the failure. The
// refund runs first: if persisting the error then fails, the user has still
// been made whole and a sweeper can fix the status.
func (p *Pipeline) failAndRefund(ctx context.Context, job *models.RenderJob, perr *Error) {
	refunded, err := p.store.RefundRenderDebit(ctx, job.UserID, job.ID)
	if err != nil {
		log.Printf("[Pipeline] job %s: REFUND FAILED, manual reconciliation needed: %v", job.ID, err)
	} else if refunded > 0 {
		log.Printf("[Pipeline] job %s: refunded %d token(s)", job.ID, refunded)
	}
	p.persistFailure(ctx, job, perr)
}

func (p *Pipeline) persistFailure(ctx context.Context, job *models.RenderJob, perr *Error) {
	log.Printf("[Pipeline] job %s failed: %v", job.ID, perr)
	if err := p.store.SetError(ctx, job.ID, string(perr.Kind), perr.Message, string(perr.Stage)); err != nil {
		log.Printf("[Pipeline] job %s: failed to persist error state: %v", job.ID, err)
	}
}

// asPipelineError normalizes stage errors: anything untyped (db writes,
// context trouble) is treated as transient infrastructure failure.
func asPipelineError(err error) *Error {
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}
	return newError(KindProviderUnavailable, StageMaterializing, "pipeline infrastructure error", err)
}
