package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ampersands-ai/mymedia-studio-sub004/internal/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// ErrStatusConflict is returned when a guarded status transition finds the job
// in a status outside the allowed set, e.g. a concurrent invocation already
// moved it, or a completed job is being re-submitted.
var ErrStatusConflict = fmt.Errorf("job status conflict")

func (db *DB) CreateRenderJob(ctx context.Context, job *models.RenderJob) error {
	captionJSON, err := marshalCaptionStyle(job.CaptionStyle)
	if err != nil {
		return fmt.Errorf("failed to encode caption style: %w", err)
	}

	query := `
		INSERT INTO render_jobs (
			id, user_id, voiceover_url, voiceover_duration_sec, requested_duration_sec,
			aspect_ratio, caption_style, background_mode, background_topic,
			background_style, custom_asset_url, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`

	return db.QueryRowContext(
		ctx, query,
		job.ID, job.UserID, job.VoiceoverURL, job.VoiceoverDurationSec,
		job.RequestedDurationSec, job.AspectRatio, captionJSON, job.BackgroundMode,
		job.BackgroundTopic, job.BackgroundStyle, job.CustomAssetURL, job.Status,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
}

func (db *DB) GetRenderJob(ctx context.Context, id uuid.UUID) (*models.RenderJob, error) {
	query := `
		SELECT
			id, user_id, voiceover_url, voiceover_duration_sec, requested_duration_sec,
			aspect_ratio, caption_style, background_mode, background_topic,
			background_style, custom_asset_url, status, external_render_id,
			tokens_debited, error_kind, error_message, error_stage,
			created_at, updated_at
		FROM render_jobs
		WHERE id = $1
	`

	job := &models.RenderJob{}
	var captionJSON []byte
	err := db.QueryRowContext(ctx, query, id).Scan(
		&job.ID, &job.UserID, &job.VoiceoverURL, &job.VoiceoverDurationSec,
		&job.RequestedDurationSec, &job.AspectRatio, &captionJSON, &job.BackgroundMode,
		&job.BackgroundTopic, &job.BackgroundStyle, &job.CustomAssetURL, &job.Status,
		&job.ExternalRenderID, &job.TokensDebited, &job.ErrorKind, &job.ErrorMessage,
		&job.ErrorStage, &job.CreatedAt, &job.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("render job not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get render job: %w", err)
	}

	if len(captionJSON) > 0 {
		var style models.CaptionStyle
		if err := json.Unmarshal(captionJSON, &style); err == nil {
			job.CaptionStyle = &style
		}
	}

	return job, nil
}

// TransitionStatus moves a job to a new status, but only if its current status
// is in the allowed set. Zero rows updated means another writer got there
// first (or the job is terminal) and the transition is rejected with
// ErrStatusConflict. This is the double-submission guard: every pipeline stage
// requires its predecessor's committed status before proceeding.
func (db *DB) TransitionStatus(ctx context.Context, id uuid.UUID, to models.RenderJobStatus, from ...models.RenderJobStatus) error {
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}

	query := `
		UPDATE render_jobs
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = ANY($3)
	`

	result, err := db.ExecContext(ctx, query, to, id, pq.Array(allowed))
	if err != nil {
		return fmt.Errorf("failed to transition job status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("transition to %s: %w", to, ErrStatusConflict)
	}

	return nil
}

// SetExternalRenderID records the render provider's job id once submission succeeds.
func (db *DB) SetExternalRenderID(ctx context.Context, id uuid.UUID, renderID string) error {
	query := `UPDATE render_jobs SET external_render_id = $1, updated_at = NOW() WHERE id = $2`
	_, err := db.ExecContext(ctx, query, renderID, id)
	if err != nil {
		return fmt.Errorf("failed to set external render id: %w", err)
	}
	return nil
}

// SetVoiceoverDuration stores the measured audio length on the job.
func (db *DB) SetVoiceoverDuration(ctx context.Context, id uuid.UUID, seconds float64) error {
	query := `UPDATE render_jobs SET voiceover_duration_sec = $1, updated_at = NOW() WHERE id = $2`
	_, err := db.ExecContext(ctx, query, seconds, id)
	return err
}

// SetError marks the job failed with structured error detail. The job never
// stays silently stuck in an intermediate status: every pipeline failure path
// ends here.
func (db *DB) SetError(ctx context.Context, id uuid.UUID, kind, message, stage string) error {
	query := `
		UPDATE render_jobs
		SET status = $1, error_kind = $2, error_message = $3, error_stage = $4, updated_at = NOW()
		WHERE id = $5
	`
	_, err := db.ExecContext(ctx, query, models.RenderJobStatusFailed, kind, message, stage, id)
	if err != nil {
		return fmt.Errorf("failed to set job error: %w", err)
	}
	return nil
}

// ResetForRetry moves a failed job back to awaiting_approval, clearing stale
// error fields and the previous attempt's external render id.
func (db *DB) ResetForRetry(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE render_jobs
		SET status = $1, error_kind = NULL, error_message = NULL, error_stage = NULL,
		    external_render_id = NULL, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`
	result, err := db.ExecContext(ctx, query, models.RenderJobStatusAwaitingApproval, id, models.RenderJobStatusFailed)
	if err != nil {
		return fmt.Errorf("failed to reset job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("reset for retry: %w", ErrStatusConflict)
	}

	return nil
}

func (db *DB) ListUserRenderJobs(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.RenderJob, error) {
	query := `
		SELECT
			id, user_id, voiceover_url, voiceover_duration_sec, requested_duration_sec,
			aspect_ratio, caption_style, background_mode, background_topic,
			background_style, custom_asset_url, status, external_render_id,
			tokens_debited, error_kind, error_message, error_stage,
			created_at, updated_at
		FROM render_jobs
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query render jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.RenderJob
	for rows.Next() {
		var job models.RenderJob
		var captionJSON []byte
		err := rows.Scan(
			&job.ID, &job.UserID, &job.VoiceoverURL, &job.VoiceoverDurationSec,
			&job.RequestedDurationSec, &job.AspectRatio, &captionJSON, &job.BackgroundMode,
			&job.BackgroundTopic, &job.BackgroundStyle, &job.CustomAssetURL, &job.Status,
			&job.ExternalRenderID, &job.TokensDebited, &job.ErrorKind, &job.ErrorMessage,
			&job.ErrorStage, &job.CreatedAt, &job.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan render job: %w", err)
		}
		if len(captionJSON) > 0 {
			var style models.CaptionStyle
			if err := json.Unmarshal(captionJSON, &style); err == nil {
				job.CaptionStyle = &style
			}
		}
		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}

func marshalCaptionStyle(style *models.CaptionStyle) ([]byte, error) {
	if style == nil {
		return nil, nil
	}
	return json.Marshal(style)
}
