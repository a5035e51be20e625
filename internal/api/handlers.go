package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/ampersands-ai/mymedia-studio-sub004/internal/db"
	"github.com/ampersands-ai/mymedia-studio-sub004/internal/models"
	"github.com/ampersands-ai/mymedia-studio-sub004/internal/pipeline"
	"github.com/ampersands-ai/mymedia-studio-sub004/internal/queue"
	"github.com/ampersands-ai/mymedia-studio-sub004/internal/storage"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const (
	defaultDurationSec   = 60
	defaultAspectRatio   = "9:16"
	signedURLExpirySec   = 3600
	renderEstimateFactor = 2 // rough wall-clock estimate: factor * video seconds
	renderEstimateBase   = 30
)

type Handler struct {
	db      *db.DB
	queue   *queue.Queue
	storage *storage.Storage
}

func NewHandler(database *db.DB, q *queue.Queue, store *storage.Storage) *Handler {
	return &Handler{
		db:      database,
		queue:   q,
		storage: store,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CreateRenderJob registers a job in awaiting_approval. Nothing is charged or
// searched until the user approves it via StartRender.
func (h *Handler) CreateRenderJob(w http.ResponseWriter, r *http.Request) {
	var req models.CreateRenderJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.UserID == uuid.Nil {
		respondError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if req.VoiceoverURL == "" {
		respondError(w, http.StatusBadRequest, "voiceover_url is required")
		return
	}

	job := &models.RenderJob{
		ID:                   uuid.New(),
		UserID:               req.UserID,
		VoiceoverURL:         req.VoiceoverURL,
		VoiceoverDurationSec: req.VoiceoverDurationSec,
		RequestedDurationSec: defaultDurationSec,
		AspectRatio:          defaultAspectRatio,
		CaptionStyle:         req.CaptionStyle,
		BackgroundMode:       models.BackgroundModeStock,
		BackgroundTopic:      req.BackgroundTopic,
		BackgroundStyle:      req.BackgroundStyle,
		CustomAssetURL:       req.CustomAssetURL,
		Status:               models.RenderJobStatusAwaitingApproval,
	}
	if req.RequestedDurationSec != nil && *req.RequestedDurationSec > 0 {
		job.RequestedDurationSec = *req.RequestedDurationSec
	}
	if req.AspectRatio != nil && *req.AspectRatio != "" {
		job.AspectRatio = *req.AspectRatio
	}
	if req.BackgroundMode != nil {
		job.BackgroundMode = *req.BackgroundMode
	}

	if err := h.db.CreateRenderJob(r.Context(), job); err != nil {
		log.Printf("[API] failed to create render job: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to create render job")
		return
	}

	respondJSON(w, http.StatusCreated, job)
}

// StartRender approves a job for rendering and enqueues it. Completed jobs
// are rejected outright; approval never re-charges a finished render.
// Failed jobs are reset for a fresh attempt first.
func (h *Handler) StartRender(w http.ResponseWriter, r *http.Request) {
	var req models.StartRenderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.JobID == uuid.Nil {
		respondError(w, http.StatusBadRequest, "job_id is required")
		return
	}

	job, err := h.db.GetRenderJob(r.Context(), req.JobID)
	if err != nil {
		respondError(w, http.StatusNotFound, "render job not found")
		return
	}

	switch job.Status {
	case models.RenderJobStatusAwaitingApproval:
		// Ready as-is.
	case models.RenderJobStatusFailed:
		if err := h.db.ResetForRetry(r.Context(), job.ID); err != nil {
			if errors.Is(err, db.ErrStatusConflict) {
				respondError(w, http.StatusConflict, "job changed state, re-fetch and retry")
				return
			}
			log.Printf("[API] failed to reset job %s: %v", job.ID, err)
			respondError(w, http.StatusInternalServerError, "failed to reset job")
			return
		}
	case models.RenderJobStatusCompleted:
		respondError(w, http.StatusConflict, "job already completed")
		return
	default:
		respondError(w, http.StatusConflict, "job is already in progress")
		return
	}

	if err := h.queue.EnqueueRender(r.Context(), job.ID, job.UserID); err != nil {
		log.Printf("[API] failed to enqueue render for job %s: %v", job.ID, err)
		respondError(w, http.StatusInternalServerError, "failed to enqueue render")
		return
	}

	respondJSON(w, http.StatusAccepted, models.StartRenderResponse{
		JobID:            job.ID,
		Status:           models.RenderJobStatusAwaitingApproval,
		EstimatedSeconds: renderEstimateBase + int(job.TargetDuration())*renderEstimateFactor,
	})
}

// GetRenderStatus reports a job's progress. Completed jobs include the result
// URLs; failed jobs include the structured error plus whether a retry is
// worth attempting.
func (h *Handler) GetRenderStatus(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	job, err := h.db.GetRenderJob(r.Context(), jobID)
	if err != nil {
		respondError(w, http.StatusNotFound, "render job not found")
		return
	}

	resp := models.RenderStatusResponse{
		JobID:  job.ID,
		Status: job.Status,
	}

	switch job.Status {
	case models.RenderJobStatusCompleted:
		h.attachResultURLs(r.Context(), job, &resp)
	case models.RenderJobStatusFailed:
		resp.ErrorKind = job.ErrorKind
		resp.ErrorMessage = job.ErrorMessage
		if job.ErrorKind != nil {
			retryable := (&pipeline.Error{Kind: pipeline.Kind(*job.ErrorKind)}).Retryable()
			resp.Retryable = &retryable
		}
	}

	respondJSON(w, http.StatusOK, resp)
}

func (h *Handler) attachResultURLs(ctx context.Context, job *models.RenderJob, resp *models.RenderStatusResponse) {
	gen, err := h.db.GetJobGeneration(ctx, job.ID)
	if err != nil || gen == nil {
		log.Printf("[API] completed job %s has no generation record: %v", job.ID, err)
		return
	}

	publicURL := h.storage.GetPublicURL(gen.StoragePath)
	resp.ResultURL = &publicURL

	if signed, err := h.storage.GetSignedURL(ctx, gen.StoragePath, signedURLExpirySec); err == nil {
		resp.DownloadURL = &signed
	} else {
		log.Printf("[API] failed to sign download URL for job %s: %v", job.ID, err)
	}
}

// ListRenderJobs returns a user's jobs, newest first.
func (h *Handler) ListRenderJobs(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.URL.Query().Get("user_id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "user_id query parameter is required")
		return
	}

	limit := queryInt(r, "limit", 20)
	if limit > 100 {
		limit = 100
	}
	offset := queryInt(r, "offset", 0)

	jobs, err := h.db.ListUserRenderJobs(r.Context(), userID, limit, offset)
	if err != nil {
		log.Printf("[API] failed to list jobs for user %s: %v", userID, err)
		respondError(w, http.StatusInternalServerError, "failed to list render jobs")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i >= 0 {
			return i
		}
	}
	return def
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("[API] failed to encode response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
