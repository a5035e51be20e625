package db

import (
	"context"
	"fmt"

	"github.com/ampersands-ai/mymedia-studio-sub004/internal/models"
	"github.com/google/uuid"
)

func (db *DB) CreateAPICallLog(ctx context.Context, entry *models.APICallLog) error {
	query := `
		INSERT INTO api_call_logs (
			id, job_id, generation_id, provider, endpoint, request, response, status_code
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`

	return db.QueryRowContext(
		ctx, query,
		entry.ID, entry.JobID, entry.GenerationID, entry.Provider,
		entry.Endpoint, entry.Request, entry.Response, entry.StatusCode,
	).Scan(&entry.CreatedAt)
}

// LinkAPICalls attaches all of a job's audit entries to the generation record
// created on successful materialization.
func (db *DB) LinkAPICalls(ctx context.Context, jobID, generationID uuid.UUID) error {
	query := `UPDATE api_call_logs SET generation_id = $1 WHERE job_id = $2 AND generation_id IS NULL`
	_, err := db.ExecContext(ctx, query, generationID, jobID)
	if err != nil {
		return fmt.Errorf("failed to link api call logs: %w", err)
	}
	return nil
}

func (db *DB) GetJobAPICalls(ctx context.Context, jobID uuid.UUID) ([]models.APICallLog, error) {
	query := `
		SELECT id, job_id, generation_id, provider, endpoint, request, response, status_code, created_at
		FROM api_call_logs
		WHERE job_id = $1
		ORDER BY created_at
	`

	rows, err := db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query api call logs: %w", err)
	}
	defer rows.Close()

	var entries []models.APICallLog
	for rows.Next() {
		var e models.APICallLog
		err := rows.Scan(
			&e.ID, &e.JobID, &e.GenerationID, &e.Provider, &e.Endpoint,
			&e.Request, &e.Response, &e.StatusCode, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan api call log: %w", err)
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}
