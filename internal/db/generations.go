package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ampersands-ai/mymedia-studio-sub004/internal/models"
	"github.com/google/uuid"
)

func (db *DB) CreateGeneration(ctx context.Context, gen *models.GenerationRecord) error {
	query := `
		INSERT INTO generations (
			id, user_id, job_id, type, storage_path, settings, token_cost, byte_size
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`

	return db.QueryRowContext(
		ctx, query,
		gen.ID, gen.UserID, gen.JobID, gen.Type, gen.StoragePath,
		gen.Settings, gen.TokenCost, gen.ByteSize,
	).Scan(&gen.CreatedAt)
}

func (db *DB) GetGeneration(ctx context.Context, id uuid.UUID) (*models.GenerationRecord, error) {
	query := `
		SELECT id, user_id, job_id, type, storage_path, settings, token_cost, byte_size, created_at
		FROM generations
		WHERE id = $1
	`

	gen := &models.GenerationRecord{}
	err := db.QueryRowContext(ctx, query, id).Scan(
		&gen.ID, &gen.UserID, &gen.JobID, &gen.Type, &gen.StoragePath,
		&gen.Settings, &gen.TokenCost, &gen.ByteSize, &gen.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("generation not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get generation: %w", err)
	}

	return gen, nil
}

// GetJobGeneration returns the generation produced by a job, if any.
func (db *DB) GetJobGeneration(ctx context.Context, jobID uuid.UUID) (*models.GenerationRecord, error) {
	query := `
		SELECT id, user_id, job_id, type, storage_path, settings, token_cost, byte_size, created_at
		FROM generations
		WHERE job_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	gen := &models.GenerationRecord{}
	err := db.QueryRowContext(ctx, query, jobID).Scan(
		&gen.ID, &gen.UserID, &gen.JobID, &gen.Type, &gen.StoragePath,
		&gen.Settings, &gen.TokenCost, &gen.ByteSize, &gen.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job generation: %w", err)
	}

	return gen, nil
}
