package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// ErrInsufficientCredits is returned by DebitForRender when the user's balance
// cannot cover the render cost. Nothing is mutated in that case.
var ErrInsufficientCredits = fmt.Errorf("insufficient credits")

// Balance returns the user's current token balance.
func (db *DB) Balance(ctx context.Context, userID uuid.UUID) (int, error) {
	var balance int
	err := db.QueryRowContext(ctx, `SELECT token_balance FROM user_credits WHERE user_id = $1`, userID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

// DebitForRender debits the render cost and records the outstanding amount on
// the job row, in one transaction. Recording tokens_debited alongside the
// balance change is what makes the later refund exact and idempotent: the job
// row carries precisely what this attempt owes the user.
//
// The balance change goes through the increment_credits SQL function, the
// same atomic RPC used for refunds, with a negative delta.
func (db *DB) DebitForRender(ctx context.Context, userID, jobID uuid.UUID, amount int) error {
	if amount <= 0 {
		return fmt.Errorf("debit amount must be positive, got %d", amount)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin debit tx: %w", err)
	}
	defer tx.Rollback()

	var newBalance int
	if err := tx.QueryRowContext(ctx, `SELECT increment_credits($1, $2)`, userID, -amount).Scan(&newBalance); err != nil {
		return fmt.Errorf("failed to debit credits: %w", err)
	}
	if newBalance < 0 {
		return ErrInsufficientCredits
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE render_jobs SET tokens_debited = $1, updated_at = NOW() WHERE id = $2 AND tokens_debited = 0`,
		amount, jobID,
	)
	if err != nil {
		return fmt.Errorf("failed to record debit on job: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		// A previous attempt's debit is still outstanding; refuse to stack
		// a second one. The refund path (or a sweeper) must clear it first.
		return fmt.Errorf("job already carries an outstanding debit")
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit debit: %w", err)
	}
	return nil
}

// RefundRenderDebit refunds exactly the amount recorded on the job row and
// zeroes it, in one transaction. Calling it again refunds nothing: the
// refund is keyed by the job's outstanding debit, so a job is never refunded
// twice and never refunded more than it was debited.
func (db *DB) RefundRenderDebit(ctx context.Context, userID, jobID uuid.UUID) (int, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin refund tx: %w", err)
	}
	defer tx.Rollback()

	// Lock the row, read the outstanding amount, then zero it. RETURNING on
	// the UPDATE would see the new (zeroed) value, hence the two steps.
	var amount int
	err = tx.QueryRowContext(ctx,
		`SELECT tokens_debited FROM render_jobs WHERE id = $1 AND tokens_debited > 0 FOR UPDATE`,
		jobID,
	).Scan(&amount)
	if err == sql.ErrNoRows {
		// Nothing outstanding, already refunded or never debited.
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read job debit: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE render_jobs SET tokens_debited = 0, updated_at = NOW() WHERE id = $1`, jobID); err != nil {
		return 0, fmt.Errorf("failed to clear job debit: %w", err)
	}

	var newBalance int
	if err := tx.QueryRowContext(ctx, `SELECT increment_credits($1, $2)`, userID, amount).Scan(&newBalance); err != nil {
		return 0, fmt.Errorf("failed to refund credits: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit refund: %w", err)
	}
	return amount, nil
}

// ClearDebitOnCompletion zeroes tokens_debited once the render completes, so
// the charge becomes final and no later refund can pick it up.
func (db *DB) ClearDebitOnCompletion(ctx context.Context, jobID uuid.UUID) error {
	_, err := db.ExecContext(ctx,
		`UPDATE render_jobs SET tokens_debited = 0, updated_at = NOW() WHERE id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("failed to finalize debit: %w", err)
	}
	return nil
}
