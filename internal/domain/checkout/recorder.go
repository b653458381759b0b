package checkout

import (
	"context"
)

// Recorder persists immutable calculation snapshots for audit, replay and
// support-driven reconciliation. Append-only: superseded attempts stay.
type Recorder interface {
	// Record inserts one calculation snapshot. For finalized results it
	// must guarantee at most one finalized row per transaction reference,
	// returning an ALREADY_FINALIZED AppError on a second attempt.
	Record(ctx context.Context, result *CalculationResult) error

	// ListByRef returns every recorded snapshot for a transaction
	// reference, oldest first.
	ListByRef(ctx context.Context, transactionRef string) ([]CalculationResult, error)

	// HasFinalized reports whether a finalized snapshot exists for the
	// transaction reference.
	HasFinalized(ctx context.Context, transactionRef string) (bool, error)
}
