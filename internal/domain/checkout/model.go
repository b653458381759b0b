// Package checkout provides the calculation service exposed to the
// point-of-sale and order-invoice flows.
package checkout

import (
	"time"

	"benefix/internal/core/id"
	"benefix/internal/core/types"
	"benefix/internal/domain/benefit"
)

// CalculationResult is an immutable snapshot of one calculation attempt.
// A later recalculation of the same transaction supersedes it with a new
// row; the prior result is never mutated.
type CalculationResult struct {
	ID             id.ID                     `json:"id"`
	TransactionRef string                    `json:"transactionRef"`
	Subtotal       types.Money               `json:"subtotal"`
	Discounts      []benefit.AppliedDiscount `json:"discounts"`
	TotalDiscount  types.Money               `json:"totalDiscount"`
	FinalAmount    types.Money               `json:"finalAmount"`
	PointsEarned   int64                     `json:"pointsEarned"`
	PointsRedeemed int64                     `json:"pointsRedeemed"`
	Finalized      bool                      `json:"finalized"`
	CalculatedAt   time.Time                 `json:"calculatedAt"`
}
