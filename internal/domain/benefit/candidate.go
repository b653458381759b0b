package benefit

import (
	"context"

	"github.com/shopspring/decimal"

	"benefix/internal/core/apperror"
	"benefix/internal/core/id"
	"benefix/internal/core/types"
)

// SourceType tags a candidate with the benefit source it was derived from.
type SourceType string

const (
	SourceItem     SourceType = "item"
	SourceOrder    SourceType = "order"
	SourceCustomer SourceType = "customer"
	SourceCoupon   SourceType = "coupon"
	SourceLoyalty  SourceType = "loyalty"
)

// Candidate is a possible discount identified for a transaction before
// allocation decides how much of it (if any) to apply. Ephemeral,
// in-memory only; never persisted on its own.
type Candidate struct {
	Source   SourceType  `json:"source"`
	SourceID id.ID       `json:"sourceId"`
	Name     string      `json:"name"`
	// RawValue is computed against the base amount fixed at candidate
	// creation, before any allocation.
	RawValue types.Money  `json:"rawValue"`
	Cap      *types.Money `json:"cap,omitempty"`
	Priority int          `json:"priority"`
}

// AppliedDiscount is a candidate plus the amount actually deducted.
// Zero allocation is a valid, recorded outcome.
type AppliedDiscount struct {
	Candidate
	AppliedAmount types.Money `json:"appliedAmount"`
	Applied       bool        `json:"applied"`
}

// Allocation is the result of running candidates against the remaining
// payable balance.
type Allocation struct {
	Subtotal      types.Money       `json:"subtotal"`
	Discounts     []AppliedDiscount `json:"discounts"`
	TotalDiscount types.Money       `json:"totalDiscount"`
	FinalAmount   types.Money       `json:"finalAmount"`
}

// Line is a transaction line item.
type Line struct {
	ItemID    id.ID       `json:"itemId"`
	Quantity  int         `json:"quantity"`
	UnitPrice types.Money `json:"unitPrice"`
}

// Total returns the line total (quantity * unit price).
func (l Line) Total() types.Money {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Transaction is the checkout cart the engine calculates against.
type Transaction struct {
	Ref        string `json:"ref"`
	CustomerID *id.ID `json:"customerId,omitempty"`
	Lines      []Line `json:"lines"`
}

// Subtotal returns the sum of all line totals.
func (t Transaction) Subtotal() types.Money {
	subtotal := types.Zero()
	for _, l := range t.Lines {
		subtotal = subtotal.Add(l.Total())
	}
	return subtotal
}

// Validate implements request validation for the checkout boundary.
func (t Transaction) Validate(ctx context.Context) error {
	if t.Ref == "" {
		return apperror.NewValidation("transaction ref is required").
			WithDetail("field", "ref")
	}

	if len(t.Lines) == 0 {
		return apperror.NewValidation("at least one line is required").
			WithDetail("field", "lines")
	}

	for i, l := range t.Lines {
		if id.IsNil(l.ItemID) {
			return apperror.NewValidation("item is required").
				WithDetail("field", "lines").
				WithDetail("lineNo", i+1)
		}
		if l.Quantity <= 0 {
			return apperror.NewValidation("quantity must be positive").
				WithDetail("field", "lines").
				WithDetail("lineNo", i+1)
		}
		if l.UnitPrice.IsNegative() {
			return apperror.NewValidation("unit price must not be negative").
				WithDetail("field", "lines").
				WithDetail("lineNo", i+1)
		}
	}

	return nil
}
