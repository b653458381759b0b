// Package dto provides Data Transfer Objects for API requests/responses.
package dto

import (
	"time"

	"benefix/internal/core/apperror"
	"benefix/internal/core/id"
	"benefix/internal/core/types"
	"benefix/internal/domain/benefit"
	"benefix/internal/domain/checkout"
)

// --- Requests ---

// LineRequest is one cart line.
type LineRequest struct {
	ItemID    string      `json:"itemId" binding:"required"`
	Quantity  int         `json:"quantity" binding:"required"`
	UnitPrice types.Money `json:"unitPrice"`
}

// CalculateRequest previews the discount allocation for a cart.
type CalculateRequest struct {
	Ref        string        `json:"ref" binding:"required"`
	CustomerID *string       `json:"customerId,omitempty"`
	Lines      []LineRequest `json:"lines" binding:"required"`
}

// FinalizeRequest commits a transaction: coupons listed here are redeemed
// and points are settled.
type FinalizeRequest struct {
	Ref          string        `json:"ref" binding:"required"`
	CustomerID   *string       `json:"customerId,omitempty"`
	Lines        []LineRequest `json:"lines" binding:"required"`
	CouponCodes  []string      `json:"couponCodes,omitempty"`
	RedeemPoints int64         `json:"redeemPoints,omitempty"`
}

// ToTransaction maps a calculate request to the domain cart.
func (r CalculateRequest) ToTransaction() (benefit.Transaction, error) {
	return toTransaction(r.Ref, r.CustomerID, r.Lines)
}

// ToTransaction maps a finalize request to the domain cart.
func (r FinalizeRequest) ToTransaction() (benefit.Transaction, error) {
	return toTransaction(r.Ref, r.CustomerID, r.Lines)
}

func toTransaction(ref string, customerID *string, lines []LineRequest) (benefit.Transaction, error) {
	trx := benefit.Transaction{Ref: ref}

	if customerID != nil && *customerID != "" {
		parsed, err := id.Parse(*customerID)
		if err != nil {
			return trx, apperror.NewValidation("invalid customer id format").
				WithDetail("customerId", *customerID)
		}
		trx.CustomerID = &parsed
	}

	trx.Lines = make([]benefit.Line, 0, len(lines))
	for i, l := range lines {
		itemID, err := id.Parse(l.ItemID)
		if err != nil {
			return trx, apperror.NewValidation("invalid item id format").
				WithDetail("lineNo", i+1).
				WithDetail("itemId", l.ItemID)
		}
		trx.Lines = append(trx.Lines, benefit.Line{
			ItemID:    itemID,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
		})
	}

	return trx, nil
}

// --- Responses ---

// DiscountResponse is one entry in the allocation breakdown.
type DiscountResponse struct {
	Source        string      `json:"source"`
	SourceID      string      `json:"sourceId"`
	Name          string      `json:"name"`
	RawValue      types.Money `json:"rawValue"`
	AppliedAmount types.Money `json:"appliedAmount"`
	Applied       bool        `json:"applied"`
	Priority      int         `json:"priority"`
}

// CalculationResponse is a calculation snapshot.
type CalculationResponse struct {
	ID             string             `json:"id"`
	TransactionRef string             `json:"transactionRef"`
	Subtotal       types.Money        `json:"subtotal"`
	Discounts      []DiscountResponse `json:"discounts"`
	TotalDiscount  types.Money        `json:"totalDiscount"`
	FinalAmount    types.Money        `json:"finalAmount"`
	PointsEarned   int64              `json:"pointsEarned"`
	PointsRedeemed int64              `json:"pointsRedeemed"`
	Finalized      bool               `json:"finalized"`
	CalculatedAt   time.Time          `json:"calculatedAt"`
}

// AvailableCouponResponse describes a coupon the caller may redeem.
type AvailableCouponResponse struct {
	Code         string       `json:"code"`
	DiscountType string       `json:"discountType"`
	Value        types.Money  `json:"value"`
	Cap          *types.Money `json:"cap,omitempty"`
	MinOrder     *types.Money `json:"minOrder,omitempty"`
}

// CalculateResponse is the preview result plus redeemable coupons.
type CalculateResponse struct {
	Calculation      CalculationResponse       `json:"calculation"`
	AvailableCoupons []AvailableCouponResponse `json:"availableCoupons"`
}

// CalculationListResponse wraps the snapshot history of a transaction.
type CalculationListResponse struct {
	Items      []CalculationResponse `json:"items"`
	TotalCount int                   `json:"totalCount"`
}

// FromCalculation maps a domain calculation result.
func FromCalculation(result *checkout.CalculationResult) CalculationResponse {
	discounts := make([]DiscountResponse, 0, len(result.Discounts))
	for _, d := range result.Discounts {
		discounts = append(discounts, DiscountResponse{
			Source:        string(d.Source),
			SourceID:      d.SourceID.String(),
			Name:          d.Name,
			RawValue:      d.RawValue,
			AppliedAmount: d.AppliedAmount,
			Applied:       d.Applied,
			Priority:      d.Priority,
		})
	}

	return CalculationResponse{
		ID:             result.ID.String(),
		TransactionRef: result.TransactionRef,
		Subtotal:       result.Subtotal,
		Discounts:      discounts,
		TotalDiscount:  result.TotalDiscount,
		FinalAmount:    result.FinalAmount,
		PointsEarned:   result.PointsEarned,
		PointsRedeemed: result.PointsRedeemed,
		Finalized:      result.Finalized,
		CalculatedAt:   result.CalculatedAt,
	}
}

// FromCoupons maps available coupons. Usage counters stay internal.
func FromCoupons(coupons []benefit.Coupon) []AvailableCouponResponse {
	out := make([]AvailableCouponResponse, 0, len(coupons))
	for _, c := range coupons {
		out = append(out, AvailableCouponResponse{
			Code:         c.Code,
			DiscountType: string(c.DiscountType),
			Value:        c.Value,
			Cap:          c.Cap,
			MinOrder:     c.MinOrder,
		})
	}
	return out
}

// --- Common ---

// IDResponse contains created entity ID.
type IDResponse struct {
	ID string `json:"id"`
}

// SuccessResponse is a generic operation result.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
