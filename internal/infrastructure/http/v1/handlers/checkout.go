package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"benefix/internal/core/apperror"
	"benefix/internal/domain/checkout"
	"benefix/internal/infrastructure/http/v1/dto"
)

// CheckoutHandler handles HTTP requests for checkout calculations.
type CheckoutHandler struct {
	*BaseHandler
	service *checkout.Service
}

// NewCheckoutHandler creates a new checkout handler.
func NewCheckoutHandler(base *BaseHandler, service *checkout.Service) *CheckoutHandler {
	return &CheckoutHandler{
		BaseHandler: base,
		service:     service,
	}
}

// Calculate previews the discount allocation for a cart.
// POST /checkout/calculate
func (h *CheckoutHandler) Calculate(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.CalculateRequest
	if !h.BindJSON(c, &req) {
		return
	}

	trx, err := req.ToTransaction()
	if err != nil {
		h.Error(c, err)
		return
	}

	result, coupons, err := h.service.Calculate(ctx, trx)
	if err != nil {
		h.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.CalculateResponse{
		Calculation:      dto.FromCalculation(result),
		AvailableCoupons: dto.FromCoupons(coupons),
	})
}

// Finalize commits a transaction, redeeming coupons and settling points.
// POST /checkout/finalize
func (h *CheckoutHandler) Finalize(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.FinalizeRequest
	if !h.BindJSON(c, &req) {
		return
	}

	trx, err := req.ToTransaction()
	if err != nil {
		h.Error(c, err)
		return
	}

	result, err := h.service.Finalize(ctx, trx, req.CouponCodes, req.RedeemPoints)
	if err != nil {
		h.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.FromCalculation(result))
}

// History returns the recorded snapshot history for a transaction.
// GET /checkout/calculations/:ref
func (h *CheckoutHandler) History(c *gin.Context) {
	ctx := c.Request.Context()

	ref := c.Param("ref")
	if ref == "" {
		h.Error(c, apperror.NewValidation("transaction ref is required"))
		return
	}

	results, err := h.service.Calculations(ctx, ref)
	if err != nil {
		h.Error(c, err)
		return
	}

	items := make([]dto.CalculationResponse, 0, len(results))
	for i := range results {
		items = append(items, dto.FromCalculation(&results[i]))
	}

	c.JSON(http.StatusOK, dto.CalculationListResponse{
		Items:      items,
		TotalCount: len(items),
	})
}

// RegisterRoutes registers checkout routes.
func (h *CheckoutHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/calculate", h.Calculate)
	rg.POST("/finalize", h.Finalize)
	rg.GET("/calculations/:ref", h.History)
}
