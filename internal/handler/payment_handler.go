package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/daleelbalady/payment-engine/internal/domain"
	"github.com/daleelbalady/payment-engine/internal/dto"
	"github.com/daleelbalady/payment-engine/internal/repository"
	"github.com/daleelbalady/payment-engine/internal/security"
	"github.com/daleelbalady/payment-engine/internal/service"
	"github.com/daleelbalady/payment-engine/pkg/middleware"
	"github.com/daleelbalady/payment-engine/pkg/response"
)

// PaymentHandler handles payment HTTP endpoints
type PaymentHandler struct {
	paymentService service.PaymentService
}

// NewPaymentHandler creates a new PaymentHandler
func NewPaymentHandler(paymentService service.PaymentService) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
	}
}

func callerFrom(c *gin.Context) (service.Caller, bool) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return service.Caller{}, false
	}
	role, _ := middleware.GetRole(c)
	return service.Caller{UserID: userID, Role: service.Role(role)}, true
}

// CreateIntent handles POST /payments/intents
func (h *PaymentHandler) CreateIntent(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		response.Unauthorized(c, "authentication required")
		return
	}

	var req dto.CreateIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	svcReq := &service.CreateIntentRequest{
		UserID:      caller.UserID,
		ServiceID:   req.ServiceID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Provider:    req.Provider,
		Metadata:    req.Metadata,
		ClientIP:    c.ClientIP(),
		Fingerprint: security.Fingerprint(c.Request, c.ClientIP()),
	}
	if req.Latitude != nil && req.Longitude != nil {
		svcReq.Latitude = *req.Latitude
		svcReq.Longitude = *req.Longitude
		svcReq.HasLocation = true
	}

	res, err := h.paymentService.CreateIntent(c.Request.Context(), svcReq)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	response.Created(c, dto.FromCreateResult(res))
}

// VerifyStatus handles GET /payments/:paymentRef
func (h *PaymentHandler) VerifyStatus(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		response.Unauthorized(c, "authentication required")
		return
	}

	res, err := h.paymentService.VerifyStatus(c.Request.Context(), c.Param("paymentRef"), caller)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	response.Success(c, dto.FromVerifyResult(res))
}

// Refund handles POST /payments/:paymentRef/refund
func (h *PaymentHandler) Refund(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		response.Unauthorized(c, "authentication required")
		return
	}

	var req dto.RefundRequest
	// Body is optional, an empty body means a full refund.
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		response.BadRequest(c, err.Error())
		return
	}

	refund, err := h.paymentService.Refund(c.Request.Context(), &service.RefundRequest{
		PaymentRef: c.Param("paymentRef"),
		Caller:     caller,
		Amount:     req.Amount,
		Reason:     req.Reason,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}

	response.Success(c, dto.FromRefund(refund))
}

// History handles GET /payments
func (h *PaymentHandler) History(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		response.Unauthorized(c, "authentication required")
		return
	}

	limit := 20
	offset := 0
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}
	if o := c.Query("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	items, err := h.paymentService.History(c.Request.Context(), caller.UserID, limit, offset)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	response.Success(c, dto.FromHistory(items))
}

// Report handles GET /reports/payments. Route-level role middleware keeps
// it admin-only.
func (h *PaymentHandler) Report(c *gin.Context) {
	filter := repository.ReportFilter{
		Provider: domain.Provider(c.Query("provider")),
		Status:   domain.PaymentStatus(c.Query("status")),
		UserID:   c.Query("user_id"),
	}
	if from := c.Query("from"); from != "" {
		parsed, err := time.Parse(time.RFC3339, from)
		if err != nil {
			response.BadRequest(c, "from must be RFC3339")
			return
		}
		filter.From = parsed
	}
	if to := c.Query("to"); to != "" {
		parsed, err := time.Parse(time.RFC3339, to)
		if err != nil {
			response.BadRequest(c, "to must be RFC3339")
			return
		}
		filter.To = parsed
	}

	report, err := h.paymentService.Report(c.Request.Context(), filter)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	response.Success(c, report)
}

// respondServiceError maps domain errors onto stable HTTP codes.
func respondServiceError(c *gin.Context, err error) {
	var rateLimit *service.RateLimitError
	if errors.As(err, &rateLimit) {
		c.Header("Retry-After", fmt.Sprintf("%d", int(rateLimit.RetryAfter.Seconds())))
		response.Error(c, http.StatusTooManyRequests, "RATE_LIMITED", "too many payment attempts", "")
		return
	}

	switch {
	case errors.Is(err, domain.ErrInvalidAmount):
		response.Error(c, http.StatusBadRequest, "INVALID_AMOUNT", "amount must be positive", "")
	case errors.Is(err, domain.ErrInvalidCurrency):
		response.Error(c, http.StatusBadRequest, "INVALID_CURRENCY", "unsupported currency", "")
	case errors.Is(err, domain.ErrUnsupportedProvider):
		response.Error(c, http.StatusBadRequest, "UNSUPPORTED_PROVIDER", "unsupported payment provider", "")
	case errors.Is(err, domain.ErrInvalidPaymentRef):
		response.Error(c, http.StatusBadRequest, "INVALID_PAYMENT_REF", "invalid payment reference", "")
	case errors.Is(err, domain.ErrInvalidRefundAmount):
		response.Error(c, http.StatusBadRequest, "INVALID_REFUND_AMOUNT", "refund amount exceeds refundable balance", "")
	case errors.Is(err, domain.ErrRefundUnsupported):
		response.Error(c, http.StatusBadRequest, "REFUND_UNSUPPORTED", "provider does not support programmatic refunds", "")
	case errors.Is(err, domain.ErrForbidden):
		response.Error(c, http.StatusForbidden, "FORBIDDEN", "not allowed to access this payment", "")
	case errors.Is(err, domain.ErrRefundWindowExpired):
		response.Error(c, http.StatusForbidden, "REFUND_WINDOW_EXPIRED", "self-service refund window has expired", "")
	case errors.Is(err, domain.ErrPaymentNotFound):
		response.NotFound(c, "payment not found")
	case errors.Is(err, domain.ErrRefundNotFound):
		response.NotFound(c, "refund not found")
	case errors.Is(err, domain.ErrAlreadyPaid):
		response.Error(c, http.StatusConflict, "ALREADY_PAID", "service already paid by this user", "")
	case errors.Is(err, domain.ErrNotEligible):
		response.Error(c, http.StatusConflict, "NOT_ELIGIBLE", "payment is not eligible for refund", "")
	case errors.Is(err, domain.ErrPaymentFinal):
		response.Error(c, http.StatusConflict, "PAYMENT_FINAL", "payment is in a final state", "")
	case errors.Is(err, domain.ErrConcurrencyConflict):
		response.Error(c, http.StatusConflict, "CONFLICT", "payment was modified concurrently", "")
	case errors.Is(err, domain.ErrProviderTimeout):
		response.Error(c, http.StatusBadGateway, "PROVIDER_TIMEOUT", "provider call timed out", "")
	case errors.Is(err, domain.ErrCreationFailed):
		response.Error(c, http.StatusBadGateway, "PROVIDER_ERROR", "payment creation failed at provider", "")
	default:
		response.InternalError(c, err)
	}
}
