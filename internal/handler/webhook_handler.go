package handler

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"

	"github.com/daleelbalady/payment-engine/internal/domain"
	"github.com/daleelbalady/payment-engine/internal/metrics"
	"github.com/daleelbalady/payment-engine/internal/service"
	"github.com/daleelbalady/payment-engine/pkg/logger"
	"github.com/daleelbalady/payment-engine/pkg/response"
)

// PaymobSignatureHeader carries the hex HMAC-SHA512 of the raw body.
const PaymobSignatureHeader = "X-Paymob-Signature"

// WebhookHandler ingests provider callbacks. Signature verification runs
// against the raw request bytes before anything is parsed; an unverified
// request causes no side effects.
type WebhookHandler struct {
	paymentService      service.PaymentService
	paymobHMACSecret    []byte
	stripeWebhookSecret string
	log                 *logger.Logger
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(paymentService service.PaymentService, paymobHMACSecret, stripeWebhookSecret string, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		paymentService:      paymentService,
		paymobHMACSecret:    []byte(paymobHMACSecret),
		stripeWebhookSecret: stripeWebhookSecret,
		log:                 log,
	}
}

type paymobWebhookPayload struct {
	Type string `json:"type"`
	Obj  struct {
		ID           int64 `json:"id"`
		Success      bool  `json:"success"`
		Pending      bool  `json:"pending"`
		ErrorOccured bool  `json:"error_occured"`
		AmountCents  int64 `json:"amount_cents"`
		Order        struct {
			ID              int64  `json:"id"`
			MerchantOrderID string `json:"merchant_order_id"`
		} `json:"order"`
		Data struct {
			Message string `json:"message"`
		} `json:"data"`
	} `json:"obj"`
}

// HandlePaymobWebhook handles POST /webhooks/paymob
func (h *WebhookHandler) HandlePaymobWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.BadRequest(c, "failed to read request body")
		return
	}

	if !h.verifyPaymobSignature(payload, c.GetHeader(PaymobSignatureHeader)) {
		metrics.RecordWebhookRejected(c.Request.Context(), "paymob")
		h.log.Warn("paymob webhook signature rejected")
		response.Error(c, http.StatusUnauthorized, "SIGNATURE_INVALID", "webhook signature verification failed", "")
		return
	}

	var event paymobWebhookPayload
	if err := json.Unmarshal(payload, &event); err != nil {
		response.BadRequest(c, "failed to parse event")
		return
	}
	metrics.RecordWebhookReceived(c.Request.Context(), "paymob", event.Type)
	if event.Type != "TRANSACTION" || event.Obj.Order.MerchantOrderID == "" {
		response.Success(c, gin.H{"received": true})
		return
	}

	now := time.Now().UTC()
	providerEvent := service.ProviderEvent{
		PaymentRef:            event.Obj.Order.MerchantOrderID,
		ProviderTransactionID: strconv.FormatInt(event.Obj.ID, 10),
		PaidAt:                &now,
	}

	switch {
	case event.Obj.Success:
		err = h.paymentService.ApplySuccess(c.Request.Context(), providerEvent)
	case !event.Obj.Pending:
		providerEvent.Reason = event.Obj.Data.Message
		err = h.paymentService.ApplyFailure(c.Request.Context(), providerEvent)
	}
	h.ack(c, "paymob", err)
}

// HandleStripeWebhook handles POST /webhooks/stripe
func (h *WebhookHandler) HandleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.BadRequest(c, "failed to read request body")
		return
	}

	event, err := webhook.ConstructEvent(payload, c.GetHeader("Stripe-Signature"), h.stripeWebhookSecret)
	if err != nil {
		metrics.RecordWebhookRejected(c.Request.Context(), "stripe")
		h.log.Warn("stripe webhook signature rejected", zap.Error(err))
		response.Error(c, http.StatusUnauthorized, "SIGNATURE_INVALID", "webhook signature verification failed", "")
		return
	}
	metrics.RecordWebhookReceived(c.Request.Context(), "stripe", string(event.Type))

	switch event.Type {
	case "payment_intent.succeeded":
		h.handleStripeSucceeded(c, event)
	case "payment_intent.payment_failed":
		h.handleStripeFailed(c, event)
	case "charge.dispute.created":
		h.handleStripeDispute(c, event)
	default:
		response.Success(c, gin.H{"received": true})
	}
}

func (h *WebhookHandler) handleStripeSucceeded(c *gin.Context, event stripe.Event) {
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		response.BadRequest(c, "failed to parse event data")
		return
	}

	providerEvent := service.ProviderEvent{
		PaymentRef:            intent.Metadata["payment_ref"],
		ProviderPaymentID:     intent.ID,
		ProviderTransactionID: intent.ID,
	}
	if intent.Created > 0 {
		paidAt := time.Unix(intent.Created, 0).UTC()
		providerEvent.PaidAt = &paidAt
	}
	h.ack(c, "stripe", h.paymentService.ApplySuccess(c.Request.Context(), providerEvent))
}

func (h *WebhookHandler) handleStripeFailed(c *gin.Context, event stripe.Event) {
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		response.BadRequest(c, "failed to parse event data")
		return
	}

	reason := "payment failed"
	if intent.LastPaymentError != nil && intent.LastPaymentError.Msg != "" {
		reason = intent.LastPaymentError.Msg
	}
	h.ack(c, "stripe", h.paymentService.ApplyFailure(c.Request.Context(), service.ProviderEvent{
		PaymentRef:        intent.Metadata["payment_ref"],
		ProviderPaymentID: intent.ID,
		Reason:            reason,
	}))
}

func (h *WebhookHandler) handleStripeDispute(c *gin.Context, event stripe.Event) {
	var dispute stripe.Dispute
	if err := json.Unmarshal(event.Data.Raw, &dispute); err != nil {
		response.BadRequest(c, "failed to parse event data")
		return
	}

	disputeEvent := service.DisputeEvent{
		ProviderDisputeID: dispute.ID,
		Amount:            float64(dispute.Amount) / 100,
		Reason:            string(dispute.Reason),
	}
	if dispute.PaymentIntent != nil {
		disputeEvent.ProviderPaymentID = dispute.PaymentIntent.ID
	}
	h.ack(c, "stripe", h.paymentService.RecordDispute(c.Request.Context(), disputeEvent))
}

// ack finishes a verified webhook. Unknown payments return 404 so the
// provider retries once the intent lands; anything else is acknowledged
// to stop redelivery.
func (h *WebhookHandler) ack(c *gin.Context, providerName string, err error) {
	if err != nil {
		if errors.Is(err, domain.ErrPaymentNotFound) {
			response.NotFound(c, "payment not found")
			return
		}
		h.log.Error("webhook processing failed",
			zap.String("provider", providerName),
			zap.Error(err))
	}
	response.Success(c, gin.H{"received": true})
}

func (h *WebhookHandler) verifyPaymobSignature(payload []byte, signature string) bool {
	if signature == "" || len(h.paymobHMACSecret) == 0 {
		return false
	}
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha512.New, h.paymobHMACSecret)
	mac.Write(payload)
	return hmac.Equal(provided, mac.Sum(nil))
}

