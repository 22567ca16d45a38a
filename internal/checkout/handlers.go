package checkout

import (
	"errors"
	"io"
	"net/http"

	"harbormaster/internal/accounts"
	"harbormaster/pkg/ctxkeys"
	"harbormaster/pkg/logging"
	"harbormaster/pkg/models"

	"github.com/gin-gonic/gin"
)

const maxWebhookBodyBytes int64 = 1 << 20

var (
	registry *accounts.Registry
	client   *Client
	logger   logging.Logger
)

// Init wires the package dependencies for the HTTP handlers.
func Init(r *accounts.Registry, c *Client, log logging.Logger) {
	registry = r
	client = c
	logger = log
}

// TopUpHandler creates a Stripe Checkout Session for the authenticated
// account. POST /billing/topup
func TopUpHandler(c *gin.Context) {
	var req models.TopUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.APIError{
			Error:   "invalid_request",
			Message: "credits must be a positive integer",
			Status:  http.StatusBadRequest,
		})
		return
	}

	accountID := ctxkeys.GetAccountID(c.Request.Context())
	account, err := registry.GetByID(c.Request.Context(), accountID)
	if err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			c.JSON(http.StatusNotFound, models.APIError{
				Error:   "account_not_found",
				Message: "Account no longer exists",
				Status:  http.StatusNotFound,
			})
			return
		}
		logger.WithError(err).WithField("account_id", accountID).Error("Account lookup for top-up failed")
		c.JSON(http.StatusInternalServerError, models.APIError{
			Error:   "topup_failed",
			Message: "Could not start a top-up, please retry",
			Status:  http.StatusInternalServerError,
		})
		return
	}

	sess, err := client.CreateTopUpSession(c.Request.Context(), account, req.Credits)
	if err != nil {
		logger.WithError(err).WithFields(logging.Fields{
			"account_id": account.ID,
			"credits":    req.Credits,
		}).Error("Failed to create Stripe checkout session")
		c.JSON(http.StatusInternalServerError, models.APIError{
			Error:   "checkout_unavailable",
			Message: "Could not reach the payment provider, please retry",
			Status:  http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, models.CheckoutResponse{
		CheckoutURL: sess.URL,
		SessionID:   sess.ID,
	})
}

// WebhookHandler processes Stripe events. POST /webhooks/stripe
//
// Only checkout.session.completed with a top-up purpose moves money. Anything
// else is acknowledged so Stripe stops redelivering it. Failures a retry can
// heal return 5xx; the ledger's unique reference id keeps redelivery from
// crediting twice.
func WebhookHandler(c *gin.Context) {
	if c.Request.ContentLength > maxWebhookBodyBytes {
		c.JSON(http.StatusRequestEntityTooLarge, models.APIError{
			Error:   "payload_too_large",
			Message: "Webhook payload too large",
			Status:  http.StatusRequestEntityTooLarge,
		})
		return
	}

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes+1))
	if err != nil {
		logger.WithError(err).Error("Failed to read webhook body")
		c.JSON(http.StatusBadRequest, models.APIError{
			Error:   "invalid_request",
			Message: "Failed to read webhook body",
			Status:  http.StatusBadRequest,
		})
		return
	}
	if int64(len(payload)) > maxWebhookBodyBytes {
		c.JSON(http.StatusRequestEntityTooLarge, models.APIError{
			Error:   "payload_too_large",
			Message: "Webhook payload too large",
			Status:  http.StatusRequestEntityTooLarge,
		})
		return
	}

	event, err := client.VerifyAndParseWebhook(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		logger.WithError(err).Warn("Rejected Stripe webhook")
		c.JSON(http.StatusBadRequest, models.APIError{
			Error:   "invalid_signature",
			Message: "Webhook signature verification failed",
			Status:  http.StatusBadRequest,
		})
		return
	}

	if event.Type != "checkout.session.completed" {
		logger.WithField("type", string(event.Type)).Debug("Ignoring Stripe event")
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	sess, err := client.CheckoutSessionFromEvent(event)
	if err != nil {
		logger.WithError(err).Warn("Malformed checkout.session.completed payload")
		c.JSON(http.StatusBadRequest, models.APIError{
			Error:   "invalid_payload",
			Message: "Could not parse checkout session",
			Status:  http.StatusBadRequest,
		})
		return
	}

	topup, err := TopUpFromSession(sess)
	if err != nil {
		// Metadata this service stamped is wrong; redelivery cannot fix it.
		logger.WithError(err).Error("Ignoring top-up session with malformed metadata")
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}
	if topup == nil {
		logger.WithFields(logging.Fields{
			"session_id": sess.ID,
			"purpose":    sess.Metadata["purpose"],
		}).Warn("Unknown checkout purpose, ignoring")
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	ctx := c.Request.Context()
	account, err := registry.ApplyTopUp(ctx, topup.AccountToken, topup.Credits, topup.SessionID)
	if err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			logger.WithField("session_id", topup.SessionID).Warn("Top-up for unknown account, ignoring")
			c.JSON(http.StatusOK, gin.H{"received": true})
			return
		}
		logger.WithError(err).WithField("session_id", topup.SessionID).Error("Top-up credit failed")
		c.JSON(http.StatusInternalServerError, models.APIError{
			Error:   "topup_failed",
			Message: "Credit application failed, delivery will be retried",
			Status:  http.StatusInternalServerError,
		})
		return
	}

	if topup.CustomerID != "" {
		if err := registry.AttachStripeCustomer(ctx, topup.AccountToken, topup.CustomerID); err != nil {
			logger.WithError(err).Warn("Failed to record Stripe customer id")
		}
	}

	logger.WithFields(logging.Fields{
		"account_id": account.ID,
		"credits":    topup.Credits,
		"balance":    account.Balance,
		"session_id": topup.SessionID,
	}).Info("Credited top-up from Stripe checkout")

	c.JSON(http.StatusOK, gin.H{"received": true})
}
