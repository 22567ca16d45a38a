// Package checkout sells credits through Stripe Checkout. It owns the only
// code that talks to Stripe: the gate hands out an opaque payment link and
// never calls the payment provider on the request path. Credits land on an
// account when Stripe confirms payment through the webhook.
package checkout

import (
	"context"
	"fmt"
	"strconv"

	"harbormaster/pkg/logging"
	"harbormaster/pkg/models"

	"github.com/stripe/stripe-go/v82"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/webhook"
)

// PurposeTopUp marks sessions created by this package. Completed sessions
// with any other purpose are acknowledged and ignored by the webhook.
const PurposeTopUp = "topup"

// Client wraps the Stripe API operations behind credit top-ups. All purchases
// flow through hosted Stripe Checkout pages.
type Client struct {
	secretKey        string
	webhookSecret    string
	creditPriceCents int64
	successURL       string
	cancelURL        string
	logger           logging.Logger
}

// Config for creating a new Stripe client
type Config struct {
	SecretKey        string // STRIPE_SECRET_KEY
	WebhookSecret    string // STRIPE_WEBHOOK_SECRET
	CreditPriceCents int64  // price of one credit, in cents
	SuccessURL       string // where Stripe sends the buyer after payment
	CancelURL        string // where Stripe sends the buyer on abort
	Logger           logging.Logger
}

// NewClient creates a new Stripe client
func NewClient(config Config) *Client {
	// Set the global API key for the stripe-go library
	stripe.Key = config.SecretKey

	cancelURL := config.CancelURL
	if cancelURL == "" {
		cancelURL = config.SuccessURL
	}

	return &Client{
		secretKey:        config.SecretKey,
		webhookSecret:    config.WebhookSecret,
		creditPriceCents: config.CreditPriceCents,
		successURL:       config.SuccessURL,
		cancelURL:        cancelURL,
		logger:           config.Logger,
	}
}

// CreateTopUpSession opens a payment-mode Checkout Session selling the given
// number of credits. The account token and credit count travel in the session
// metadata; nothing is credited until the webhook sees the session complete.
func (c *Client) CreateTopUpSession(ctx context.Context, account models.Account, credits int64) (*stripe.CheckoutSession, error) {
	if credits <= 0 {
		return nil, fmt.Errorf("credits must be positive, got %d", credits)
	}

	metadata := map[string]string{
		"purpose":       PurposeTopUp,
		"account_token": account.Token,
		"credits":       strconv.FormatInt(credits, 10),
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(string(stripe.CurrencyUSD)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name:        stripe.String("API credits"),
						Description: stripe.String(fmt.Sprintf("%d credits, one metered request each", credits)),
					},
					UnitAmount: stripe.Int64(c.creditPriceCents),
				},
				Quantity: stripe.Int64(credits),
			},
		},
		SuccessURL: stripe.String(c.successURL),
		CancelURL:  stripe.String(c.cancelURL),
		Metadata:   metadata,
	}

	// Returning buyers keep their Stripe customer; first-time buyers get the
	// checkout form pre-filled with their account email.
	if account.StripeCustomerID != nil && *account.StripeCustomerID != "" {
		params.Customer = stripe.String(*account.StripeCustomerID)
	} else if account.Email != "" {
		params.CustomerEmail = stripe.String(account.Email)
	}

	sess, err := checkoutsession.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	c.logger.WithFields(map[string]interface{}{
		"session_id":   sess.ID,
		"account_id":   account.ID,
		"credits":      credits,
		"amount_cents": credits * c.creditPriceCents,
	}).Info("Created top-up checkout session")

	return sess, nil
}

// VerifyAndParseWebhook verifies the webhook signature and parses the event
func (c *Client) VerifyAndParseWebhook(payload []byte, signature string) (*stripe.Event, error) {
	event, err := webhook.ConstructEvent(payload, signature, c.webhookSecret)
	if err != nil {
		return nil, fmt.Errorf("webhook signature verification failed: %w", err)
	}
	return &event, nil
}

// CheckoutSessionFromEvent extracts checkout session from a webhook event
func (c *Client) CheckoutSessionFromEvent(event *stripe.Event) (*stripe.CheckoutSession, error) {
	if event.Type != "checkout.session.completed" {
		return nil, fmt.Errorf("event type %s is not checkout.session.completed", event.Type)
	}

	var sess stripe.CheckoutSession
	if err := sess.UnmarshalJSON(event.Data.Raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkout session: %w", err)
	}
	return &sess, nil
}

// TopUpDetails are decoded from the metadata this package stamps onto every
// top-up session it creates.
type TopUpDetails struct {
	AccountToken string
	Credits      int64
	SessionID    string
	CustomerID   string // Stripe customer attached during checkout, if any
}

// TopUpFromSession decodes top-up metadata from a completed checkout session.
// Sessions created for other purposes return (nil, nil) so callers can
// acknowledge and skip them.
func TopUpFromSession(sess *stripe.CheckoutSession) (*TopUpDetails, error) {
	if sess.Metadata["purpose"] != PurposeTopUp {
		return nil, nil
	}

	token := sess.Metadata["account_token"]
	if token == "" {
		return nil, fmt.Errorf("top-up session %s has no account token", sess.ID)
	}
	credits, err := strconv.ParseInt(sess.Metadata["credits"], 10, 64)
	if err != nil || credits <= 0 {
		return nil, fmt.Errorf("top-up session %s has invalid credits %q", sess.ID, sess.Metadata["credits"])
	}

	details := &TopUpDetails{
		AccountToken: token,
		Credits:      credits,
		SessionID:    sess.ID,
	}
	if sess.Customer != nil {
		details.CustomerID = sess.Customer.ID
	}
	return details, nil
}
