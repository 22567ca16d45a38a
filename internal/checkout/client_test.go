package checkout

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"harbormaster/pkg/models"

	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v82"
)

const stripeTestSecret = "whsec_test"

func newTestClient() *Client {
	return NewClient(Config{
		SecretKey:        "sk_test_x",
		WebhookSecret:    stripeTestSecret,
		CreditPriceCents: 10,
		SuccessURL:       "https://pay.example/done",
		Logger:           logrus.New(),
	})
}

// stripeSignatureHeader builds a Stripe-Signature header the way Stripe signs
// deliveries: v1 = HMAC-SHA256 over "<timestamp>.<payload>".
func stripeSignatureHeader(payload []byte, secret string, timestamp int64) string {
	signedPayload := fmt.Sprintf("%d.%s", timestamp, payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signedPayload))
	return fmt.Sprintf("t=%d,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}

func signedEvent(t *testing.T, secret, eventType, objectJSON string) ([]byte, string) {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"id":          "evt_test_1",
		"object":      "event",
		"api_version": stripe.APIVersion,
		"type":        eventType,
		"data":        map[string]interface{}{"object": json.RawMessage(objectJSON)},
	})
	if err != nil {
		t.Fatalf("failed to marshal event: %v", err)
	}
	return body, stripeSignatureHeader(body, secret, time.Now().Unix())
}

func TestVerifyAndParseWebhook(t *testing.T) {
	client := newTestClient()
	body, header := signedEvent(t, stripeTestSecret, "checkout.session.completed",
		`{"id":"cs_1","object":"checkout.session"}`)

	event, err := client.VerifyAndParseWebhook(body, header)
	if err != nil {
		t.Fatalf("VerifyAndParseWebhook: %v", err)
	}
	if string(event.Type) != "checkout.session.completed" {
		t.Fatalf("event type = %s", event.Type)
	}
}

func TestVerifyAndParseWebhookRejectsBadSignature(t *testing.T) {
	client := newTestClient()
	body, _ := signedEvent(t, stripeTestSecret, "checkout.session.completed", `{"id":"cs_1"}`)
	header := stripeSignatureHeader(body, "whsec_other", time.Now().Unix())

	if _, err := client.VerifyAndParseWebhook(body, header); err == nil {
		t.Fatal("forged signature must be rejected")
	}
}

func TestVerifyAndParseWebhookRejectsStaleTimestamp(t *testing.T) {
	client := newTestClient()
	body, _ := signedEvent(t, stripeTestSecret, "checkout.session.completed", `{"id":"cs_1"}`)
	header := stripeSignatureHeader(body, stripeTestSecret, time.Now().Add(-time.Hour).Unix())

	if _, err := client.VerifyAndParseWebhook(body, header); err == nil {
		t.Fatal("replayed delivery outside the tolerance window must be rejected")
	}
}

func TestCheckoutSessionFromEvent(t *testing.T) {
	client := newTestClient()
	body, header := signedEvent(t, stripeTestSecret, "checkout.session.completed",
		`{"id":"cs_42","object":"checkout.session","customer":"cus_7","metadata":{"purpose":"topup","account_token":"tok-1","credits":"50"}}`)

	event, err := client.VerifyAndParseWebhook(body, header)
	if err != nil {
		t.Fatalf("VerifyAndParseWebhook: %v", err)
	}
	sess, err := client.CheckoutSessionFromEvent(event)
	if err != nil {
		t.Fatalf("CheckoutSessionFromEvent: %v", err)
	}

	if sess.ID != "cs_42" {
		t.Fatalf("session id = %q", sess.ID)
	}
	if sess.Customer == nil || sess.Customer.ID != "cus_7" {
		t.Fatalf("customer = %+v", sess.Customer)
	}
	if sess.Metadata["credits"] != "50" {
		t.Fatalf("metadata = %v", sess.Metadata)
	}
}

func TestCheckoutSessionFromEventWrongType(t *testing.T) {
	client := newTestClient()

	if _, err := client.CheckoutSessionFromEvent(&stripe.Event{Type: "invoice.paid"}); err == nil {
		t.Fatal("non-checkout events must be rejected")
	}
}

func TestTopUpFromSession(t *testing.T) {
	details, err := TopUpFromSession(&stripe.CheckoutSession{
		ID:       "cs_1",
		Customer: &stripe.Customer{ID: "cus_9"},
		Metadata: map[string]string{"purpose": "topup", "account_token": "tok-1", "credits": "25"},
	})
	if err != nil {
		t.Fatalf("TopUpFromSession: %v", err)
	}
	if details.AccountToken != "tok-1" || details.Credits != 25 {
		t.Fatalf("details = %+v", details)
	}
	if details.SessionID != "cs_1" || details.CustomerID != "cus_9" {
		t.Fatalf("details = %+v", details)
	}
}

func TestTopUpFromSessionIgnoresForeignPurpose(t *testing.T) {
	details, err := TopUpFromSession(&stripe.CheckoutSession{
		ID:       "cs_2",
		Metadata: map[string]string{"purpose": "subscription"},
	})
	if err != nil || details != nil {
		t.Fatalf("foreign purposes must be skipped, got %+v, %v", details, err)
	}
}

func TestTopUpFromSessionRejectsBadMetadata(t *testing.T) {
	cases := []map[string]string{
		{"purpose": "topup", "credits": "25"},
		{"purpose": "topup", "account_token": "tok-1"},
		{"purpose": "topup", "account_token": "tok-1", "credits": "not-a-number"},
		{"purpose": "topup", "account_token": "tok-1", "credits": "-2"},
	}
	for _, metadata := range cases {
		if _, err := TopUpFromSession(&stripe.CheckoutSession{ID: "cs_3", Metadata: metadata}); err == nil {
			t.Fatalf("metadata %v must be rejected", metadata)
		}
	}
}

func TestCreateTopUpSessionRejectsNonPositiveCredits(t *testing.T) {
	client := newTestClient()

	if _, err := client.CreateTopUpSession(context.Background(), models.Account{Token: "tok-1"}, 0); err == nil {
		t.Fatal("zero credits must be rejected")
	}
	if _, err := client.CreateTopUpSession(context.Background(), models.Account{Token: "tok-1"}, -5); err == nil {
		t.Fatal("negative credits must be rejected")
	}
}
