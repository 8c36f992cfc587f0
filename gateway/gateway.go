/*
Package gateway adapts the hosted payment provider to the accounting engine.

PURPOSE:
  Two one-way doors between the engine and the payment provider:

  Outbound: Client.CreateCheckoutSession turns an investment intent
  into a hosted checkout session and returns the redirect URL. This
  never mutates the ledger - settlement happens only on confirmation.

  Inbound:  Verifier.Verify authenticates a webhook delivery
  (HMAC-SHA256 over "timestamp.payload", provider-style signature
  header), and ParseEvent turns a checkout.session.completed event
  into a royalty.Settlement carrying the provider event ID as the
  idempotency key.

SECURITY:
  A webhook body is untrusted input until Verify passes. The signature
  header carries the signing timestamp; deliveries outside the
  tolerance window are rejected to blunt replay of captured payloads
  (the engine's event-ID dedup catches the rest).

SEE ALSO:
  - royalty/engine.go: Consumer of the parsed Settlement
  - api/handlers.go: HTTP wiring for both directions
*/
package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tunevest/royalty-engine/royalty"
)

var (
	// ErrInvalidSignature is returned when a webhook delivery fails
	// signature verification. The body must not be acted on.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrInvalidPayload is returned for undecodable webhook bodies.
	ErrInvalidPayload = errors.New("invalid webhook payload")

	// ErrEventIgnored is returned for event types the engine doesn't
	// consume. Callers acknowledge these with 200 and move on.
	ErrEventIgnored = errors.New("event type ignored")
)

// =============================================================================
// CHECKOUT CLIENT (outbound)
// =============================================================================

// Client creates hosted checkout sessions.
type Client struct {
	APIKey     string
	BaseURL    string // defaults to the provider endpoint
	HTTPClient *http.Client
}

const defaultBaseURL = "https://api.stripe.com"

// CheckoutParams describes one investment checkout.
type CheckoutParams struct {
	SongID     royalty.SongID
	UserID     royalty.UserID
	Amount     decimal.Decimal // whole-dollar minimum enforced upstream
	SongTitle  string
	ArtistName string
	SuccessURL string
	CancelURL  string
}

// CheckoutSession is the provider's session handle.
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CreateCheckoutSession opens a payment session for the given
// contribution. The song/user/amount ride along as metadata and come
// back on the confirmation event; nothing is written to the ledger here.
func (c *Client) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*CheckoutSession, error) {
	if p.Amount.Sign() <= 0 {
		return nil, &royalty.InvalidAmountError{Amount: p.Amount.String(), Reason: "must be positive"}
	}

	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("payment_method_types[0]", "card")
	form.Set("line_items[0][price_data][currency]", "usd")
	form.Set("line_items[0][price_data][product_data][name]",
		fmt.Sprintf("Investment in %q", p.SongTitle))
	form.Set("line_items[0][price_data][product_data][description]",
		fmt.Sprintf("Royalty investment in %s by %s", p.SongTitle, p.ArtistName))
	form.Set("line_items[0][price_data][unit_amount]",
		p.Amount.Mul(decimal.NewFromInt(100)).Round(0).String())
	form.Set("line_items[0][quantity]", "1")
	form.Set("success_url", p.SuccessURL)
	form.Set("cancel_url", p.CancelURL)
	form.Set("metadata[songId]", string(p.SongID))
	form.Set("metadata[userId]", string(p.UserID))
	form.Set("metadata[amount]", p.Amount.String())

	base := c.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		base+"/v1/checkout/sessions", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("checkout session request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("checkout session rejected: status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var session CheckoutSession
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, fmt.Errorf("checkout session response undecodable: %w", err)
	}
	if session.URL == "" {
		return nil, errors.New("checkout session response missing redirect url")
	}
	return &session, nil
}

// =============================================================================
// WEBHOOK VERIFICATION (inbound)
// =============================================================================

// Verifier authenticates webhook deliveries.
type Verifier struct {
	Secret string

	// Tolerance bounds the age of the signing timestamp; zero means
	// DefaultTolerance.
	Tolerance time.Duration

	// now is overridable in tests.
	now func() time.Time
}

const DefaultTolerance = 5 * time.Minute

// SignatureHeader is the header carrying the webhook signature.
const SignatureHeader = "Payment-Signature"

// Verify checks the signature header against the raw request body.
// The header format is "t=<unix>,v1=<hex hmac>[,v1=...]" with the HMAC
// computed over "<unix>.<body>".
func (v *Verifier) Verify(payload []byte, sigHeader string) error {
	sigHeader = strings.TrimSpace(sigHeader)
	if sigHeader == "" {
		return ErrInvalidSignature
	}

	timestamp, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return ErrInvalidSignature
	}

	tolerance := v.Tolerance
	if tolerance == 0 {
		tolerance = DefaultTolerance
	}
	now := time.Now
	if v.now != nil {
		now = v.now
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	age := now().UTC().Sub(time.Unix(ts, 0))
	if age > tolerance || age < -tolerance {
		return ErrInvalidSignature
	}

	expected := computeSignature(v.Secret, timestamp, payload)
	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// Sign produces a valid signature header for the payload at time t.
// Exported for tests and local webhook replay tooling.
func Sign(secret string, t time.Time, payload []byte) string {
	timestamp := strconv.FormatInt(t.Unix(), 10)
	return fmt.Sprintf("t=%s,v1=%s", timestamp, computeSignature(secret, timestamp, payload))
}

func computeSignature(secret, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func parseSignatureHeader(header string) (timestamp string, signatures []string, err error) {
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("malformed signature header")
	}
	return timestamp, signatures, nil
}

// =============================================================================
// EVENT PARSING (inbound)
// =============================================================================

type webhookEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			Metadata map[string]string `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

// ParseEvent decodes a verified webhook body into a Settlement.
// Only checkout.session.completed feeds the engine; everything else
// returns ErrEventIgnored.
func ParseEvent(payload []byte) (*royalty.Settlement, error) {
	var event webhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, ErrInvalidPayload
	}
	if strings.TrimSpace(event.Type) != "checkout.session.completed" {
		return nil, ErrEventIgnored
	}

	meta := event.Data.Object.Metadata
	songID := strings.TrimSpace(meta["songId"])
	userID := strings.TrimSpace(meta["userId"])
	rawAmount := strings.TrimSpace(meta["amount"])
	if songID == "" || userID == "" || rawAmount == "" {
		return nil, fmt.Errorf("%w: missing metadata", ErrInvalidPayload)
	}

	amount, err := decimal.NewFromString(rawAmount)
	if err != nil {
		return nil, fmt.Errorf("%w: bad amount %q", ErrInvalidPayload, rawAmount)
	}

	return &royalty.Settlement{
		EventID: event.ID,
		SongID:  royalty.SongID(songID),
		UserID:  royalty.UserID(userID),
		Amount:  amount,
	}, nil
}
