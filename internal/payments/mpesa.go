package payments

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/adili-jewels/storefront/internal/domain"
)

var (
	// ErrInvalidPhone means the number does not look like a Kenyan mobile
	// number. Only the shape is checked, never the carrier.
	ErrInvalidPhone = errors.New("invalid phone number")

	// ErrAttemptPending means the session already has an authorization in
	// flight; the existing attempt is returned instead of charging twice.
	ErrAttemptPending = errors.New("payment attempt already in flight")
)

type MpesaConfig struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
	CallbackURL    string
}

// MpesaGateway drives the STK push flow: an out-of-band prompt lands on
// the customer's phone and the real confirmation arrives on the provider's
// asynchronous channel. The local call only ever returns a pending state.
type MpesaGateway struct {
	cfg        MpesaConfig
	httpClient *http.Client

	mu       sync.Mutex
	attempts map[string]*Attempt
}

func NewMpesaGateway(cfg MpesaConfig, client *http.Client) *MpesaGateway {
	return &MpesaGateway{
		cfg:        cfg,
		httpClient: client,
		attempts:   make(map[string]*Attempt),
	}
}

// NormalizePhone validates a plausible Kenyan mobile number and rewrites
// it to the 2547XXXXXXXX wire format.
func NormalizePhone(phone string) (string, error) {
	cleaned := strings.NewReplacer("+", "", " ", "", "-", "").Replace(strings.TrimSpace(phone))
	if cleaned == "" {
		return "", ErrInvalidPhone
	}
	for _, r := range cleaned {
		if r < '0' || r > '9' {
			return "", ErrInvalidPhone
		}
	}

	switch {
	case len(cleaned) == 12 && strings.HasPrefix(cleaned, "2547"):
		return cleaned, nil
	case len(cleaned) == 10 && strings.HasPrefix(cleaned, "07"):
		return "254" + cleaned[1:], nil
	case len(cleaned) == 9 && strings.HasPrefix(cleaned, "7"):
		return "254" + cleaned, nil
	}
	return "", ErrInvalidPhone
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResponse struct {
	CheckoutRequestID string `json:"CheckoutRequestID"`
	ResponseCode      string `json:"ResponseCode"`
	ResponseDesc      string `json:"ResponseDescription"`
}

// InitiatePush sends the STK prompt for a checkout session. Initiation is
// idempotent per session: resubmitting while an attempt is in flight
// returns the existing attempt with ErrAttemptPending rather than issuing
// a second provider charge.
func (g *MpesaGateway) InitiatePush(ctx context.Context, sessionID, phone string, amount int64) (*Attempt, error) {
	normalized, err := NormalizePhone(phone)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	if existing, ok := g.attempts[sessionID]; ok && !existing.State.IsTerminal() {
		g.mu.Unlock()
		return existing, ErrAttemptPending
	}
	attempt := &Attempt{
		SessionID: sessionID,
		Method:    domain.PaymentMethodMpesa,
		State:     AttemptStateInitiating,
		Amount:    amount,
		Phone:     normalized,
		UpdatedAt: time.Now().UTC(),
	}
	g.attempts[sessionID] = attempt
	g.mu.Unlock()

	resp, err := g.sendPush(ctx, sessionID, normalized, amount)
	if err != nil {
		g.fail(attempt, "provider unreachable")
		return attempt, fmt.Errorf("initiate stk push: %w", err)
	}
	if resp.ResponseCode != "0" {
		g.fail(attempt, resp.ResponseDesc)
		return attempt, fmt.Errorf("stk push rejected: %s", resp.ResponseDesc)
	}

	g.mu.Lock()
	attempt.Reference = resp.CheckoutRequestID
	err = attempt.transition(AttemptStatePendingConfirmation)
	g.mu.Unlock()
	if err != nil {
		return attempt, err
	}

	return attempt, nil
}

// Attempt returns the current attempt for a session, or nil.
func (g *MpesaGateway) Attempt(sessionID string) *Attempt {
	g.mu.Lock()
	defer g.mu.Unlock()

	attempt, ok := g.attempts[sessionID]
	if !ok {
		return nil
	}
	snapshot := *attempt
	return &snapshot
}

// Resolve records the provider's verdict for a pending attempt. It is
// called by the provider callback handler, or by the checkout flow when
// the fixed client-side wait expires (success=false, generic reason).
func (g *MpesaGateway) Resolve(sessionID string, success bool, reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	attempt, ok := g.attempts[sessionID]
	if !ok {
		return fmt.Errorf("no attempt for session %s", sessionID)
	}
	if attempt.State.IsTerminal() {
		return nil
	}

	next := AttemptStateFailed
	if success {
		next = AttemptStateSucceeded
	}
	if err := attempt.transition(next); err != nil {
		return err
	}
	attempt.Reason = reason
	return nil
}

type stkCallbackEnvelope struct {
	Body struct {
		StkCallback struct {
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// HandleCallback applies the provider's asynchronous verdict, delivered on
// the callback URL, to the attempt that initiated the push. ResultCode 0
// is success; anything else is a generic failure (the provider does not
// guarantee a detailed reason).
func (g *MpesaGateway) HandleCallback(payload []byte) error {
	var envelope stkCallbackEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return fmt.Errorf("decode stk callback: %w", err)
	}

	cb := envelope.Body.StkCallback
	if cb.CheckoutRequestID == "" {
		return errors.New("stk callback missing CheckoutRequestID")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	for _, attempt := range g.attempts {
		if attempt.Reference != cb.CheckoutRequestID {
			continue
		}
		if attempt.State.IsTerminal() {
			return nil
		}
		next := AttemptStateFailed
		if cb.ResultCode == 0 {
			next = AttemptStateSucceeded
		}
		if err := attempt.transition(next); err != nil {
			return err
		}
		attempt.Reason = cb.ResultDesc
		return nil
	}

	return fmt.Errorf("no attempt for checkout request %s", cb.CheckoutRequestID)
}

// Await polls until the attempt reaches a terminal state or the fixed
// client-side wait expires, in which case the attempt fails with a
// generic reason and the user may retry. Cancelling the context abandons
// the wait without messaging the provider.
func (g *MpesaGateway) Await(ctx context.Context, sessionID string, wait time.Duration) (*Attempt, error) {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	tick := time.NewTicker(500 * time.Millisecond)
	defer tick.Stop()

	for {
		if attempt := g.Attempt(sessionID); attempt != nil && attempt.State.IsTerminal() {
			return attempt, nil
		}

		select {
		case <-ctx.Done():
			return g.Attempt(sessionID), ctx.Err()
		case <-deadline.C:
			_ = g.Resolve(sessionID, false, "payment confirmation timed out")
			return g.Attempt(sessionID), nil
		case <-tick.C:
		}
	}
}

// Release clears a terminal attempt so the session can retry from idle.
func (g *MpesaGateway) Release(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if attempt, ok := g.attempts[sessionID]; ok && attempt.State.IsTerminal() {
		delete(g.attempts, sessionID)
	}
}

func (g *MpesaGateway) fail(attempt *Attempt, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !attempt.State.IsTerminal() {
		attempt.State = AttemptStateFailed
		attempt.Reason = reason
		attempt.UpdatedAt = time.Now().UTC()
	}
}

func (g *MpesaGateway) sendPush(ctx context.Context, sessionID, phone string, amount int64) (*stkPushResponse, error) {
	token, err := g.fetchToken(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := time.Now().Format("20060102150405")
	password := base64.StdEncoding.EncodeToString([]byte(g.cfg.ShortCode + g.cfg.Passkey + timestamp))

	body := stkPushRequest{
		BusinessShortCode: g.cfg.ShortCode,
		Password:          password,
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            amount,
		PartyA:            phone,
		PartyB:            g.cfg.ShortCode,
		PhoneNumber:       phone,
		CallBackURL:       g.cfg.CallbackURL,
		AccountReference:  sessionID,
		TransactionDesc:   "Adili Jewels order",
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.cfg.BaseURL+"/mpesa/stkpush/v1/processrequest", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("stk push returned status %d", resp.StatusCode)
	}

	var pushResp stkPushResponse
	if err := json.NewDecoder(resp.Body).Decode(&pushResp); err != nil {
		return nil, fmt.Errorf("decode stk push response: %w", err)
	}

	return &pushResp, nil
}

func (g *MpesaGateway) fetchToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		g.cfg.BaseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(g.cfg.ConsumerKey, g.cfg.ConsumerSecret)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}

	return tokenResp.AccessToken, nil
}
