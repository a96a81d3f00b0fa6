package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirbramstech/campus-backend/pkg/config"
	pkgerrors "github.com/sirbramstech/campus-backend/pkg/errors"
	"github.com/sirbramstech/campus-backend/pkg/logger"
)

const (
	oauthPath   = "/oauth/v1/generate?grant_type=client_credentials"
	stkPushPath = "/mpesa/stkpush/v1/processrequest"

	timestampLayout = "20060102150405"

	// AcceptedResponseCode is Daraja's "request accepted for processing".
	AcceptedResponseCode = "0"
)

var (
	errConsumerKeyRequired = errors.New("mpesa consumer key is required")
	errShortcodeRequired   = errors.New("mpesa shortcode is required")
	errPasskeyRequired     = errors.New("mpesa passkey is required")
	errLoggerRequired      = errors.New("mpesa logger is required")
)

// Client talks to the Daraja API with centralized auth, signing and logging.
type Client struct {
	cfg    config.MpesaConfig
	http   *http.Client
	logger *logger.Logger
	now    func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// Signature is the time-derived request password for an STK push.
type Signature struct {
	Password  string
	Timestamp string
	Shortcode string
}

// STKPushRequest captures what the caller controls about a push payment.
type STKPushRequest struct {
	Phone       string
	Amount      int64
	CallbackURL string
	AccountRef  string
	Description string
}

// STKPushResponse is Daraja's acceptance payload.
type STKPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// RejectionError carries the provider's rejection so callers can classify it
// into a user-facing category.
type RejectionError struct {
	RequestID string
	Code      string
	Message   string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("mpesa rejected request: %s (%s)", e.Message, e.Code)
}

// NewClient validates the Daraja credentials and builds the wrapper.
func NewClient(ctx context.Context, cfg config.MpesaConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	if strings.TrimSpace(cfg.ConsumerKey) == "" || strings.TrimSpace(cfg.ConsumerSecret) == "" {
		return nil, errConsumerKeyRequired
	}
	if strings.TrimSpace(cfg.Shortcode) == "" {
		return nil, errShortcodeRequired
	}
	if strings.TrimSpace(cfg.Passkey) == "" {
		return nil, errPasskeyRequired
	}

	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: timeout},
		logger: logg,
		now:    time.Now,
	}

	logg.Info(ctx, "mpesa client initialized")
	return c, nil
}

// AccessToken returns a cached OAuth token, refreshing it when it is within
// the configured safety margin of expiring. Fails closed: callers must not
// contact the provider without a token.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	margin := c.cfg.TokenMargin
	if margin <= 0 {
		margin = time.Minute
	}
	if c.token != "" && c.now().Add(margin).Before(c.tokenExpiry) {
		return c.token, nil
	}

	token, ttl, err := c.fetchToken(ctx)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeCredential, err, "fetch access token")
	}

	c.token = token
	c.tokenExpiry = c.now().Add(ttl)
	return c.token, nil
}

func (c *Client) fetchToken(ctx context.Context) (string, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+oauthPath, nil)
	if err != nil {
		return "", 0, fmt.Errorf("build token request: %w", err)
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("request token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", 0, fmt.Errorf("decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", 0, errors.New("token response missing access_token")
	}

	// Daraja reports expires_in as a string of seconds.
	ttl := time.Hour
	if secs, err := strconv.Atoi(payload.ExpiresIn); err == nil && secs > 0 {
		ttl = time.Duration(secs) * time.Second
	}
	return payload.AccessToken, ttl, nil
}

// Sign derives the push-payment password for the current instant.
func (c *Client) Sign() Signature {
	ts := c.now().Format(timestampLayout)
	raw := c.cfg.Shortcode + c.cfg.Passkey + ts
	return Signature{
		Password:  base64.StdEncoding.EncodeToString([]byte(raw)),
		Timestamp: ts,
		Shortcode: c.cfg.Shortcode,
	}
}

// STKPush submits a push payment. The provider's out-of-band result arrives
// later on the callback URL; a nil error only means the request was accepted.
func (c *Client) STKPush(ctx context.Context, push STKPushRequest) (*STKPushResponse, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	sig := c.Sign()

	accountRef := push.AccountRef
	if accountRef == "" {
		accountRef = c.cfg.AccountRef
	}
	description := push.Description
	if description == "" {
		description = c.cfg.TransactionDesc
	}

	payload := map[string]any{
		"BusinessShortCode": sig.Shortcode,
		"Password":          sig.Password,
		"Timestamp":         sig.Timestamp,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            push.Amount,
		"PartyA":            push.Phone,
		"PartyB":            sig.Shortcode,
		"PhoneNumber":       push.Phone,
		"CallBackURL":       push.CallbackURL,
		"AccountReference":  accountRef,
		"TransactionDesc":   description,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode stk push request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+stkPushPath, bytes.NewReader(body))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build stk push request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	c.log(ctx, "request", "stk_push", map[string]any{
		"phone":  push.Phone,
		"amount": push.Amount,
	})

	resp, err := c.http.Do(req)
	if err != nil {
		c.log(ctx, "error", "stk_push", map[string]any{"error": err.Error()})
		return nil, c.mapTransportError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read stk push response")
	}

	if resp.StatusCode != http.StatusOK {
		rejection := decodeRejection(respBody)
		c.log(ctx, "error", "stk_push", map[string]any{"error": rejection.Message, "provider_code": rejection.Code})
		return nil, rejection
	}

	var accepted STKPushResponse
	if err := json.Unmarshal(respBody, &accepted); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode stk push response")
	}
	if accepted.ResponseCode != AcceptedResponseCode {
		rejection := &RejectionError{Code: accepted.ResponseCode, Message: accepted.ResponseDescription}
		c.log(ctx, "error", "stk_push", map[string]any{"error": rejection.Message, "provider_code": rejection.Code})
		return nil, rejection
	}

	c.log(ctx, "response", "stk_push", map[string]any{
		"merchant_request_id": accepted.MerchantRequestID,
		"checkout_request_id": accepted.CheckoutRequestID,
	})
	return &accepted, nil
}

func decodeRejection(body []byte) *RejectionError {
	var payload struct {
		RequestID    string `json:"requestId"`
		ErrorCode    string `json:"errorCode"`
		ErrorMessage string `json:"errorMessage"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.ErrorMessage == "" {
		return &RejectionError{Message: strings.TrimSpace(string(body))}
	}
	return &RejectionError{
		RequestID: payload.RequestID,
		Code:      payload.ErrorCode,
		Message:   payload.ErrorMessage,
	}
}

func (c *Client) mapTransportError(err error) error {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &RejectionError{Code: "timeout", Message: "request timed out"}
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "stk push transport")
}

func (c *Client) log(ctx context.Context, phase, op string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	logFields := map[string]any{
		"operation": op,
		"phase":     phase,
	}
	for k, v := range fields {
		logFields[k] = redact(k, v)
	}
	ctx = c.logger.WithFields(ctx, logFields)
	switch phase {
	case "error":
		c.logger.Error(ctx, fmt.Sprintf("mpesa %s", op), errors.New(fmt.Sprint(fields["error"])))
	default:
		c.logger.Info(ctx, fmt.Sprintf("mpesa %s", phase))
	}
}

func redact(key string, value any) any {
	lower := strings.ToLower(key)
	for _, sensitive := range []string{"phone", "password", "passkey", "secret", "token"} {
		if strings.Contains(lower, sensitive) {
			return "[REDACTED]"
		}
	}
	return value
}
