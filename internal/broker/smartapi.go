package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/pquerna/otp/totp"
	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://apiconnect.angelone.in"

// API routes, mirroring the SmartAPI REST surface.
const (
	routeLogin     = "/rest/auth/angelbroking/user/v1/loginByPassword"
	routePositions = "/rest/secure/angelbroking/order/v1/getPosition"
	routeLTP       = "/rest/secure/angelbroking/order/v1/getLtpData"
	routeOrder     = "/rest/secure/angelbroking/order/v1/placeOrder"
	routeRMS       = "/rest/secure/angelbroking/user/v1/getRMS"
)

// defaultPacing spaces broker calls to respect the upstream rate limit.
// This is throttling, not a retry mechanism.
const defaultPacing = 500 * time.Millisecond

// APIError represents a broker API failure with enough context for offline
// diagnosis.
type APIError struct {
	HTTPStatus int
	Code       string
	Message    string
	Op         string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("smartapi %s failed: status=%d code=%s message=%s",
		e.Op, e.HTTPStatus, e.Code, e.Message)
}

// Credentials holds everything needed to establish a SmartAPI session.
type Credentials struct {
	APIKey     string
	ClientCode string
	PIN        string
	TOTPSecret string
}

// SmartAPIClient implements Broker against the Angel One SmartAPI.
type SmartAPIClient struct {
	client  *http.Client
	limiter *rate.Limiter
	logger  *log.Logger
	baseURL string
	creds   Credentials
	session *Session
}

// Option customizes a SmartAPIClient.
type Option func(*SmartAPIClient)

// WithBaseURL overrides the API endpoint (tests).
func WithBaseURL(u string) Option {
	return func(c *SmartAPIClient) { c.baseURL = u }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *SmartAPIClient) { c.client = h }
}

// WithPacing overrides the inter-call pacing delay.
func WithPacing(d time.Duration) Option {
	return func(c *SmartAPIClient) {
		c.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// NewSmartAPIClient creates a SmartAPI client. Calls are paced through a
// rate limiter; authentication happens via GenerateSession.
func NewSmartAPIClient(creds Credentials, logger *log.Logger, opts ...Option) *SmartAPIClient {
	c := &SmartAPIClient{
		client:  &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(rate.Every(defaultPacing), 1),
		logger:  logger,
		baseURL: defaultBaseURL,
		creds:   creds,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// apiEnvelope is the common SmartAPI response wrapper.
type apiEnvelope struct {
	Status    bool            `json:"status"`
	Message   string          `json:"message"`
	ErrorCode string          `json:"errorcode"`
	Data      json.RawMessage `json:"data"`
}

// GenerateSession logs in with client code, PIN and a freshly generated
// TOTP, caching the returned tokens for subsequent calls.
func (c *SmartAPIClient) GenerateSession(ctx context.Context) (*Session, error) {
	code, err := totp.GenerateCode(c.creds.TOTPSecret, time.Now())
	if err != nil {
		return nil, fmt.Errorf("generating totp: %w", err)
	}

	body := map[string]string{
		"clientcode": c.creds.ClientCode,
		"password":   c.creds.PIN,
		"totp":       code,
	}

	var session Session
	if err := c.doJSON(ctx, "generateSession", http.MethodPost, routeLogin, body, &session); err != nil {
		return nil, err
	}
	if session.JWTToken == "" {
		return nil, &APIError{Op: "generateSession", Message: "login response missing jwt token"}
	}

	c.session = &session
	c.logger.Printf("SmartAPI session established for client %s", c.creds.ClientCode)
	return &session, nil
}

// GetPositions fetches and coerces the positions snapshot.
func (c *SmartAPIClient) GetPositions(ctx context.Context) ([]Position, error) {
	var raws []rawPosition
	if err := c.doJSON(ctx, "getPositions", http.MethodGet, routePositions, nil, &raws); err != nil {
		return nil, err
	}

	positions := make([]Position, 0, len(raws))
	for i := range raws {
		p, err := raws[i].toPosition()
		if err != nil {
			return nil, fmt.Errorf("position %s: %w", raws[i].TradingSymbol, err)
		}
		positions = append(positions, p)
	}
	return positions, nil
}

// GetLTP fetches the last traded price for one instrument.
func (c *SmartAPIClient) GetLTP(ctx context.Context, exchange, tradingSymbol, token string) (float64, error) {
	body := map[string]string{
		"exchange":      exchange,
		"tradingsymbol": tradingSymbol,
		"symboltoken":   token,
	}

	var raw rawLTP
	if err := c.doJSON(ctx, "getLtpData", http.MethodPost, routeLTP, body, &raw); err != nil {
		return 0, err
	}
	return raw.value()
}

// PlaceOrder submits a single market order.
func (c *SmartAPIClient) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error) {
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("placeOrder: quantity must be positive, got %d", req.Quantity)
	}

	body := map[string]string{
		"exchange":          req.Exchange,
		"tradingsymbol":     req.TradingSymbol,
		"symboltoken":       req.Token,
		"quantity":          fmt.Sprintf("%d", req.Quantity),
		"disclosedquantity": fmt.Sprintf("%d", req.Quantity),
		"transactiontype":   string(req.TransactionType),
		"ordertype":         req.OrderType,
		"variety":           req.Variety,
		"producttype":       req.ProductType,
		"duration":          req.Duration,
	}
	if req.Tag != "" {
		body["ordertag"] = req.Tag
	}

	var data struct {
		OrderID       string `json:"orderid"`
		UniqueOrderID string `json:"uniqueorderid"`
	}
	c.logger.Printf("Placing %s %s x%d (%s)", req.TransactionType, req.TradingSymbol, req.Quantity, req.Tag)
	if err := c.doJSON(ctx, "placeOrder", http.MethodPost, routeOrder, body, &data); err != nil {
		return nil, err
	}

	return &OrderResponse{
		Status:        true,
		OrderID:       data.OrderID,
		UniqueOrderID: data.UniqueOrderID,
	}, nil
}

// GetMargin fetches the RMS margin snapshot.
func (c *SmartAPIClient) GetMargin(ctx context.Context) (*MarginSnapshot, error) {
	var raw rawMargin
	if err := c.doJSON(ctx, "getMargin", http.MethodGet, routeRMS, nil, &raw); err != nil {
		return nil, err
	}
	m, err := raw.toMargin()
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// doJSON performs one paced API call and decodes the envelope's data field
// into out. A false envelope status becomes an APIError.
func (c *SmartAPIClient) doJSON(ctx context.Context, op, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: pacing wait: %w", op, err)
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encoding request: %w", op, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: building request: %w", op, err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("%s: reading response: %w", op, err)
	}

	if resp.StatusCode != http.StatusOK {
		return &APIError{Op: op, HTTPStatus: resp.StatusCode, Message: string(raw)}
	}

	var envelope apiEnvelope
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&envelope); err != nil {
		return fmt.Errorf("%s: decoding envelope: %w", op, err)
	}
	if !envelope.Status {
		return &APIError{
			Op:         op,
			HTTPStatus: resp.StatusCode,
			Code:       envelope.ErrorCode,
			Message:    envelope.Message,
		}
	}

	if out != nil && len(envelope.Data) > 0 && string(envelope.Data) != "null" {
		dataDec := json.NewDecoder(bytes.NewReader(envelope.Data))
		dataDec.UseNumber()
		if err := dataDec.Decode(out); err != nil {
			return fmt.Errorf("%s: decoding data: %w", op, err)
		}
	}
	return nil
}

func (c *SmartAPIClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-UserType", "USER")
	req.Header.Set("X-SourceID", "WEB")
	req.Header.Set("X-ClientLocalIP", "127.0.0.1")
	req.Header.Set("X-ClientPublicIP", "127.0.0.1")
	req.Header.Set("X-MACAddress", "00:00:00:00:00:00")
	req.Header.Set("X-PrivateKey", c.creds.APIKey)
	if c.session != nil {
		req.Header.Set("Authorization", "Bearer "+c.session.JWTToken)
	}
}
