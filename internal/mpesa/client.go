// Package mpesa is a client for the Safaricom Daraja STK push API: OAuth
// token fetch, push-payment initiation, status query and callback parsing.
package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/muranga-mess/api/internal/clock"
	"github.com/shopspring/decimal"
)

const (
	SandboxURL    = "https://sandbox.safaricom.co.ke"
	ProductionURL = "https://api.safaricom.co.ke"

	SandboxShortCode = "174379"
	SandboxPasskey   = "bfb279f9aa9bdbcf158e97dd71a467cd2e0c893059b10f78e6b72ada1ed2c919"

	TransactionTypePayBill = "CustomerPayBillOnline"

	timestampLayout = "20060102150405"
	tokenSkew       = 60 * time.Second
)

// BaseURLFor maps an environment name to the Daraja host.
func BaseURLFor(environment string) string {
	if strings.EqualFold(environment, "production") {
		return ProductionURL
	}
	return SandboxURL
}

type Config struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
	CallbackURL    string
	Timeout        time.Duration
	// Location is used for request timestamps and callback transaction dates.
	Location *time.Location
}

type Client struct {
	cfg    Config
	http   *http.Client
	tokens TokenCache
	clock  clock.Clock
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithClock(clk clock.Clock) Option {
	return func(c *Client) { c.clock = clk }
}

func NewClient(cfg Config, tokens TokenCache, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if tokens == nil {
		tokens = NewMemoryTokenCache(nil)
	}
	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		tokens: tokens,
		clock:  clock.NewSystem(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Location() *time.Location { return c.cfg.Location }

// Timestamp formats t as YYYYMMDDHHMMSS in loc.
func Timestamp(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(timestampLayout)
}

// Password is base64(shortcode + passkey + timestamp).
func Password(shortCode, passkey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortCode + passkey + timestamp))
}

type tokenResponse struct {
	AccessToken string      `json:"access_token"`
	ExpiresIn   json.Number `json:"expires_in"`
}

// AccessToken returns a cached OAuth token or fetches a new one.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	key := "mpesa:token:" + c.cfg.ConsumerKey
	token, ok, err := c.tokens.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("read token cache: %w", err)
	}
	if ok {
		return token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)

	var tr tokenResponse
	if err := c.do(req, &tr); err != nil {
		return "", fmt.Errorf("fetch token: %w", err)
	}
	if tr.AccessToken == "" {
		return "", &APIError{StatusCode: http.StatusOK, Message: "empty access token"}
	}

	var ttl time.Duration
	if secs, perr := tr.ExpiresIn.Int64(); perr == nil {
		ttl = time.Duration(secs)*time.Second - tokenSkew
	}
	if ttl > 0 {
		if err := c.tokens.Set(ctx, key, tr.AccessToken, ttl); err != nil {
			return "", fmt.Errorf("write token cache: %w", err)
		}
	}
	return tr.AccessToken, nil
}

type STKPushRequest struct {
	PhoneNumber      string
	Amount           decimal.Decimal
	AccountReference string
	Description      string
}

type stkPushPayload struct {
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

type STKPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// STKPush asks the gateway to prompt the payer's phone. The amount is sent
// as whole shillings; any fractional part is truncated.
func (c *Client) STKPush(ctx context.Context, in STKPushRequest) (*STKPushResponse, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	ts := Timestamp(c.clock.Now(), c.cfg.Location)
	payload := stkPushPayload{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          Password(c.cfg.ShortCode, c.cfg.Passkey, ts),
		Timestamp:         ts,
		TransactionType:   TransactionTypePayBill,
		Amount:            in.Amount.IntPart(),
		PartyA:            in.PhoneNumber,
		PartyB:            c.cfg.ShortCode,
		PhoneNumber:       in.PhoneNumber,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  in.AccountReference,
		TransactionDesc:   in.Description,
	}

	var out STKPushResponse
	if err := c.postJSON(ctx, "/mpesa/stkpush/v1/processrequest", token, payload, &out); err != nil {
		return nil, fmt.Errorf("stk push: %w", err)
	}
	if out.ResponseCode != "0" {
		msg := out.CustomerMessage
		if msg == "" {
			msg = out.ResponseDescription
		}
		return nil, &APIError{StatusCode: http.StatusOK, Code: out.ResponseCode, Message: msg}
	}
	return &out, nil
}

type stkQueryPayload struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type STKQueryResponse struct {
	ResponseCode        string     `json:"ResponseCode"`
	ResponseDescription string     `json:"ResponseDescription"`
	MerchantRequestID   string     `json:"MerchantRequestID"`
	CheckoutRequestID   string     `json:"CheckoutRequestID"`
	ResultCode          ResultCode `json:"ResultCode"`
	ResultDesc          string     `json:"ResultDesc"`
}

// QuerySTKStatus asks the gateway for the outcome of a push request. While
// the payer has not answered the gateway responds with an error for which
// APIError.Pending reports true.
func (c *Client) QuerySTKStatus(ctx context.Context, checkoutRequestID string) (*STKQueryResponse, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	ts := Timestamp(c.clock.Now(), c.cfg.Location)
	payload := stkQueryPayload{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          Password(c.cfg.ShortCode, c.cfg.Passkey, ts),
		Timestamp:         ts,
		CheckoutRequestID: checkoutRequestID,
	}

	var out STKQueryResponse
	if err := c.postJSON(ctx, "/mpesa/stkpushquery/v1/query", token, payload, &out); err != nil {
		return nil, fmt.Errorf("stk query: %w", err)
	}
	return &out, nil
}

func (c *Client) postJSON(ctx context.Context, path, token string, body, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newAPIError(resp.StatusCode, raw)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
