package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Options parameterise the wallet daemon client.
type Options struct {
	// APIBase is the base URL of the wallet daemon that holds keys and
	// proofs for the auditor.
	APIBase string
	// Timeout bounds ordinary requests. Melt settlements get MeltTimeout,
	// since a Lightning payment can legitimately take minutes.
	Timeout     time.Duration
	MeltTimeout time.Duration
	UserAgent   string
}

// Client is an HTTP adapter implementing Provider against the wallet daemon
// for a single mint.
type Client struct {
	opts    Options
	mintURL string
	baseURL string
	client  *http.Client
	melt    *http.Client
	logger  zerolog.Logger

	mu      sync.RWMutex
	proofs  []Proof
	balance int64
	info    json.RawMessage
}

// HTTPDialer creates per-mint Clients against one wallet daemon.
type HTTPDialer struct {
	opts   Options
	logger zerolog.Logger
}

// NewHTTPDialer constructs a dialer from options.
func NewHTTPDialer(opts Options, logger zerolog.Logger) *HTTPDialer {
	return &HTTPDialer{opts: opts, logger: logger}
}

// Wallet opens a handle addressing one mint.
func (d *HTTPDialer) Wallet(ctx context.Context, mintURL string) (Provider, error) {
	return NewClient(d.opts, mintURL, d.logger)
}

// NewClient builds a wallet daemon client for mintURL.
func NewClient(opts Options, mintURL string, logger zerolog.Logger) (*Client, error) {
	base := strings.TrimRight(opts.APIBase, "/")
	if base == "" {
		return nil, fmt.Errorf("wallet api base not configured")
	}
	mintURL = strings.TrimRight(mintURL, "/")
	if mintURL == "" {
		return nil, fmt.Errorf("mint url required")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	meltTimeout := opts.MeltTimeout
	if meltTimeout <= 0 {
		meltTimeout = 2 * time.Minute
	}

	return &Client{
		opts:    opts,
		mintURL: mintURL,
		baseURL: base,
		client:  &http.Client{Timeout: timeout},
		melt:    &http.Client{Timeout: meltTimeout},
		logger: logger.With().
			Str("component", "wallet_client").
			Str("mint", mintURL).
			Logger(),
	}, nil
}

// MintURL reports which mint this handle addresses.
func (c *Client) MintURL() string {
	return c.mintURL
}

// LoadMint refreshes mint metadata via the daemon.
func (c *Client) LoadMint(ctx context.Context) error {
	var res struct {
		Info json.RawMessage `json:"info"`
	}
	if err := c.post(ctx, c.client, "/load_mint", map[string]any{"mint": c.mintURL}, &res); err != nil {
		return fmt.Errorf("load mint: %w", err)
	}

	c.mu.Lock()
	c.info = res.Info
	c.mu.Unlock()
	return nil
}

// LoadProofs refreshes the local proof view from the daemon.
func (c *Client) LoadProofs(ctx context.Context, reload bool) error {
	var res struct {
		Proofs  []Proof `json:"proofs"`
		Balance int64   `json:"balance"`
	}
	payload := map[string]any{"mint": c.mintURL, "reload": reload}
	if err := c.post(ctx, c.client, "/load_proofs", payload, &res); err != nil {
		return fmt.Errorf("load proofs: %w", err)
	}

	c.mu.Lock()
	c.proofs = res.Proofs
	c.balance = res.Balance
	c.mu.Unlock()
	return nil
}

// Proofs returns the proof set as of the last LoadProofs.
func (c *Client) Proofs() []Proof {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Proof, len(c.proofs))
	copy(out, c.proofs)
	return out
}

// AvailableBalance returns the spendable total as of the last LoadProofs.
func (c *Client) AvailableBalance() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.balance
}

// MintInfo returns the opaque descriptor as of the last LoadMint.
func (c *Client) MintInfo() json.RawMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.info
}

// RequestMintQuote asks the mint for a receive quote.
func (c *Client) RequestMintQuote(ctx context.Context, amount int64) (MintQuote, error) {
	var quote MintQuote
	payload := map[string]any{"mint": c.mintURL, "amount": amount}
	if err := c.post(ctx, c.client, "/mint_quote", payload, &quote); err != nil {
		return MintQuote{}, fmt.Errorf("request mint quote: %w", err)
	}
	return quote, nil
}

// MeltQuote asks the mint for a settlement quote against request.
func (c *Client) MeltQuote(ctx context.Context, request string) (MeltQuote, error) {
	var quote MeltQuote
	payload := map[string]any{"mint": c.mintURL, "request": request}
	if err := c.post(ctx, c.client, "/melt_quote", payload, &quote); err != nil {
		return MeltQuote{}, fmt.Errorf("melt quote: %w", err)
	}
	return quote, nil
}

// SelectToSend picks proofs covering amount, optionally reserving them.
func (c *Client) SelectToSend(ctx context.Context, amount int64, includeFees, setReserved bool) ([]Proof, error) {
	var res struct {
		Proofs []Proof `json:"proofs"`
	}
	payload := map[string]any{
		"mint":         c.mintURL,
		"amount":       amount,
		"include_fees": includeFees,
		"set_reserved": setReserved,
	}
	if err := c.post(ctx, c.client, "/select_to_send", payload, &res); err != nil {
		return nil, fmt.Errorf("select to send: %w", err)
	}
	return res.Proofs, nil
}

// Melt submits proofs to settle a payment request. Uses the long timeout.
func (c *Client) Melt(ctx context.Context, proofs []Proof, request string, feeReserve int64, quoteID string) error {
	payload := map[string]any{
		"mint":        c.mintURL,
		"proofs":      proofs,
		"request":     request,
		"fee_reserve": feeReserve,
		"quote":       quoteID,
	}
	if err := c.post(ctx, c.melt, "/melt", payload, nil); err != nil {
		return fmt.Errorf("melt: %w", err)
	}
	return nil
}

// Mint credits amount against a fulfilled quote and returns minted proofs.
func (c *Client) Mint(ctx context.Context, amount int64, quoteID string) ([]Proof, error) {
	var res struct {
		Proofs []Proof `json:"proofs"`
	}
	payload := map[string]any{"mint": c.mintURL, "amount": amount, "quote": quoteID}
	if err := c.post(ctx, c.client, "/mint", payload, &res); err != nil {
		return nil, fmt.Errorf("mint: %w", err)
	}
	return res.Proofs, nil
}

// CheckProofState queries spent/unspent status for proofs.
func (c *Client) CheckProofState(ctx context.Context, proofs []Proof) ([]ProofState, error) {
	var res struct {
		States []ProofState `json:"states"`
	}
	payload := map[string]any{"mint": c.mintURL, "proofs": proofs}
	if err := c.post(ctx, c.client, "/check_state", payload, &res); err != nil {
		return nil, fmt.Errorf("check proof state: %w", err)
	}
	return res.States, nil
}

// Invalidate removes confirmed-spent proofs and returns the rest.
func (c *Client) Invalidate(ctx context.Context, proofs []Proof, checkSpendable bool) ([]Proof, error) {
	var res struct {
		Spendable []Proof `json:"spendable"`
	}
	payload := map[string]any{
		"mint":            c.mintURL,
		"proofs":          proofs,
		"check_spendable": checkSpendable,
	}
	if err := c.post(ctx, c.client, "/invalidate", payload, &res); err != nil {
		return nil, fmt.Errorf("invalidate: %w", err)
	}
	return res.Spendable, nil
}

// SetReserved toggles the reservation flag on proofs.
func (c *Client) SetReserved(ctx context.Context, proofs []Proof, reserved bool) error {
	payload := map[string]any{"mint": c.mintURL, "proofs": proofs, "reserved": reserved}
	if err := c.post(ctx, c.client, "/set_reserved", payload, nil); err != nil {
		return fmt.Errorf("set reserved: %w", err)
	}
	return nil
}

// BumpKeysetCounter advances the secret-derivation counter by `by`.
func (c *Client) BumpKeysetCounter(ctx context.Context, by int) error {
	payload := map[string]any{"mint": c.mintURL, "by": by}
	if err := c.post(ctx, c.client, "/bump_keyset_counter", payload, nil); err != nil {
		return fmt.Errorf("bump keyset counter: %w", err)
	}
	return nil
}

// Receive redeems a serialized token and returns the amount credited.
func (c *Client) Receive(ctx context.Context, token string) (int64, error) {
	var res struct {
		Received int64 `json:"received"`
		Balance  int64 `json:"balance"`
	}
	if err := c.post(ctx, c.client, "/receive", map[string]any{"token": token}, &res); err != nil {
		return 0, fmt.Errorf("receive: %w", err)
	}

	c.mu.Lock()
	c.balance = res.Balance
	c.mu.Unlock()
	return res.Received, nil
}

func (c *Client) post(ctx context.Context, client *http.Client, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	endpoint, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}

	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	c.logger.Debug().Str("path", path).Str("request_id", requestID).Msg("wallet daemon request")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payloadBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseDaemonError(resp.StatusCode, payloadBytes)
	}

	if out == nil || len(payloadBytes) == 0 {
		return nil
	}
	if err := json.Unmarshal(payloadBytes, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type daemonError struct {
	Detail string `json:"detail"`
	Error  string `json:"error"`
}

// parseDaemonError converts a non-2xx daemon response into a classified
// Fault so the swap engine can react to known wallet desync conditions.
func parseDaemonError(status int, payload []byte) error {
	var apiErr daemonError
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Detail != "" {
			return NewFault(apiErr.Detail)
		}
		if apiErr.Error != "" {
			return NewFault(apiErr.Error)
		}
	}
	if len(payload) > 0 {
		return NewFault(strings.TrimSpace(string(payload)))
	}
	return NewFault(fmt.Sprintf("wallet daemon error (%d)", status))
}

var _ Provider = (*Client)(nil)
var _ Dialer = (*HTTPDialer)(nil)
