// Package arcane talks to the Arcane DEX relayer, which wraps the on-chain
// pool program behind a plain HTTP API.
package arcane

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/zkdca/internal/domain"
)

// ClientConfig holds connection parameters for the relayer client.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	Program string // pool program id, e.g. "arcn_pool_v2_2_4.aleo"
	// AccountKey is the Aleo private key the relayer executes swap
	// transitions with. Sent only on swap submission, never on quotes.
	AccountKey string
	Timeout    time.Duration
}

// Client is the REST client for the Arcane relayer and implements
// domain.Exchange.
type Client struct {
	baseURL    string
	apiKey     string
	program    string
	accountKey string
	httpClient *http.Client
}

// NewClient creates a new relayer client.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	program := cfg.Program
	if program == "" {
		program = "arcn_pool_v2_2_4.aleo"
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		program:    program,
		accountKey: cfg.AccountKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Quote returns the output amount currently obtainable for the conversion.
func (c *Client) Quote(ctx context.Context, inputToken, outputToken, inputAmount uint64) (uint64, error) {
	params := url.Values{}
	params.Set("program", c.program)
	params.Set("input_token", strconv.FormatUint(inputToken, 10))
	params.Set("output_token", strconv.FormatUint(outputToken, 10))
	params.Set("amount", strconv.FormatUint(inputAmount, 10))

	body, err := c.doRequest(ctx, http.MethodGet, "/v1/quote?"+params.Encode(), nil, "")
	if err != nil {
		return 0, fmt.Errorf("arcane: quote: %w", err)
	}

	var resp struct {
		OutputAmount uint64 `json:"output_amount"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("arcane: decode quote: %w", err)
	}
	return resp.OutputAmount, nil
}

// SubmitSwap submits the instruction under the idempotency key. The relayer
// recognises a repeated key and replays the original response, so retries
// and crash-recovery resubmissions are safe.
func (c *Client) SubmitSwap(ctx context.Context, key string, instr domain.SwapInstruction) (uint64, error) {
	payload := struct {
		Program     string                 `json:"program"`
		AccountKey  string                 `json:"account_key,omitempty"`
		Instruction domain.SwapInstruction `json:"instruction"`
	}{Program: c.program, AccountKey: c.accountKey, Instruction: instr}

	body, err := c.doRequest(ctx, http.MethodPost, "/v1/swaps", payload, key)
	if err != nil {
		return 0, fmt.Errorf("arcane: submit swap %s: %w", key, err)
	}

	var resp struct {
		OutputAmount uint64 `json:"output_amount"`
		Status       string `json:"status"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("arcane: decode swap response: %w", err)
	}
	if resp.Status == "rejected" {
		return 0, fmt.Errorf("arcane: submit swap %s: %w", key, domain.ErrSubmissionFailed)
	}
	return resp.OutputAmount, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, reqBody any, idempotencyKey string) ([]byte, error) {
	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

var _ domain.Exchange = (*Client)(nil)
