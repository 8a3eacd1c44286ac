// Package aleo talks to an Aleo node's REST API. The engine only needs the
// ledger height from it; records and proofs stay client-side.
package aleo

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/zkdca/internal/domain"
)

// ClientConfig holds connection parameters for the Aleo node client.
type ClientConfig struct {
	BaseURL string // API root, e.g. "https://api.explorer.provable.com/v1"
	Network string // network segment, e.g. "testnet" or "mainnet"
	Timeout time.Duration
}

// Client is the REST client for an Aleo node.
type Client struct {
	baseURL    string
	network    string
	httpClient *http.Client
}

// NewClient creates a new Aleo REST client.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	network := cfg.Network
	if network == "" {
		network = "testnet"
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		network:    network,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// CurrentHeight returns the latest ledger height known to the node.
func (c *Client) CurrentHeight(ctx context.Context) (uint64, error) {
	url := fmt.Sprintf("%s/%s/latest/height", c.baseURL, c.network)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("aleo: create height request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("aleo: get height: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return 0, fmt.Errorf("aleo: read height response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("aleo: get height: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	// The node returns the height as a bare JSON number.
	height, err := strconv.ParseUint(strings.TrimSpace(string(body)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("aleo: parse height %q: %w", strings.TrimSpace(string(body)), err)
	}
	return height, nil
}

var _ domain.ChainObserver = (*Client)(nil)
