package swaprpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	nativecommon "fluxrisk/native/common"
	"fluxrisk/native/vault"
)

const (
	jsonRPCVersion = "2.0"
	methodSwap     = "swap_execute"
)

// Client is a JSON-RPC swap router client. It executes the collateral sale
// during liquidation.
type Client struct {
	url        string
	provider   string
	httpClient *http.Client
	nextID     atomic.Int64
}

// Config represents the client configuration.
type Config struct {
	URL      string
	Provider string
	Timeout  time.Duration
}

// NewClient constructs a JSON-RPC client targeting the supplied URL.
func NewClient(cfg Config) (*Client, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, fmt.Errorf("swaprpc: url required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		url:      url,
		provider: strings.TrimSpace(cfg.Provider),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

type swapParams struct {
	Provider       string `json:"provider,omitempty"`
	InputAsset     string `json:"inputAsset"`
	OutputAsset    string `json:"outputAsset"`
	AmountIn       string `json:"amountIn"`
	MaxSlippageBps uint64 `json:"maxSlippageBps"`
}

type swapResult struct {
	AmountOut string `json:"amountOut"`
	MinOut    string `json:"minOut"`
}

// Swap implements vault.Swapper. Amounts travel as decimal strings so they
// survive JSON number handling on the router side.
func (c *Client) Swap(ctx context.Context, req vault.SwapRequest) (uint64, error) {
	params := swapParams{
		Provider:       c.provider,
		InputAsset:     req.InputAsset,
		OutputAsset:    req.OutputAsset,
		AmountIn:       strconv.FormatUint(req.AmountIn, 10),
		MaxSlippageBps: req.MaxSlippageBps,
	}
	var result swapResult
	if err := c.call(ctx, methodSwap, []interface{}{params}, &result); err != nil {
		return 0, err
	}
	out, err := strconv.ParseUint(strings.TrimSpace(result.AmountOut), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("swaprpc: invalid amountOut %q: %w", result.AmountOut, err)
	}
	if minOut := strings.TrimSpace(result.MinOut); minOut != "" {
		floor, err := strconv.ParseUint(minOut, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("swaprpc: invalid minOut %q: %w", result.MinOut, err)
		}
		if out < floor {
			return 0, fmt.Errorf("swaprpc: received %d below floor %d: %w", out, floor, nativecommon.ErrSlippageExceeded)
		}
	}
	return out, nil
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	if c == nil || c.httpClient == nil {
		return fmt.Errorf("swaprpc: client not configured")
	}
	id := c.nextID.Add(1)
	reqBody := rpcRequest{JSONRPC: jsonRPCVersion, ID: id, Method: method, Params: params}
	buf, err := json.Marshal(reqBody)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("swaprpc: decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("swaprpc: error %d %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("swaprpc: unexpected status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if len(rpcResp.Result) == 0 {
		return fmt.Errorf("swaprpc: empty result")
	}
	return json.Unmarshal(rpcResp.Result, out)
}

var _ vault.Swapper = (*Client)(nil)
