package swaprpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	nativecommon "fluxrisk/native/common"
	"fluxrisk/native/vault"
)

func newRouter(t *testing.T, handle func(req rpcRequest) rpcResponse) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		resp := handle(req)
		resp.JSONRPC = jsonRPCVersion
		resp.ID = req.ID
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestClientSwap(t *testing.T) {
	var captured rpcRequest
	server := newRouter(t, func(req rpcRequest) rpcResponse {
		captured = req
		return rpcResponse{Result: json.RawMessage(`{"amountOut":"447","minOut":"445"}`)}
	})
	client, err := NewClient(Config{URL: server.URL, Provider: "riskd"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	out, err := client.Swap(context.Background(), vault.SwapRequest{
		InputAsset:     "SOL",
		OutputAsset:    "USDC",
		AmountIn:       450,
		MaxSlippageBps: 50,
	})
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if out != 447 {
		t.Fatalf("unexpected output %d", out)
	}
	if captured.Method != methodSwap || len(captured.Params) != 1 {
		t.Fatalf("unexpected request: %+v", captured)
	}
	params, ok := captured.Params[0].(map[string]interface{})
	if !ok || params["amountIn"] != "450" || params["provider"] != "riskd" {
		t.Fatalf("unexpected params: %#v", captured.Params[0])
	}
}

func TestClientSwapBelowFloor(t *testing.T) {
	server := newRouter(t, func(rpcRequest) rpcResponse {
		return rpcResponse{Result: json.RawMessage(`{"amountOut":"400","minOut":"445"}`)}
	})
	client, _ := NewClient(Config{URL: server.URL})
	_, err := client.Swap(context.Background(), vault.SwapRequest{AmountIn: 450})
	if !errors.Is(err, nativecommon.ErrSlippageExceeded) {
		t.Fatalf("expected slippage error, got %v", err)
	}
}

func TestClientSwapRPCError(t *testing.T) {
	server := newRouter(t, func(rpcRequest) rpcResponse {
		return rpcResponse{Error: &rpcError{Code: -32000, Message: "no route"}}
	})
	client, _ := NewClient(Config{URL: server.URL})
	if _, err := client.Swap(context.Background(), vault.SwapRequest{AmountIn: 1}); err == nil {
		t.Fatalf("expected rpc error")
	}
}

func TestNewClientRequiresURL(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatalf("expected url error")
	}
}
