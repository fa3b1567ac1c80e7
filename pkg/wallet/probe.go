package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// probeTimeout caps the health check round trip when the caller's
// context has no deadline of its own.
const probeTimeout = 10 * time.Second

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int    `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result string    `json:"result"`
	Error  *rpcError `json:"error"`
}

// Probe checks that the chain RPC endpoint answers eth_chainId and
// returns the reported chain ID. A nil client uses http.DefaultClient.
func Probe(ctx context.Context, client *http.Client, url string) (int64, error) {
	if client == nil {
		client = http.DefaultClient
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, probeTimeout)
		defer cancel()
	}

	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: "eth_chainId", Params: []any{}, ID: 1})
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("rpc probe: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("rpc probe: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("rpc probe: unexpected status %s", resp.Status)
	}

	var out rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("rpc probe: decode response: %w", err)
	}
	if out.Error != nil {
		return 0, fmt.Errorf("rpc probe: node error %d: %s", out.Error.Code, out.Error.Message)
	}

	id, err := strconv.ParseInt(strings.TrimPrefix(out.Result, "0x"), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("rpc probe: chain id %q: %w", out.Result, err)
	}
	return id, nil
}
