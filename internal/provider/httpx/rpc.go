package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
)

// rpcRequest is a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

// rpcResponse is a JSON-RPC 2.0 response.
type rpcResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

var rpcID atomic.Uint64

// CallRPC performs a JSON-RPC 2.0 call against endpoint. RPC error objects
// are not retried. A null result leaves result untouched.
func (c *Client) CallRPC(ctx context.Context, endpoint, method string, params []interface{}, result interface{}) error {
	if params == nil {
		params = []interface{}{}
	}
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      rpcID.Add(1),
		Method:  method,
		Params:  params,
	}

	var resp rpcResponse
	if err := c.PostJSON(ctx, endpoint, req, &resp); err != nil {
		return err
	}
	if resp.Error != nil {
		return c.wrap(resp.Error)
	}
	if result == nil || len(resp.Result) == 0 || string(resp.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(resp.Result, result); err != nil {
		return c.wrap(fmt.Errorf("unmarshal %s result: %w", method, err))
	}
	return nil
}
