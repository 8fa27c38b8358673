package chaintest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// RPCFault is a JSON-RPC error object.
type RPCFault struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// RPCHandler answers one JSON-RPC method.
type RPCHandler func(params json.RawMessage) (interface{}, *RPCFault)

// RPCServer is a JSON-RPC 2.0 endpoint backed by per-method handlers.
type RPCServer struct {
	*httptest.Server

	mu    sync.Mutex
	calls []string
}

func NewRPCServer(t *testing.T, handlers map[string]RPCHandler) *RPCServer {
	s := &RPCServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     interface{}     `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.calls = append(s.calls, req.Method)
		s.mu.Unlock()

		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		h, ok := handlers[req.Method]
		if !ok {
			resp["error"] = RPCFault{Code: -32601, Message: "method not found"}
		} else if result, fault := h(req.Params); fault != nil {
			resp["error"] = fault
		} else {
			resp["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(s.Close)
	return s
}

// Calls returns the methods invoked so far.
func (s *RPCServer) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// Params decodes positional params.
func Params(raw json.RawMessage) []json.RawMessage {
	var out []json.RawMessage
	_ = json.Unmarshal(raw, &out)
	return out
}
