package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"expensecf/internal/kv"
	"expensecf/internal/service"
	"expensecf/internal/store"
)

func newTestServer() *Server {
	backing := kv.NewMemoryStore()
	adapter := store.NewAdapter(backing, nil)
	svc := service.New(adapter, nil)
	return NewServer(":0", svc, backing, nil)
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) (bool, json.RawMessage, string) {
	t.Helper()
	var resp struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return resp.Success, resp.Data, resp.Error
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer()
	for _, path := range []string{"/healthz", "/readyz"} {
		rr := doJSON(t, srv, http.MethodGet, path, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status = %d", path, rr.Code)
		}
	}
}

func TestKVEndpointContract(t *testing.T) {
	srv := newTestServer()

	t.Run("get missing key succeeds with null", func(t *testing.T) {
		rr := doJSON(t, srv, http.MethodPost, "/api/kv", kv.Request{Action: "get", Key: "nope"})
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d", rr.Code)
		}
		success, data, _ := decodeResponse(t, rr)
		if !success || string(data) != "null" {
			t.Fatalf("success=%v data=%s", success, data)
		}
	})

	t.Run("put then get", func(t *testing.T) {
		rr := doJSON(t, srv, http.MethodPost, "/api/kv", kv.Request{
			Action: "put", Key: "greeting", Value: json.RawMessage(`{"hello":"world"}`),
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("put status = %d", rr.Code)
		}

		rr = doJSON(t, srv, http.MethodPost, "/api/kv", kv.Request{Action: "get", Key: "greeting"})
		success, data, _ := decodeResponse(t, rr)
		if !success || string(data) != `{"hello":"world"}` {
			t.Fatalf("get after put: success=%v data=%s", success, data)
		}
	})

	t.Run("delete", func(t *testing.T) {
		doJSON(t, srv, http.MethodPost, "/api/kv", kv.Request{
			Action: "put", Key: "tmp", Value: json.RawMessage(`1`),
		})
		rr := doJSON(t, srv, http.MethodPost, "/api/kv", kv.Request{Action: "delete", Key: "tmp"})
		if rr.Code != http.StatusOK {
			t.Fatalf("delete status = %d", rr.Code)
		}

		rr = doJSON(t, srv, http.MethodPost, "/api/kv", kv.Request{Action: "get", Key: "tmp"})
		_, data, _ := decodeResponse(t, rr)
		if string(data) != "null" {
			t.Fatalf("key survived delete: %s", data)
		}
	})

	t.Run("missing action", func(t *testing.T) {
		rr := doJSON(t, srv, http.MethodPost, "/api/kv", kv.Request{Key: "k"})
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rr.Code)
		}
	})

	t.Run("missing key", func(t *testing.T) {
		rr := doJSON(t, srv, http.MethodPost, "/api/kv", kv.Request{Action: "get"})
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rr.Code)
		}
	})

	t.Run("invalid action", func(t *testing.T) {
		// Unrecognized actions are reported in-band, not as request errors
		rr := doJSON(t, srv, http.MethodPost, "/api/kv", kv.Request{Action: "list", Key: "k"})
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rr.Code)
		}
		success, _, errMsg := decodeResponse(t, rr)
		if success || errMsg != "Invalid action" {
			t.Fatalf("success=%v error=%q", success, errMsg)
		}
	})

	t.Run("bare options", func(t *testing.T) {
		rr := doJSON(t, srv, http.MethodOptions, "/api/kv", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rr.Code)
		}
	})

	t.Run("wrong method", func(t *testing.T) {
		rr := doJSON(t, srv, http.MethodGet, "/api/kv", nil)
		if rr.Code != http.StatusMethodNotAllowed {
			t.Fatalf("status = %d, want 405", rr.Code)
		}
		success, _, errMsg := decodeResponse(t, rr)
		if success || errMsg != "Method not allowed" {
			t.Fatalf("success=%v error=%q", success, errMsg)
		}
	})

	t.Run("invalid json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/kv", bytes.NewBufferString("{not json"))
		rr := httptest.NewRecorder()
		srv.Handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rr.Code)
		}
	})
}

func TestKVEndpointCORS(t *testing.T) {
	srv := newTestServer()

	req := httptest.NewRequest(http.MethodOptions, "/api/kv", nil)
	req.Header.Set("Origin", "https://other.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("Access-Control-Allow-Origin = %q, want *", got)
	}
}

func TestLoginAndGroupFlow(t *testing.T) {
	srv := newTestServer()

	// Login
	rr := doJSON(t, srv, http.MethodPost, "/api/login", map[string]string{"username": "alice"})
	if rr.Code != http.StatusOK {
		t.Fatalf("login status = %d body=%s", rr.Code, rr.Body.String())
	}

	// Short usernames are rejected
	rr = doJSON(t, srv, http.MethodPost, "/api/login", map[string]string{"username": "ab"})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("short login status = %d, want 422", rr.Code)
	}

	// Create a group
	rr = doJSON(t, srv, http.MethodPost, "/api/groups", map[string]string{"username": "alice", "name": "Trip"})
	if rr.Code != http.StatusOK {
		t.Fatalf("create group status = %d body=%s", rr.Code, rr.Body.String())
	}
	_, data, _ := decodeResponse(t, rr)
	var g struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &g); err != nil || g.ID == "" {
		t.Fatalf("group data = %s (%v)", data, err)
	}

	// Second member joins
	doJSON(t, srv, http.MethodPost, "/api/login", map[string]string{"username": "bob"})
	rr = doJSON(t, srv, http.MethodPost, "/api/groups/join", map[string]string{"username": "bob", "groupId": g.ID})
	if rr.Code != http.StatusOK {
		t.Fatalf("join status = %d body=%s", rr.Code, rr.Body.String())
	}

	// Third member is refused with a conflict
	doJSON(t, srv, http.MethodPost, "/api/login", map[string]string{"username": "carol"})
	rr = doJSON(t, srv, http.MethodPost, "/api/groups/join", map[string]string{"username": "carol", "groupId": g.ID})
	if rr.Code != http.StatusConflict {
		t.Fatalf("full group join status = %d, want 409", rr.Code)
	}

	// Unknown group is a 404
	rr = doJSON(t, srv, http.MethodPost, "/api/groups/join", map[string]string{"username": "carol", "groupId": "nope"})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing group join status = %d, want 404", rr.Code)
	}

	// Record a transaction and read analytics
	rr = doJSON(t, srv, http.MethodPost, "/api/transactions", map[string]string{
		"username": "alice", "description": "Dinner", "amount": "50.00", "category": "Food", "type": "expense",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("transaction status = %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, srv, http.MethodGet, "/api/analytics?username=alice", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("analytics status = %d", rr.Code)
	}
	_, data, _ = decodeResponse(t, rr)
	var a struct {
		TotalExpenses struct {
			Cents int64 `json:"cents"`
		} `json:"totalExpenses"`
	}
	if err := json.Unmarshal(data, &a); err != nil || a.TotalExpenses.Cents != 5000 {
		t.Fatalf("analytics data = %s (%v)", data, err)
	}

	// Leave
	rr = doJSON(t, srv, http.MethodPost, "/api/groups/leave", map[string]string{"username": "alice"})
	if rr.Code != http.StatusOK {
		t.Fatalf("leave status = %d body=%s", rr.Code, rr.Body.String())
	}
	rr = doJSON(t, srv, http.MethodGet, "/api/groups/current?username=alice", nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("groupless current status = %d, want 409", rr.Code)
	}
}

func TestTransactionValidationStatuses(t *testing.T) {
	srv := newTestServer()
	doJSON(t, srv, http.MethodPost, "/api/login", map[string]string{"username": "alice"})
	doJSON(t, srv, http.MethodPost, "/api/groups", map[string]string{"username": "alice", "name": "Trip"})

	tests := []struct {
		name string
		body map[string]string
		want int
	}{
		{
			name: "bad amount",
			body: map[string]string{"username": "alice", "description": "x", "amount": "abc", "category": "Food", "type": "expense"},
			want: http.StatusUnprocessableEntity,
		},
		{
			name: "bad type",
			body: map[string]string{"username": "alice", "description": "x", "amount": "5", "category": "Food", "type": "refund"},
			want: http.StatusUnprocessableEntity,
		},
		{
			name: "bad date",
			body: map[string]string{"username": "alice", "description": "x", "amount": "5", "category": "Food", "type": "expense", "date": "15-08-2026"},
			want: http.StatusUnprocessableEntity,
		},
		{
			name: "unknown user",
			body: map[string]string{"username": "ghost", "description": "x", "amount": "5", "category": "Food", "type": "expense"},
			want: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doJSON(t, srv, http.MethodPost, "/api/transactions", tt.body)
			if rr.Code != tt.want {
				t.Fatalf("status = %d, want %d (body=%s)", rr.Code, tt.want, rr.Body.String())
			}
		})
	}
}

func TestCategoriesEndpoint(t *testing.T) {
	srv := newTestServer()

	rr := doJSON(t, srv, http.MethodGet, "/api/categories?type=addition", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	_, data, _ := decodeResponse(t, rr)
	var cats []string
	if err := json.Unmarshal(data, &cats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(cats) != 5 || cats[0] != "Salary" {
		t.Fatalf("addition categories = %v", cats)
	}

	// Missing type falls back to expense suggestions
	rr = doJSON(t, srv, http.MethodGet, "/api/categories", nil)
	_, data, _ = decodeResponse(t, rr)
	if err := json.Unmarshal(data, &cats); err != nil || cats[0] != "Food" {
		t.Fatalf("default categories = %v (%v)", cats, err)
	}
}

func TestSessionEndpoints(t *testing.T) {
	srv := newTestServer()

	rr := doJSON(t, srv, http.MethodGet, "/api/session", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("session before login = %d, want 404", rr.Code)
	}

	doJSON(t, srv, http.MethodPost, "/api/login", map[string]string{"username": "alice"})
	rr = doJSON(t, srv, http.MethodGet, "/api/session", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("session after login = %d", rr.Code)
	}

	doJSON(t, srv, http.MethodPost, "/api/logout", nil)
	rr = doJSON(t, srv, http.MethodGet, "/api/session", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("session after logout = %d, want 404", rr.Code)
	}
}
