package kv

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Wire format of the /api/kv endpoint.
type (
	Request struct {
		Action string          `json:"action"`
		Key    string          `json:"key"`
		Value  json.RawMessage `json:"value,omitempty"`
	}

	Response struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data,omitempty"`
		Error   string          `json:"error,omitempty"`
	}
)

const (
	ActionGet    = "get"
	ActionPut    = "put"
	ActionDelete = "delete"
)

// HTTPStore is a Store that proxies every operation to another instance's
// /api/kv endpoint.
type HTTPStore struct {
	endpoint string
	client   *http.Client
}

// NewHTTPStore creates a remote store client. baseURL is the root of the
// remote instance, e.g. "https://tracker.example.com".
func NewHTTPStore(baseURL string) *HTTPStore {
	return &HTTPStore{
		endpoint: baseURL + "/api/kv",
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *HTTPStore) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	resp, err := s.do(ctx, Request{Action: ActionGet, Key: key})
	if err != nil {
		return nil, false, err
	}
	if len(resp.Data) == 0 || string(resp.Data) == "null" {
		return nil, false, nil
	}
	return resp.Data, true, nil
}

func (s *HTTPStore) Put(ctx context.Context, key string, value any) error {
	data, err := marshalValue(value)
	if err != nil {
		return fmt.Errorf("marshal value for %q: %w", key, err)
	}
	_, err = s.do(ctx, Request{Action: ActionPut, Key: key, Value: data})
	return err
}

func (s *HTTPStore) Delete(ctx context.Context, key string) error {
	_, err := s.do(ctx, Request{Action: ActionDelete, Key: key})
	return err
}

func (s *HTTPStore) do(ctx context.Context, kvReq Request) (Response, error) {
	body, err := json.Marshal(kvReq)
	if err != nil {
		return Response{}, fmt.Errorf("marshal kv request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("build kv request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := s.client.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("kv %s %q: %w", kvReq.Action, kvReq.Key, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return Response{}, fmt.Errorf("kv %s %q: unexpected status %d", kvReq.Action, kvReq.Key, httpResp.StatusCode)
	}

	var resp Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return Response{}, fmt.Errorf("decode kv response: %w", err)
	}
	if !resp.Success {
		return Response{}, fmt.Errorf("kv %s %q: %s", kvReq.Action, kvReq.Key, resp.Error)
	}
	return resp, nil
}
