package http

import (
	"encoding/json"
	"net/http"

	"expensecf/internal/kv"
)

// handleKV serves the persistence endpoint: a single POST route carrying
// get/put/delete actions against the backing store. The contract is fixed:
// missing action or key is a 400, an unrecognized action is a 200 with
// success false, a get of an absent key succeeds with null data, and
// failures never leak internals past a generic 500.
func (s *Server) handleKV(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.ErrorContext(r.Context(), "Panic in kv handler", "panic", rec)
			writeJSON(w, http.StatusInternalServerError, kv.Response{Error: "Internal server error"})
		}
	}()

	// Preflight is answered by the CORS middleware; a bare OPTIONS still
	// lands here and gets an empty 200.
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST, OPTIONS")
		writeJSON(w, http.StatusMethodNotAllowed, kv.Response{Error: "Method not allowed"})
		return
	}

	var req kv.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, kv.Response{Error: "Invalid JSON body"})
		return
	}
	if req.Action == "" || req.Key == "" {
		writeJSON(w, http.StatusBadRequest, kv.Response{Error: "Missing action or key"})
		return
	}

	ctx := r.Context()
	switch req.Action {
	case kv.ActionGet:
		data, ok, err := s.backing.Get(ctx, req.Key)
		if err != nil {
			s.logger.ErrorContext(ctx, "KV get failed", "key", req.Key, "error", err)
			writeJSON(w, http.StatusInternalServerError, kv.Response{Error: "Internal server error"})
			return
		}
		if !ok {
			data = json.RawMessage("null")
		}
		writeJSON(w, http.StatusOK, kv.Response{Success: true, Data: data})

	case kv.ActionPut:
		value := req.Value
		if len(value) == 0 {
			value = json.RawMessage("null")
		}
		if err := s.backing.Put(ctx, req.Key, value); err != nil {
			s.logger.ErrorContext(ctx, "KV put failed", "key", req.Key, "error", err)
			writeJSON(w, http.StatusInternalServerError, kv.Response{Error: "Internal server error"})
			return
		}
		writeJSON(w, http.StatusOK, kv.Response{Success: true})

	case kv.ActionDelete:
		if err := s.backing.Delete(ctx, req.Key); err != nil {
			s.logger.ErrorContext(ctx, "KV delete failed", "key", req.Key, "error", err)
			writeJSON(w, http.StatusInternalServerError, kv.Response{Error: "Internal server error"})
			return
		}
		writeJSON(w, http.StatusOK, kv.Response{Success: true})

	default:
		// Only a missing action or key is a request error; an unrecognized
		// action is reported in-band.
		writeJSON(w, http.StatusOK, kv.Response{Error: "Invalid action"})
	}
}
