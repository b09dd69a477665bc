package http

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"expensecf/internal/core"
	"expensecf/internal/service"
)

func decodeJSON(r *http.Request, v any) bool {
	return json.NewDecoder(r.Body).Decode(v) == nil
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
	}
	if !decodeJSON(r, &req) {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	sess, err := s.svc.Login(r.Context(), sanitizeInput(req.Username))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, sess.User)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.svc.Logout(r.Context())
	writeData(w, nil)
}

// handleSession reports who is logged in, re-reading the user record so the
// caller sees current group membership. No session is a 404.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.svc.Resume(r.Context())
	if !ok {
		writeError(w, http.StatusNotFound, "no active session")
		return
	}
	writeData(w, sess.User)
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Name     string `json:"name"`
	}
	if !decodeJSON(r, &req) {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	g, err := s.svc.CreateGroup(r.Context(), sanitizeInput(req.Username), sanitizeInput(req.Name))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, g)
}

func (s *Server) handleJoinGroup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		GroupID  string `json:"groupId"`
	}
	if !decodeJSON(r, &req) {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	g, err := s.svc.JoinGroup(r.Context(), sanitizeInput(req.Username), sanitizeInput(req.GroupID))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, g)
}

func (s *Server) handleLeaveGroup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
	}
	if !decodeJSON(r, &req) {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	if err := s.svc.LeaveGroup(r.Context(), sanitizeInput(req.Username)); err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, nil)
}

func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	g, err := s.svc.GetGroup(r.Context(), r.URL.Query().Get("username"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, g)
}

func (s *Server) handleAddTransaction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username    string `json:"username"`
		Description string `json:"description"`
		Amount      string `json:"amount"`
		Category    string `json:"category"`
		Type        string `json:"type"`
		Date        string `json:"date"`
	}
	if !decodeJSON(r, &req) {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	in := service.TransactionInput{
		Description: sanitizeInput(req.Description),
		Amount:      strings.TrimSpace(req.Amount),
		Category:    sanitizeInput(req.Category),
		Type:        core.TransactionType(req.Type),
	}
	if req.Date != "" {
		d, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "invalid date, expected YYYY-MM-DD")
			return
		}
		in.Date = d
	}

	tx, err := s.svc.AddTransaction(r.Context(), sanitizeInput(req.Username), in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, tx)
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	a, err := s.svc.Analytics(r.Context(), r.URL.Query().Get("username"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, a)
}

// handleCategories returns the suggestion list for a type; an unknown or
// missing type gets the expense list.
func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	t := core.TransactionType(r.URL.Query().Get("type"))
	writeData(w, s.svc.Categories(t))
}

func (s *Server) handleClearStorage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
	}
	if !decodeJSON(r, &req) {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if !s.svc.ClearStorage(r.Context(), sanitizeInput(req.Username)) {
		writeError(w, http.StatusServiceUnavailable, "failed to clear storage")
		return
	}
	writeData(w, nil)
}

func (s *Server) handleDebugStorage(w http.ResponseWriter, r *http.Request) {
	s.svc.DebugStorage(r.Context())
	writeData(w, nil)
}
