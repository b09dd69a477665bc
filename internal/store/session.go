package store

import "expensecf/internal/core"

// Session is the explicit record of who is interacting with the tracker.
// It lives only in this process; restarting the server logs everyone out.
type Session struct {
	User core.User `json:"user"`
}

func (s Session) InGroup() bool {
	return s.User.InGroup()
}

// SaveSession records the current session, replacing any previous one.
func (a *Adapter) SaveSession(s Session) {
	a.sessionMu.Lock()
	defer a.sessionMu.Unlock()
	a.session = &s
}

// LoadSession returns the current session, if any.
func (a *Adapter) LoadSession() (Session, bool) {
	a.sessionMu.Lock()
	defer a.sessionMu.Unlock()
	if a.session == nil {
		return Session{}, false
	}
	return *a.session, true
}

// ClearSession removes the current session. Clearing when no session exists
// is a no-op.
func (a *Adapter) ClearSession() {
	a.sessionMu.Lock()
	defer a.sessionMu.Unlock()
	a.session = nil
}
