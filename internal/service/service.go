// Package service implements the tracker's operations: login, group
// lifecycle, transaction recording and analytics. It owns the business rules;
// persistence and caching live in the storage adapter.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"expensecf/internal/core"
	"expensecf/internal/store"
)

// saveAttempts bounds transaction retries when a concurrent write bumped the
// group version between our read and our save.
const saveAttempts = 2

type Service struct {
	store  *store.Adapter
	logger *slog.Logger
	now    func() time.Time
}

func New(st *store.Adapter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  st,
		logger: logger.With("component", "service"),
		now:    time.Now,
	}
}

// Login looks the user up by username, creating the account on first login.
// The username is trimmed and must be at least three characters; existing
// users resume with their group membership intact.
func (s *Service) Login(ctx context.Context, username string) (store.Session, error) {
	username = strings.TrimSpace(username)
	u := core.User{Username: username}
	if err := u.Validate(); err != nil {
		return store.Session{}, err
	}

	if existing := s.store.GetUser(ctx, username); existing != nil {
		sess := store.Session{User: *existing}
		s.store.SaveSession(sess)
		s.logger.InfoContext(ctx, "User logged in", "username", username, "group_id", existing.GroupID)
		return sess, nil
	}

	if !s.store.SaveUser(ctx, u) {
		return store.Session{}, store.ErrUnavailable
	}
	sess := store.Session{User: u}
	s.store.SaveSession(sess)
	s.logger.InfoContext(ctx, "User registered", "username", username)
	return sess, nil
}

// Resume restores the session after a restart of the caller, re-reading the
// user record so group membership is current. A session whose user record
// vanished is cleared.
func (s *Service) Resume(ctx context.Context) (store.Session, bool) {
	sess, ok := s.store.LoadSession()
	if !ok {
		return store.Session{}, false
	}

	u := s.store.GetUser(ctx, sess.User.Username)
	if u == nil {
		s.store.ClearSession()
		return store.Session{}, false
	}

	sess.User = *u
	s.store.SaveSession(sess)
	return sess, true
}

// Logout drops the current session. User and group records are untouched.
func (s *Service) Logout(ctx context.Context) {
	s.store.ClearSession()
}

// CreateGroup creates a new group with the user as its only member and moves
// the user into it.
func (s *Service) CreateGroup(ctx context.Context, username, name string) (core.Group, error) {
	u := s.store.GetUser(ctx, username)
	if u == nil {
		return core.Group{}, core.ErrUserNotFound
	}
	if u.InGroup() {
		return core.Group{}, core.ErrAlreadyInGroup
	}

	g := core.Group{
		ID:       uuid.NewString(),
		Name:     strings.TrimSpace(name),
		Members:  []string{username},
		Expenses: []core.Transaction{},
	}
	if err := g.Validate(); err != nil {
		return core.Group{}, err
	}

	saved, err := s.store.SaveGroup(ctx, g)
	if err != nil {
		return core.Group{}, err
	}
	s.assignGroup(ctx, *u, saved.ID)
	s.logger.InfoContext(ctx, "Group created", "group_id", saved.ID, "name", saved.Name, "creator", username)
	return saved, nil
}

// JoinGroup adds the user to an existing group by its exact id. The checks
// run in a fixed order so the caller always gets the most specific refusal:
// own membership first, then group existence, then the group's state.
func (s *Service) JoinGroup(ctx context.Context, username, groupID string) (core.Group, error) {
	u := s.store.GetUser(ctx, username)
	if u == nil {
		return core.Group{}, core.ErrUserNotFound
	}
	if u.InGroup() {
		return core.Group{}, core.ErrAlreadyInGroup
	}

	g := s.store.GetGroupByID(ctx, strings.TrimSpace(groupID))
	if g == nil {
		return core.Group{}, core.ErrGroupNotFound
	}
	if g.HasMember(username) {
		return core.Group{}, core.ErrAlreadyMember
	}
	if g.IsFull() {
		return core.Group{}, core.ErrGroupFull
	}

	saved, err := s.store.SaveGroup(ctx, g.WithMember(username))
	if err != nil {
		return core.Group{}, err
	}
	s.assignGroup(ctx, *u, saved.ID)
	s.logger.InfoContext(ctx, "User joined group", "group_id", saved.ID, "username", username)
	return saved, nil
}

// LeaveGroup removes the user from their group. The last member leaving
// deletes the group and its ledger; a dangling membership (group already
// gone) is repaired by just clearing the user record.
func (s *Service) LeaveGroup(ctx context.Context, username string) error {
	u := s.store.GetUser(ctx, username)
	if u == nil {
		return core.ErrUserNotFound
	}
	if !u.InGroup() {
		return core.ErrNotInGroup
	}

	if g := s.store.GetGroupByID(ctx, u.GroupID); g != nil {
		remaining := g.WithoutMember(username)
		if len(remaining.Members) == 0 {
			if err := s.store.DeleteGroup(ctx, g.ID); err != nil {
				return err
			}
		} else {
			if _, err := s.store.SaveGroup(ctx, remaining); err != nil {
				return err
			}
		}
	}

	s.assignGroup(ctx, *u, "")
	s.logger.InfoContext(ctx, "User left group", "group_id", u.GroupID, "username", username)
	return nil
}

// GetGroup returns the user's current group.
func (s *Service) GetGroup(ctx context.Context, username string) (core.Group, error) {
	g, err := s.userGroup(ctx, username)
	if err != nil {
		return core.Group{}, err
	}
	return *g, nil
}

// TransactionInput is the raw form of a new ledger entry. Amount is the
// decimal string as entered, parsed to cents during validation. A zero Date
// records the entry at the current time.
type TransactionInput struct {
	Description string
	Amount      string
	Category    string
	Type        core.TransactionType
	Date        time.Time
}

// AddTransaction validates the input and appends it to the user's group
// ledger. A concurrent write to the group is retried once with a fresh read;
// appends commute, so the retry cannot lose the other writer's entry.
func (s *Service) AddTransaction(ctx context.Context, username string, in TransactionInput) (core.Transaction, error) {
	cents, err := core.ParseDecimalToCents(in.Amount)
	if err != nil {
		return core.Transaction{}, err
	}

	date := in.Date
	if date.IsZero() {
		date = s.now()
	}
	tx := core.Transaction{
		ID:          uuid.NewString(),
		Description: strings.TrimSpace(in.Description),
		Amount:      core.Money{Cents: cents},
		Category:    strings.TrimSpace(in.Category),
		PaidBy:      username,
		Date:        date,
		Type:        in.Type,
	}
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, err
	}

	var saveErr error
	for attempt := 0; attempt < saveAttempts; attempt++ {
		g, err := s.userGroup(ctx, username)
		if err != nil {
			return core.Transaction{}, err
		}

		if _, saveErr = s.store.SaveGroup(ctx, g.WithTransaction(tx)); saveErr == nil {
			s.logger.InfoContext(ctx, "Transaction recorded",
				"group_id", g.ID, "transaction_id", tx.ID, "type", tx.Type, "cents", tx.Amount.Cents)
			return tx, nil
		}
		if !errors.Is(saveErr, core.ErrVersionConflict) {
			break
		}
		s.logger.DebugContext(ctx, "Retrying transaction after concurrent group write",
			"group_id", g.ID, "transaction_id", tx.ID)
	}
	return core.Transaction{}, saveErr
}

// Analytics computes the analytics view over the user's group ledger as of
// now.
func (s *Service) Analytics(ctx context.Context, username string) (core.Analytics, error) {
	g, err := s.userGroup(ctx, username)
	if err != nil {
		return core.Analytics{}, err
	}
	return core.ComputeAnalytics(*g, s.now()), nil
}

// Categories returns the suggestion list for a transaction type.
func (s *Service) Categories(t core.TransactionType) []string {
	return core.CategoriesFor(t)
}

// ClearStorage wipes the user's stored record and their session. Debug
// operation; group membership records held by others are left as they are.
func (s *Service) ClearStorage(ctx context.Context, username string) bool {
	ok := s.store.ClearStorage(ctx, username)
	if sess, has := s.store.LoadSession(); has && sess.User.Username == username {
		s.store.ClearSession()
	}
	return ok
}

// DebugStorage logs a snapshot of the persisted state.
func (s *Service) DebugStorage(ctx context.Context) {
	s.store.DebugStorage(ctx)
}

// userGroup resolves the user's current group, failing when the user is
// unknown, groupless, or their group record has vanished.
func (s *Service) userGroup(ctx context.Context, username string) (*core.Group, error) {
	u := s.store.GetUser(ctx, username)
	if u == nil {
		return nil, core.ErrUserNotFound
	}
	if !u.InGroup() {
		return nil, core.ErrNotInGroup
	}
	g := s.store.GetGroupByID(ctx, u.GroupID)
	if g == nil {
		return nil, core.ErrGroupNotFound
	}
	return g, nil
}

// assignGroup updates the user's membership record and the session when it
// belongs to the same user. The remote user write failing is logged but not
// fatal: the mirror holds the new value and the group write already landed.
func (s *Service) assignGroup(ctx context.Context, u core.User, groupID string) {
	u.GroupID = groupID
	if !s.store.SaveUser(ctx, u) {
		s.logger.WarnContext(ctx, "User membership update did not reach remote storage",
			"username", u.Username, "group_id", groupID)
	}
	if sess, ok := s.store.LoadSession(); ok && sess.User.Username == u.Username {
		sess.User = u
		s.store.SaveSession(sess)
	}
}
