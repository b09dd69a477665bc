package store

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"expensecf/internal/core"
	"expensecf/internal/kv"
)

// flakyStore wraps a MemoryStore and fails every operation while down, or
// only the writes while putDown.
type flakyStore struct {
	inner   *kv.MemoryStore
	down    bool
	putDown bool
}

var errDown = errors.New("backend down")

func (f *flakyStore) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	if f.down {
		return nil, false, errDown
	}
	return f.inner.Get(ctx, key)
}

func (f *flakyStore) Put(ctx context.Context, key string, value any) error {
	if f.down || f.putDown {
		return errDown
	}
	return f.inner.Put(ctx, key, value)
}

func (f *flakyStore) Delete(ctx context.Context, key string) error {
	if f.down || f.putDown {
		return errDown
	}
	return f.inner.Delete(ctx, key)
}

func newTestAdapter() (*Adapter, *flakyStore) {
	fs := &flakyStore{inner: kv.NewMemoryStore()}
	return NewAdapter(fs, nil), fs
}

func TestUserRoundTrip(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAdapter()

	if got := a.GetUser(ctx, "alice"); got != nil {
		t.Fatalf("GetUser before save = %v, want nil", got)
	}

	if !a.SaveUser(ctx, core.User{Username: "alice"}) {
		t.Fatal("SaveUser failed")
	}

	got := a.GetUser(ctx, "alice")
	if got == nil || got.Username != "alice" || got.InGroup() {
		t.Fatalf("GetUser = %+v", got)
	}
}

func TestUserCacheFallback(t *testing.T) {
	ctx := context.Background()
	a, fs := newTestAdapter()

	a.SaveUser(ctx, core.User{Username: "alice", GroupID: "g1"})

	fs.down = true
	got := a.GetUser(ctx, "alice")
	if got == nil || got.GroupID != "g1" {
		t.Fatalf("cache fallback = %+v", got)
	}

	// Unknown user with backend down: nothing to fall back to
	if got := a.GetUser(ctx, "bob"); got != nil {
		t.Fatalf("GetUser(bob) = %+v, want nil", got)
	}
}

func TestSaveUserRemoteFailure(t *testing.T) {
	ctx := context.Background()
	a, fs := newTestAdapter()

	fs.down = true
	if a.SaveUser(ctx, core.User{Username: "alice"}) {
		t.Fatal("SaveUser should report remote failure")
	}

	// The mirror keeps the value regardless
	if got := a.GetUser(ctx, "alice"); got == nil {
		t.Fatal("mirror should serve the unsynced user")
	}
}

func TestSaveGroupAssignsVersions(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAdapter()

	saved, err := a.SaveGroup(ctx, core.Group{ID: "g1", Name: "Trip", Members: []string{"alice"}})
	if err != nil {
		t.Fatalf("SaveGroup: %v", err)
	}
	if saved.Version != 1 {
		t.Fatalf("new group version = %d, want 1", saved.Version)
	}

	saved2, err := a.SaveGroup(ctx, saved.WithMember("bob"))
	if err != nil {
		t.Fatalf("second SaveGroup: %v", err)
	}
	if saved2.Version != 2 {
		t.Fatalf("updated group version = %d, want 2", saved2.Version)
	}
}

func TestSaveGroupRoundTrip(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAdapter()

	g := core.Group{
		ID:      "g1",
		Name:    "Trip",
		Members: []string{"alice", "bob"},
		Expenses: []core.Transaction{{
			ID:          "t1",
			Description: "Dinner",
			Amount:      core.Money{Cents: 5000},
			Category:    "Food",
			PaidBy:      "alice",
			Date:        time.Date(2026, time.August, 15, 12, 0, 0, 0, time.UTC),
			Type:        core.Expense,
		}},
	}

	saved, err := a.SaveGroup(ctx, g)
	if err != nil {
		t.Fatalf("SaveGroup: %v", err)
	}

	fetched := a.GetGroupByID(ctx, "g1")
	if fetched == nil {
		t.Fatal("group not found after save")
	}
	if fetched.ID != saved.ID || fetched.Name != saved.Name || fetched.Version != saved.Version {
		t.Fatalf("round trip mismatch: saved %+v fetched %+v", saved, *fetched)
	}
	if !reflect.DeepEqual(fetched.Members, saved.Members) {
		t.Fatalf("members: saved %v fetched %v", saved.Members, fetched.Members)
	}
	if len(fetched.Expenses) != 1 {
		t.Fatalf("ledger: %+v", fetched.Expenses)
	}
	got, want := fetched.Expenses[0], saved.Expenses[0]
	if got.ID != want.ID || got.Amount != want.Amount || got.Type != want.Type || !got.Date.Equal(want.Date) {
		t.Fatalf("transaction: saved %+v fetched %+v", want, got)
	}
}

func TestSaveGroupVersionConflict(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAdapter()

	saved, err := a.SaveGroup(ctx, core.Group{ID: "g1", Name: "Trip", Members: []string{"alice"}})
	if err != nil {
		t.Fatalf("SaveGroup: %v", err)
	}

	// Two writers read version 1; the second save is stale
	if _, err := a.SaveGroup(ctx, saved.WithMember("bob")); err != nil {
		t.Fatalf("first concurrent save: %v", err)
	}
	if _, err := a.SaveGroup(ctx, saved.WithMember("carol")); !errors.Is(err, core.ErrVersionConflict) {
		t.Fatalf("stale save = %v, want ErrVersionConflict", err)
	}

	// The first write survived
	g := a.GetGroupByID(ctx, "g1")
	if g == nil || !g.HasMember("bob") || g.HasMember("carol") {
		t.Fatalf("surviving group = %+v", g)
	}
}

func TestSaveGroupBackendDown(t *testing.T) {
	ctx := context.Background()
	a, fs := newTestAdapter()

	fs.down = true
	if _, err := a.SaveGroup(ctx, core.Group{ID: "g1", Name: "Trip"}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("SaveGroup with backend down = %v, want ErrUnavailable", err)
	}
}

func TestGroupsCacheFallback(t *testing.T) {
	ctx := context.Background()
	a, fs := newTestAdapter()

	if _, err := a.SaveGroup(ctx, core.Group{ID: "g1", Name: "Trip", Members: []string{"alice"}}); err != nil {
		t.Fatalf("SaveGroup: %v", err)
	}
	if got := a.GetGroups(ctx); len(got) != 1 {
		t.Fatalf("GetGroups = %v", got)
	}

	fs.down = true
	got := a.GetGroups(ctx)
	if len(got) != 1 || got[0].ID != "g1" {
		t.Fatalf("cache fallback GetGroups = %v", got)
	}
}

func TestGetGroupsEmptyWithoutData(t *testing.T) {
	a, _ := newTestAdapter()

	got := a.GetGroups(context.Background())
	if got == nil || len(got) != 0 {
		t.Fatalf("GetGroups on empty store = %v, want empty slice", got)
	}

	// Backend down and nothing mirrored: still empty, never nil
	a2, fs2 := newTestAdapter()
	fs2.down = true
	if got := a2.GetGroups(context.Background()); got == nil || len(got) != 0 {
		t.Fatalf("GetGroups degraded = %v, want empty slice", got)
	}
}

func TestCorruptGroupsTreatedAsEmpty(t *testing.T) {
	ctx := context.Background()
	fs := &flakyStore{inner: kv.NewMemoryStore()}
	if err := fs.inner.Put(ctx, "groups", json.RawMessage(`"not an array"`)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	a := NewAdapter(fs, nil)
	if got := a.GetGroups(ctx); len(got) != 0 {
		t.Fatalf("GetGroups over corrupt data = %v", got)
	}
}

func TestDeleteGroup(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAdapter()

	if _, err := a.SaveGroup(ctx, core.Group{ID: "g1", Name: "Trip", Members: []string{"alice"}}); err != nil {
		t.Fatalf("SaveGroup: %v", err)
	}
	if err := a.DeleteGroup(ctx, "g1"); err != nil {
		t.Fatalf("DeleteGroup: %v", err)
	}
	if g := a.GetGroupByID(ctx, "g1"); g != nil {
		t.Fatalf("group still present: %+v", g)
	}

	// Deleting again is a no-op
	if err := a.DeleteGroup(ctx, "g1"); err != nil {
		t.Fatalf("repeat DeleteGroup: %v", err)
	}
}

func TestFailedDeleteKeepsMirrorIntact(t *testing.T) {
	ctx := context.Background()
	a, fs := newTestAdapter()

	for _, id := range []string{"g1", "g2", "g3"} {
		if _, err := a.SaveGroup(ctx, core.Group{ID: id, Name: id, Members: []string{"alice"}}); err != nil {
			t.Fatalf("SaveGroup(%s): %v", id, err)
		}
	}

	fs.putDown = true
	if err := a.DeleteGroup(ctx, "g2"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("DeleteGroup with writes failing = %v, want ErrUnavailable", err)
	}

	// Full outage: the degraded read must still serve every committed group.
	fs.down = true
	got := a.GetGroups(ctx)
	if len(got) != 3 {
		t.Fatalf("degraded GetGroups = %v, want 3 groups", got)
	}
	for i, id := range []string{"g1", "g2", "g3"} {
		if got[i].ID != id {
			t.Fatalf("degraded GetGroups[%d].ID = %q, want %q", i, got[i].ID, id)
		}
	}
}

func TestFailedSaveKeepsMirrorIntact(t *testing.T) {
	ctx := context.Background()
	a, fs := newTestAdapter()

	saved, err := a.SaveGroup(ctx, core.Group{ID: "g1", Name: "Trip", Members: []string{"alice"}})
	if err != nil {
		t.Fatalf("SaveGroup: %v", err)
	}

	fs.putDown = true
	if _, err := a.SaveGroup(ctx, saved.WithMember("bob")); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("SaveGroup with writes failing = %v, want ErrUnavailable", err)
	}

	fs.down = true
	g := a.GetGroupByID(ctx, "g1")
	if g == nil || g.Version != 1 || g.HasMember("bob") {
		t.Fatalf("degraded group = %+v, want committed version 1 without bob", g)
	}
}

func TestGetUserGroups(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAdapter()

	if _, err := a.SaveGroup(ctx, core.Group{ID: "g1", Name: "Trip", Members: []string{"alice", "bob"}}); err != nil {
		t.Fatalf("SaveGroup: %v", err)
	}
	if _, err := a.SaveGroup(ctx, core.Group{ID: "g2", Name: "Home", Members: []string{"carol"}}); err != nil {
		t.Fatalf("SaveGroup: %v", err)
	}

	mine := a.GetUserGroups(ctx, "alice")
	if len(mine) != 1 || mine[0].ID != "g1" {
		t.Fatalf("GetUserGroups(alice) = %v", mine)
	}
	if got := a.GetUserGroups(ctx, "nobody"); len(got) != 0 {
		t.Fatalf("GetUserGroups(nobody) = %v", got)
	}
}

func TestClearStorage(t *testing.T) {
	ctx := context.Background()
	a, fs := newTestAdapter()

	a.SaveUser(ctx, core.User{Username: "alice"})
	if !a.ClearStorage(ctx, "alice") {
		t.Fatal("ClearStorage failed")
	}
	if got := a.GetUser(ctx, "alice"); got != nil {
		t.Fatalf("user survived clear: %+v", got)
	}

	fs.down = true
	if a.ClearStorage(ctx, "alice") {
		t.Fatal("ClearStorage should report remote failure")
	}
}

func TestSessionLifecycle(t *testing.T) {
	a, _ := newTestAdapter()

	if _, ok := a.LoadSession(); ok {
		t.Fatal("fresh adapter should have no session")
	}

	a.SaveSession(Session{User: core.User{Username: "alice", GroupID: "g1"}})
	sess, ok := a.LoadSession()
	if !ok || sess.User.Username != "alice" || !sess.InGroup() {
		t.Fatalf("LoadSession = %+v, %v", sess, ok)
	}

	a.ClearSession()
	if _, ok := a.LoadSession(); ok {
		t.Fatal("session should be gone after clear")
	}
	a.ClearSession() // clearing twice is fine
}

// groupEventRecorder captures published change events.
type groupEventRecorder struct {
	events []string
}

func (r *groupEventRecorder) PublishGroupChanged(_ context.Context, groupID string, version int64, change string) error {
	r.events = append(r.events, groupID+":"+change)
	return nil
}

func TestGroupEventsPublished(t *testing.T) {
	ctx := context.Background()
	rec := &groupEventRecorder{}
	fs := &flakyStore{inner: kv.NewMemoryStore()}
	a := NewAdapter(fs, nil, Options{Events: rec})

	if _, err := a.SaveGroup(ctx, core.Group{ID: "g1", Name: "Trip", Members: []string{"alice"}}); err != nil {
		t.Fatalf("SaveGroup: %v", err)
	}
	if err := a.DeleteGroup(ctx, "g1"); err != nil {
		t.Fatalf("DeleteGroup: %v", err)
	}

	want := []string{"g1:saved", "g1:deleted"}
	if len(rec.events) != len(want) || rec.events[0] != want[0] || rec.events[1] != want[1] {
		t.Fatalf("events = %v, want %v", rec.events, want)
	}
}
