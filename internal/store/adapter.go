// Package store implements the storage adapter: domain operations over the
// key-value backend, with a local cache mirror for fast reads and degraded
// operation when the backend is unreachable.
//
// The remote store is the source of truth; the mirror is read-through only
// and refreshed on every successful remote read. Remote failures never
// escape this package as errors on the read path: reads degrade to the
// mirror, then to nil/empty. User writes hit the mirror first and report
// remote failure; group writes reach the mirror only after the remote write
// commits, so degraded reads never serve an uncommitted group state.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"expensecf/internal/cache"
	"expensecf/internal/core"
	"expensecf/internal/kv"
)

// groupsKey is the fixed remote key holding the full group array. Writes to
// it are whole-array read-modify-write; see SaveGroup.
const groupsKey = "groups"

func userKey(username string) string {
	return "user:" + username
}

// ErrUnavailable reports that a write could not reach the remote store.
var ErrUnavailable = errors.New("remote storage unavailable")

// Publisher emits change events when the group collection is written.
// Optional: a nil Publisher disables events.
type Publisher interface {
	PublishGroupChanged(ctx context.Context, groupID string, version int64, change string) error
}

// Options tunes the local mirror.
type Options struct {
	CacheSize int
	CacheTTL  time.Duration
	Events    Publisher
}

func defaultOptions() Options {
	return Options{
		CacheSize: 256,
		CacheTTL:  24 * time.Hour,
	}
}

type Adapter struct {
	remote kv.Store
	users  *cache.LRU[core.User]
	groups *cache.LRU[[]core.Group]
	events Publisher
	logger *slog.Logger

	// Serializes group read-modify-write within this process. Writers on
	// other instances are guarded only by the per-group version check.
	saveMu sync.Mutex

	sessionMu sync.Mutex
	session   *Session
}

func NewAdapter(remote kv.Store, logger *slog.Logger, opts ...Options) *Adapter {
	o := defaultOptions()
	if len(opts) > 0 {
		if opts[0].CacheSize > 0 {
			o.CacheSize = opts[0].CacheSize
		}
		if opts[0].CacheTTL > 0 {
			o.CacheTTL = opts[0].CacheTTL
		}
		o.Events = opts[0].Events
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		remote: remote,
		users:  cache.NewLRU[core.User](o.CacheSize, o.CacheTTL),
		groups: cache.NewLRU[[]core.Group](1, o.CacheTTL),
		events: o.Events,
		logger: logger.With("component", "store"),
	}
}

// Caches exposes the adapter's caches for expiry management.
func (a *Adapter) Caches() []cache.Cleaner {
	return []cache.Cleaner{a.users, a.groups}
}

// SaveUser writes the user to the local mirror and to the remote store.
// Returns false when the remote write failed; the mirror keeps the new value
// either way.
func (a *Adapter) SaveUser(ctx context.Context, u core.User) bool {
	a.users.Set(userKey(u.Username), u)

	if err := a.remote.Put(ctx, userKey(u.Username), u); err != nil {
		a.logger.ErrorContext(ctx, "Failed to save user remotely",
			"username", u.Username, "error", err)
		return false
	}
	a.logger.DebugContext(ctx, "User saved", "username", u.Username, "group_id", u.GroupID)
	return true
}

// GetUser fetches user:<username>, refreshing the mirror on success. On
// remote failure or absence it falls back to the mirror; returns nil when
// neither has the user.
func (a *Adapter) GetUser(ctx context.Context, username string) *core.User {
	data, ok, err := a.remote.Get(ctx, userKey(username))
	if err != nil {
		a.logger.WarnContext(ctx, "Remote user read failed, falling back to cache",
			"username", username, "error", err)
	} else if ok {
		var u core.User
		if uerr := json.Unmarshal(data, &u); uerr != nil {
			a.logger.ErrorContext(ctx, "Corrupt user record, falling back to cache",
				"username", username, "error", uerr)
		} else {
			a.users.Set(userKey(username), u)
			return &u
		}
	}

	if u, cached := a.users.Get(userKey(username)); cached {
		return &u
	}
	return nil
}

// GetGroups returns the full group collection. The mirror is refreshed on
// every successful remote read; on remote failure the cached copy is served,
// and an empty collection when there is none.
func (a *Adapter) GetGroups(ctx context.Context) []core.Group {
	groups, err := a.fetchGroups(ctx)
	if err != nil {
		a.logger.WarnContext(ctx, "Remote group list read failed, falling back to cache", "error", err)
		if cached, ok := a.groups.Get(groupsKey); ok {
			return cached
		}
		return []core.Group{}
	}
	return groups
}

// GetGroupByID looks a group up by its exact id; returns nil if absent.
func (a *Adapter) GetGroupByID(ctx context.Context, id string) *core.Group {
	ix := core.NewGroupIndex(a.GetGroups(ctx))
	if g, ok := ix.ByID(id); ok {
		return &g
	}
	return nil
}

// GetUserGroups returns the groups that list username as a member.
func (a *Adapter) GetUserGroups(ctx context.Context, username string) []core.Group {
	return core.NewGroupIndex(a.GetGroups(ctx)).ForMember(username)
}

// SaveGroup upserts one group into the remote collection. The write is a
// whole-array read-modify-write under the fixed groups key, guarded by the
// group's version: replacing an entry whose stored version differs from the
// caller's returns ErrVersionConflict, and the successful save bumps the
// version. The returned group carries the new version.
func (a *Adapter) SaveGroup(ctx context.Context, g core.Group) (core.Group, error) {
	a.saveMu.Lock()
	defer a.saveMu.Unlock()

	groups, err := a.fetchGroups(ctx)
	if err != nil {
		a.logger.ErrorContext(ctx, "Cannot save group, remote read failed",
			"group_id", g.ID, "error", err)
		return core.Group{}, ErrUnavailable
	}

	replaced := false
	for i, existing := range groups {
		if existing.ID != g.ID {
			continue
		}
		if existing.Version != g.Version {
			a.logger.WarnContext(ctx, "Stale group write rejected",
				"group_id", g.ID, "stored_version", existing.Version, "caller_version", g.Version)
			return core.Group{}, core.ErrVersionConflict
		}
		g.Version++
		groups[i] = g
		replaced = true
		break
	}
	if !replaced {
		g.Version = 1
		groups = append(groups, g)
	}

	if err := a.putGroups(ctx, groups); err != nil {
		a.logger.ErrorContext(ctx, "Failed to save group collection",
			"group_id", g.ID, "error", err)
		return core.Group{}, ErrUnavailable
	}

	a.publish(ctx, g.ID, g.Version, "saved")
	a.logger.InfoContext(ctx, "Group saved",
		"group_id", g.ID, "version", g.Version, "members", len(g.Members), "expenses", len(g.Expenses))
	return g, nil
}

// DeleteGroup removes a group from the collection. Deleting an absent group
// is a no-op.
func (a *Adapter) DeleteGroup(ctx context.Context, id string) error {
	a.saveMu.Lock()
	defer a.saveMu.Unlock()

	groups, err := a.fetchGroups(ctx)
	if err != nil {
		return ErrUnavailable
	}

	kept := make([]core.Group, 0, len(groups))
	for _, g := range groups {
		if g.ID != id {
			kept = append(kept, g)
		}
	}
	if len(kept) == len(groups) {
		return nil
	}

	if err := a.putGroups(ctx, kept); err != nil {
		a.logger.ErrorContext(ctx, "Failed to delete group", "group_id", id, "error", err)
		return ErrUnavailable
	}

	a.publish(ctx, id, 0, "deleted")
	a.logger.InfoContext(ctx, "Group deleted", "group_id", id)
	return nil
}

// RefreshGroups forces a remote re-read of the collection into the mirror.
// Used by the periodic refresh worker.
func (a *Adapter) RefreshGroups(ctx context.Context) ([]core.Group, error) {
	return a.fetchGroups(ctx)
}

// ClearStorage drops the user's mirror entry and deletes user:<username>
// remotely. Group membership is intentionally left stale, matching the
// debug-only nature of the operation.
func (a *Adapter) ClearStorage(ctx context.Context, username string) bool {
	a.users.Delete(userKey(username))

	if err := a.remote.Delete(ctx, userKey(username)); err != nil {
		a.logger.ErrorContext(ctx, "Failed to clear remote user record",
			"username", username, "error", err)
		return false
	}
	a.logger.InfoContext(ctx, "Cleared storage", "username", username)
	return true
}

// DebugStorage logs the current state of the collection and mirror.
func (a *Adapter) DebugStorage(ctx context.Context) {
	groups := a.GetGroups(ctx)
	a.logger.InfoContext(ctx, "Storage debug",
		"groups", len(groups),
		"cached_users", a.users.Size(),
		"group_list_cached", a.groups.Size() > 0)
}

// fetchGroups reads the collection from the remote store and mirrors it.
// A missing key and a corrupt value both read as an empty collection. The
// mirror keeps its own copy: writers edit the returned slice in place, and
// that must never reach cached state behind a failed remote write.
func (a *Adapter) fetchGroups(ctx context.Context) ([]core.Group, error) {
	data, ok, err := a.remote.Get(ctx, groupsKey)
	if err != nil {
		return nil, err
	}

	groups := []core.Group{}
	if ok {
		if uerr := json.Unmarshal(data, &groups); uerr != nil {
			a.logger.ErrorContext(ctx, "Corrupt group collection, treating as empty", "error", uerr)
			groups = []core.Group{}
		}
	}

	a.groups.Set(groupsKey, append([]core.Group(nil), groups...))
	return groups, nil
}

func (a *Adapter) putGroups(ctx context.Context, groups []core.Group) error {
	if err := a.remote.Put(ctx, groupsKey, groups); err != nil {
		return err
	}
	a.groups.Set(groupsKey, append([]core.Group(nil), groups...))
	return nil
}

func (a *Adapter) publish(ctx context.Context, groupID string, version int64, change string) {
	if a.events == nil {
		return
	}
	if err := a.events.PublishGroupChanged(ctx, groupID, version, change); err != nil {
		// Events are best effort; the write already succeeded.
		a.logger.WarnContext(ctx, "Failed to publish group event",
			"group_id", groupID, "change", change, "error", err)
	}
}
