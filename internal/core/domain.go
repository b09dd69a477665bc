package core

import (
	"errors"
	"strings"
	"time"
)

const (
	Expense  TransactionType = "expense"
	Addition TransactionType = "addition"
)

// MaxGroupMembers is the hard cap on group size: the tracker is built for
// couples, not households.
const MaxGroupMembers = 2

// MinUsernameLen is the minimum username length after trimming.
const MinUsernameLen = 3

type (
	TransactionType string

	// User is the account record. GroupID is empty while the user is not
	// part of any group.
	User struct {
		Username string `json:"username"`
		GroupID  string `json:"groupId,omitempty"`
	}

	// Transaction is a single ledger entry, either an expense or an
	// addition. Entries are immutable once appended to a group.
	Transaction struct {
		ID          string          `json:"id"`
		Description string          `json:"description"`
		Amount      Money           `json:"amount"`
		Category    string          `json:"category"`
		PaidBy      string          `json:"paidBy"`
		Date        time.Time       `json:"date"`
		Type        TransactionType `json:"type"`
	}

	// Group is a shared ledger with up to two members. Version is the
	// optimistic-concurrency token: saves carrying a stale version are
	// rejected instead of silently clobbering a concurrent write.
	Group struct {
		ID       string        `json:"id"`
		Name     string        `json:"name"`
		Members  []string      `json:"members"`
		Expenses []Transaction `json:"expenses"`
		Version  int64         `json:"version"`
	}
)

var (
	ErrInvalidUsername  = errors.New("username must be at least 3 characters")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrEmptyDescription = errors.New("empty description")
	ErrEmptyCategory    = errors.New("empty category")
	ErrInvalidType      = errors.New("invalid transaction type")
	ErrZeroDate         = errors.New("date cannot be zero")
	ErrEmptyGroupName   = errors.New("empty group name")
	ErrTooManyMembers   = errors.New("too many members")
	ErrDuplicateMember  = errors.New("duplicate member")

	ErrUserNotFound  = errors.New("user not found")
	ErrGroupNotFound = errors.New("group not found")

	ErrGroupFull       = errors.New("group already has two members")
	ErrAlreadyMember   = errors.New("already a member of this group")
	ErrAlreadyInGroup  = errors.New("already in a group")
	ErrNotInGroup      = errors.New("not in a group")
	ErrVersionConflict = errors.New("group was modified concurrently")
)

// ExpenseCategories and AdditionCategories are the suggestion lists offered
// for each transaction type. Categories remain free-form strings; these are
// defaults, not an enum.
var (
	ExpenseCategories = []string{
		"Food",
		"Rent",
		"Utilities",
		"Entertainment",
		"Shopping",
		"Transportation",
		"Other",
	}

	AdditionCategories = []string{
		"Salary",
		"Bonus",
		"Gift",
		"Investment",
		"Other",
	}
)

// CategoriesFor returns the suggestion list for a transaction type.
func CategoriesFor(t TransactionType) []string {
	if t == Addition {
		return append([]string(nil), AdditionCategories...)
	}
	return append([]string(nil), ExpenseCategories...)
}

// String implements fmt.Stringer
func (t TransactionType) String() string {
	return string(t)
}

// IsValid returns true if the transaction type is valid.
func (t TransactionType) IsValid() bool {
	switch t {
	case Expense, Addition:
		return true
	default:
		return false
	}
}

func (u User) Validate() error {
	if len(strings.TrimSpace(u.Username)) < MinUsernameLen {
		return ErrInvalidUsername
	}
	return nil
}

// InGroup reports whether the user currently belongs to a group.
func (u User) InGroup() bool {
	return u.GroupID != ""
}

func (tx Transaction) Validate() error {
	if len(strings.TrimSpace(tx.Description)) == 0 {
		return ErrEmptyDescription
	}
	if len(tx.Description) > 200 {
		return errors.New("description too long (max 200 characters)")
	}
	if err := tx.Amount.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(tx.Category) == "" {
		return ErrEmptyCategory
	}
	if strings.TrimSpace(tx.PaidBy) == "" {
		return errors.New("missing payer")
	}
	if tx.Date.IsZero() {
		return ErrZeroDate
	}
	if !tx.Type.IsValid() {
		return ErrInvalidType
	}
	return nil
}

func (g Group) Validate() error {
	if len(strings.TrimSpace(g.Name)) == 0 {
		return ErrEmptyGroupName
	}
	if len(g.Members) > MaxGroupMembers {
		return ErrTooManyMembers
	}
	seen := map[string]struct{}{}
	for _, m := range g.Members {
		if _, ok := seen[m]; ok {
			return ErrDuplicateMember
		}
		seen[m] = struct{}{}
	}
	return nil
}

// HasMember reports whether username is in the member list. Matching is
// exact: usernames are case-sensitive.
func (g Group) HasMember(username string) bool {
	for _, m := range g.Members {
		if m == username {
			return true
		}
	}
	return false
}

// IsFull reports whether the group has reached its member cap.
func (g Group) IsFull() bool {
	return len(g.Members) >= MaxGroupMembers
}

// WithMember returns a copy of the group with username appended.
func (g Group) WithMember(username string) Group {
	out := g
	out.Members = append(append([]string(nil), g.Members...), username)
	return out
}

// WithoutMember returns a copy of the group with username removed.
func (g Group) WithoutMember(username string) Group {
	out := g
	out.Members = make([]string, 0, len(g.Members))
	for _, m := range g.Members {
		if m != username {
			out.Members = append(out.Members, m)
		}
	}
	return out
}

// WithTransaction returns a copy of the group with tx appended. The prior
// entries are shared, never mutated: the ledger is append-only.
func (g Group) WithTransaction(tx Transaction) Group {
	out := g
	out.Expenses = append(append([]Transaction(nil), g.Expenses...), tx)
	return out
}

// GroupIndex is a collection of groups with id-keyed lookup. It replaces the
// key-prefix scanning the early local-only storage did to "find" groups.
type GroupIndex struct {
	byID   map[string]int
	groups []Group
}

// NewGroupIndex builds an index over groups. Later duplicates of the same id
// win, matching last-write semantics of the underlying array.
func NewGroupIndex(groups []Group) *GroupIndex {
	ix := &GroupIndex{byID: make(map[string]int, len(groups))}
	for _, g := range groups {
		if pos, ok := ix.byID[g.ID]; ok {
			ix.groups[pos] = g
			continue
		}
		ix.byID[g.ID] = len(ix.groups)
		ix.groups = append(ix.groups, g)
	}
	return ix
}

// ByID returns the group with the given id, if present.
func (ix *GroupIndex) ByID(id string) (Group, bool) {
	pos, ok := ix.byID[id]
	if !ok {
		return Group{}, false
	}
	return ix.groups[pos], true
}

// ForMember returns all groups that list username as a member, in collection
// order.
func (ix *GroupIndex) ForMember(username string) []Group {
	var out []Group
	for _, g := range ix.groups {
		if g.HasMember(username) {
			out = append(out, g)
		}
	}
	return out
}

// All returns the groups in collection order.
func (ix *GroupIndex) All() []Group {
	return append([]Group(nil), ix.groups...)
}

// Len returns the number of distinct groups in the index.
func (ix *GroupIndex) Len() int {
	return len(ix.groups)
}
