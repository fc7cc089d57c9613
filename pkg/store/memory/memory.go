// Package memory provides an in-memory implementation of [store.Store].
//
// It backs the unit tests and the -memory dev mode, where running a SurrealDB
// instance would be overkill. Change feeds are delivered through buffered
// channels; a subscriber that falls behind loses intermediate events, which
// is fine because changes are invalidation signals, not data.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/knotes-app/knotes/pkg/models"
	"github.com/knotes-app/knotes/pkg/store"
)

// Store keeps all records in maps guarded by a single mutex. Reads hand out
// copies so callers can never mutate shared state behind the lock.
type Store struct {
	mu         sync.Mutex
	notes      map[models.NoteID]*models.Note
	categories map[models.CategoryID]*models.Category
	users      map[models.UserID]*models.User
	noteSubs   map[*subscription]struct{}
	catSubs    map[*subscription]struct{}

	// now is swappable so tests can control timestamps.
	now func() time.Time
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		notes:      make(map[models.NoteID]*models.Note),
		categories: make(map[models.CategoryID]*models.Category),
		users:      make(map[models.UserID]*models.User),
		noteSubs:   make(map[*subscription]struct{}),
		catSubs:    make(map[*subscription]struct{}),
		now:        time.Now,
	}
}

// SetClock replaces the timestamp source. Tests use it to make ordering
// deterministic.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *Store) Migrate(ctx context.Context) error { return nil }

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.noteSubs {
		sub.closeLocked()
		delete(s.noteSubs, sub)
	}
	for sub := range s.catSubs {
		sub.closeLocked()
		delete(s.catSubs, sub)
	}
	return nil
}

// Notes

func (s *Store) CreateNote(ctx context.Context, note *models.Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if note.ID.IsZero() {
		note.ID = models.NewNoteID()
	}
	now := s.now()
	note.CreatedAt = now
	note.UpdatedAt = now
	note.UpgradeLegacy()
	cp := *note
	s.notes[note.ID] = &cp
	s.notifyNotesLocked(store.Change{Action: store.ActionCreate, ID: note.ID.String()}, note.UserID)
	return nil
}

func (s *Store) GetNote(ctx context.Context, id models.NoteID) (*models.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notes[id]
	if !ok {
		return nil, nil
	}
	cp := *n
	cp.UpgradeLegacy()
	return &cp, nil
}

func (s *Store) UpdateNote(ctx context.Context, id models.NoteID, patch store.NotePatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notes[id]
	if !ok {
		return store.ErrNotFound
	}
	applyPatch(n, patch)
	n.UpdatedAt = s.now()
	s.notifyNotesLocked(store.Change{Action: store.ActionUpdate, ID: id.String()}, n.UserID)
	return nil
}

func (s *Store) DeleteNote(ctx context.Context, id models.NoteID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notes[id]
	if !ok {
		return nil
	}
	delete(s.notes, id)
	s.notifyNotesLocked(store.Change{Action: store.ActionDelete, ID: id.String()}, n.UserID)
	return nil
}

func (s *Store) ListNotes(ctx context.Context, q store.NoteQuery) ([]*models.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	matched := make([]*models.Note, 0)
	for _, n := range s.notes {
		if n.UserID != q.UserID {
			continue
		}
		if !q.CategoryID.IsZero() && !n.InCategory(q.CategoryID) {
			continue
		}
		cp := *n
		cp.UpgradeLegacy()
		matched = append(matched, &cp)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].IsPinned != matched[j].IsPinned {
			return matched[i].IsPinned
		}
		return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
	})
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

func applyPatch(n *models.Note, patch store.NotePatch) {
	if patch.Title != nil {
		n.Title = *patch.Title
	}
	if patch.Content != nil {
		n.Content = *patch.Content
	}
	if patch.CategoryIDs != nil {
		n.CategoryIDs = append([]models.CategoryID(nil), (*patch.CategoryIDs)...)
	}
	if patch.Tags != nil {
		n.Tags = append([]string(nil), (*patch.Tags)...)
	}
	if patch.IsPinned != nil {
		n.IsPinned = *patch.IsPinned
	}
	if patch.Attachments != nil {
		n.Attachments = append([]models.Attachment(nil), (*patch.Attachments)...)
	}
}

// Categories

func (s *Store) CreateCategory(ctx context.Context, category *models.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if category.ID.IsZero() {
		category.ID = models.NewCategoryID()
	}
	category.CreatedAt = s.now()
	cp := *category
	s.categories[category.ID] = &cp
	s.notifyCategoriesLocked(store.Change{Action: store.ActionCreate, ID: category.ID.String()}, category.UserID)
	return nil
}

func (s *Store) UpdateCategory(ctx context.Context, id models.CategoryID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.categories[id]
	if !ok {
		return store.ErrNotFound
	}
	c.Name = name
	s.notifyCategoriesLocked(store.Change{Action: store.ActionUpdate, ID: id.String()}, c.UserID)
	return nil
}

func (s *Store) ListCategories(ctx context.Context, userID models.UserID) ([]*models.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Category, 0)
	for _, c := range s.categories {
		if c.UserID != userID {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out, nil
}

// Users

func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user.ID.IsZero() {
		user.ID = models.NewUserID()
	}
	now := s.now()
	user.CreatedAt = now
	user.UpdatedAt = now
	cp := *user
	s.users[user.ID] = &cp
	return nil
}

func (s *Store) GetUser(ctx context.Context, id models.UserID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *Store) UpdateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.ID]; !ok {
		return store.ErrNotFound
	}
	user.UpdatedAt = s.now()
	cp := *user
	s.users[user.ID] = &cp
	return nil
}

// Change feeds

type subscription struct {
	store  *Store
	userID models.UserID
	events chan store.Change
	closed bool
	table  string
}

func (sub *subscription) Events() <-chan store.Change { return sub.events }

func (sub *subscription) Close() error {
	sub.store.mu.Lock()
	defer sub.store.mu.Unlock()
	switch sub.table {
	case "notes":
		delete(sub.store.noteSubs, sub)
	case "categories":
		delete(sub.store.catSubs, sub)
	}
	sub.closeLocked()
	return nil
}

func (sub *subscription) closeLocked() {
	if !sub.closed {
		sub.closed = true
		close(sub.events)
	}
}

func (s *Store) WatchNotes(ctx context.Context, userID models.UserID) (store.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := &subscription{store: s, userID: userID, events: make(chan store.Change, 16), table: "notes"}
	s.noteSubs[sub] = struct{}{}
	return sub, nil
}

func (s *Store) WatchCategories(ctx context.Context, userID models.UserID) (store.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := &subscription{store: s, userID: userID, events: make(chan store.Change, 16), table: "categories"}
	s.catSubs[sub] = struct{}{}
	return sub, nil
}

func (s *Store) notifyNotesLocked(change store.Change, owner models.UserID) {
	for sub := range s.noteSubs {
		if sub.closed || sub.userID != owner {
			continue
		}
		select {
		case sub.events <- change:
		default:
			// Subscriber is behind; drop. The next event re-invalidates.
		}
	}
}

func (s *Store) notifyCategoriesLocked(change store.Change, owner models.UserID) {
	for sub := range s.catSubs {
		if sub.closed || sub.userID != owner {
			continue
		}
		select {
		case sub.events <- change:
		default:
		}
	}
}
