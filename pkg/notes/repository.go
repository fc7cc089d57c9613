// Package notes implements the live note repository: a per-user, paginated,
// filterable view over the note and category collections, plus all mutations.
//
// A Repository composes three things on top of [store.Store]:
//
//   - standing change feeds for the user's categories and for the currently
//     selected note set, re-established (previous feed cancelled first)
//     whenever the selector or the page limit changes;
//   - limit-based pagination: the page limit starts at [PageSize] and widens
//     by the same increment on LoadMore, with HasMore derived from whether
//     the backend returned exactly the requested count;
//   - defense-in-depth ownership checks on every point read and mutation, so
//     a record owned by another user behaves as if it did not exist.
//
// Pagination is cursor-free by design: widening the limit re-runs the bounded
// query, so ordering may shift as concurrent updates land. Feed errors are
// surfaced as a user-visible string in the snapshot and halt pagination; no
// automatic retry is attempted.
package notes

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/knotes-app/knotes/pkg/models"
	"github.com/knotes-app/knotes/pkg/store"
)

// PageSize is the pagination increment: the initial page limit and the step
// LoadMore widens it by.
const PageSize = 15

// Placeholder content for a freshly created note.
const (
	NewNoteTitle   = "New Note"
	NewNoteContent = "<p></p>"
)

// AttachmentStore is the slice of the file store the repository needs for
// uploads. Implemented by knotes/pkg/files.
type AttachmentStore interface {
	Save(userID models.UserID, noteID models.NoteID, filename, mimeType string, r io.Reader) (models.Attachment, error)
}

// Repository is the live view of one user's notes and categories. It is safe
// for concurrent use; snapshots are published to a single consumer channel.
type Repository struct {
	store store.Store
	files AttachmentStore
	log   zerolog.Logger
	user  models.UserID

	mu         sync.Mutex
	selector   Selector
	limit      int
	loading    bool
	hasMore    bool
	errMsg     string
	notes      []*models.Note
	categories []*models.Category
	noteSub    store.Subscription
	catSub     store.Subscription
	closed     bool

	updates chan Snapshot
}

// NewRepository creates a repository for one user. files may be nil when
// attachment uploads are not wired (the first schema revision had none).
func NewRepository(st store.Store, files AttachmentStore, log zerolog.Logger, user models.UserID) *Repository {
	return &Repository{
		store:   st,
		files:   files,
		log:     log.With().Str("component", "notes").Stringer("user", user).Logger(),
		user:    user,
		limit:   PageSize,
		hasMore: true,
		updates: make(chan Snapshot, 1),
	}
}

// Updates delivers a snapshot after every state change. The channel is
// coalescing: if the consumer lags, it only ever sees the latest state.
func (r *Repository) Updates() <-chan Snapshot { return r.updates }

// Snapshot returns the current state.
func (r *Repository) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Repository) snapshotLocked() Snapshot {
	notes := make([]*models.Note, len(r.notes))
	copy(notes, r.notes)
	categories := make([]*models.Category, len(r.categories))
	copy(categories, r.categories)
	return Snapshot{
		Notes:      notes,
		Categories: categories,
		HasMore:    r.hasMore,
		Loading:    r.loading,
		Error:      r.errMsg,
	}
}

func (r *Repository) publishLocked() {
	snap := r.snapshotLocked()
	// Coalesce: replace a pending snapshot instead of blocking.
	select {
	case <-r.updates:
	default:
	}
	select {
	case r.updates <- snap:
	default:
	}
}

// Start establishes the standing category feed and loads the category list.
// It must be called once before FetchNotes.
func (r *Repository) Start(ctx context.Context) error {
	sub, err := r.store.WatchCategories(ctx, r.user)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.catSub = sub
	r.mu.Unlock()
	go r.pumpCategories(ctx, sub)
	return r.reloadCategories(ctx)
}

func (r *Repository) pumpCategories(ctx context.Context, sub store.Subscription) {
	for range sub.Events() {
		if err := r.reloadCategories(ctx); err != nil {
			r.log.Error().Err(err).Msg("failed to reload categories")
		}
	}
}

func (r *Repository) reloadCategories(ctx context.Context) error {
	categories, err := r.store.ListCategories(ctx, r.user)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.categories = categories
	r.publishLocked()
	r.mu.Unlock()
	return nil
}

// FetchNotes switches the repository to the given selector and re-establishes
// the note feed. The previous feed is cancelled first so no duplicate or
// stale deliveries can occur.
func (r *Repository) FetchNotes(ctx context.Context, sel Selector) error {
	r.mu.Lock()
	r.selector = sel
	r.loading = true
	r.publishLocked()
	r.mu.Unlock()
	return r.resubscribe(ctx)
}

// resubscribe tears down the current note feed, runs the bounded list query
// under the current selector and limit, and starts a fresh feed.
func (r *Repository) resubscribe(ctx context.Context) error {
	r.mu.Lock()
	old := r.noteSub
	r.noteSub = nil
	sel, limit := r.selector, r.limit
	r.mu.Unlock()
	if old != nil {
		old.Close()
	}

	if err := r.runQuery(ctx, sel, limit); err != nil {
		return err
	}

	sub, err := r.store.WatchNotes(ctx, r.user)
	if err != nil {
		r.failFeed(err)
		return err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		sub.Close()
		return nil
	}
	r.noteSub = sub
	r.mu.Unlock()
	go r.pumpNotes(ctx, sub)
	return nil
}

func (r *Repository) pumpNotes(ctx context.Context, sub store.Subscription) {
	for range sub.Events() {
		r.mu.Lock()
		// A newer feed has replaced this one; stop re-running its query.
		if r.noteSub != sub {
			r.mu.Unlock()
			return
		}
		sel, limit := r.selector, r.limit
		r.mu.Unlock()
		if err := r.runQuery(ctx, sel, limit); err != nil {
			r.log.Error().Err(err).Msg("failed to refresh notes")
		}
	}
}

// runQuery executes the bounded list query and publishes the result. HasMore
// is true exactly when the backend filled the requested limit.
func (r *Repository) runQuery(ctx context.Context, sel Selector, limit int) error {
	q := store.NoteQuery{UserID: r.user, Limit: limit}
	if !sel.All() {
		q.CategoryID = sel.Category()
	}
	result, err := r.store.ListNotes(ctx, q)
	if err != nil {
		r.failFeed(err)
		return err
	}
	sortNotes(result)

	r.mu.Lock()
	// Stale result from an older selector; the newer query wins.
	if r.selector != sel {
		r.mu.Unlock()
		return nil
	}
	r.notes = result
	r.hasMore = len(result) == limit
	r.loading = false
	r.errMsg = ""
	r.publishLocked()
	r.mu.Unlock()
	return nil
}

// failFeed records a feed error in the snapshot and halts pagination.
func (r *Repository) failFeed(err error) {
	r.log.Error().Err(err).Msg("note feed error")
	r.mu.Lock()
	r.errMsg = err.Error()
	r.loading = false
	r.hasMore = false
	r.publishLocked()
	r.mu.Unlock()
}

// LoadMore widens the page limit by PageSize and re-subscribes. It is a
// no-op while a load is in flight or when the backend has no more results.
func (r *Repository) LoadMore(ctx context.Context) error {
	r.mu.Lock()
	if !r.hasMore || r.loading {
		r.mu.Unlock()
		return nil
	}
	r.loading = true
	r.limit += PageSize
	r.publishLocked()
	r.mu.Unlock()
	return r.resubscribe(ctx)
}

// ResetLimit restores the page limit to PageSize, e.g. when the selector
// changes, so pagination restarts from the first page. It does not query;
// the next FetchNotes does.
func (r *Repository) ResetLimit() {
	r.mu.Lock()
	r.limit = PageSize
	r.hasMore = true
	r.errMsg = ""
	r.mu.Unlock()
}

// Limit returns the current page limit.
func (r *Repository) Limit() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.limit
}

// List runs a one-shot bounded query without touching the live feed. The
// second return reports whether widening the limit could surface more notes.
func (r *Repository) List(ctx context.Context, sel Selector, limit int) ([]*models.Note, bool, error) {
	if limit <= 0 {
		limit = PageSize
	}
	result, err := r.store.ListNotes(ctx, store.NoteQuery{
		UserID:     r.user,
		CategoryID: sel.Category(),
		Limit:      limit,
	})
	if err != nil {
		return nil, false, err
	}
	return result, len(result) == limit, nil
}

// Categories lists the user's categories once, outside the live feed.
func (r *Repository) Categories(ctx context.Context) ([]*models.Category, error) {
	return r.store.ListCategories(ctx, r.user)
}

// GetNote point-reads a note. A note owned by another user behaves exactly
// like a missing one: (nil, nil).
func (r *Repository) GetNote(ctx context.Context, id models.NoteID) (*models.Note, error) {
	note, err := r.store.GetNote(ctx, id)
	if err != nil {
		return nil, err
	}
	if note == nil || note.UserID != r.user {
		return nil, nil
	}
	return note, nil
}

// AddNote creates a placeholder note attached to the selector's category (no
// category for "all") and returns its id once the write completed.
func (r *Repository) AddNote(ctx context.Context, sel Selector) (models.NoteID, error) {
	categoryIDs := []models.CategoryID{}
	if !sel.All() {
		categoryIDs = []models.CategoryID{sel.Category()}
	}
	note := &models.Note{
		Title:       NewNoteTitle,
		Content:     NewNoteContent,
		CategoryIDs: categoryIDs,
		Tags:        []string{},
		IsPinned:    false,
		UserID:      r.user,
	}
	if err := r.store.CreateNote(ctx, note); err != nil {
		return models.NoteID{}, err
	}
	return note.ID, nil
}

// UpdateNote applies a partial update. The store stamps a fresh server-side
// update time on every patch.
func (r *Repository) UpdateNote(ctx context.Context, id models.NoteID, patch store.NotePatch) error {
	if _, err := r.requireOwned(ctx, id); err != nil {
		return err
	}
	return r.store.UpdateNote(ctx, id, patch)
}

// DeleteNote removes the note. Callers adjust any active selection before
// deleting so nothing keeps referencing the dead id.
func (r *Repository) DeleteNote(ctx context.Context, id models.NoteID) error {
	if _, err := r.requireOwned(ctx, id); err != nil {
		return err
	}
	return r.store.DeleteNote(ctx, id)
}

func (r *Repository) requireOwned(ctx context.Context, id models.NoteID) (*models.Note, error) {
	note, err := r.GetNote(ctx, id)
	if err != nil {
		return nil, err
	}
	if note == nil {
		return nil, store.ErrNotFound
	}
	return note, nil
}

// AddCategory creates a category and returns its id so callers can attach it
// to a note immediately. Name uniqueness is not enforced.
func (r *Repository) AddCategory(ctx context.Context, name string) (models.CategoryID, error) {
	category := &models.Category{
		Name:   name,
		Count:  0,
		UserID: r.user,
	}
	if err := r.store.CreateCategory(ctx, category); err != nil {
		return models.CategoryID{}, err
	}
	return category.ID, nil
}

// UpdateCategory renames a category the user owns.
func (r *Repository) UpdateCategory(ctx context.Context, id models.CategoryID, name string) error {
	owned, err := r.ownsCategory(ctx, id)
	if err != nil {
		return err
	}
	if !owned {
		return store.ErrNotFound
	}
	return r.store.UpdateCategory(ctx, id, name)
}

func (r *Repository) ownsCategory(ctx context.Context, id models.CategoryID) (bool, error) {
	categories, err := r.store.ListCategories(ctx, r.user)
	if err != nil {
		return false, err
	}
	for _, c := range categories {
		if c.ID == id {
			return true, nil
		}
	}
	return false, nil
}

// UploadAttachment stores a file under the note's per-user path, appends the
// captured metadata to the note and returns it.
func (r *Repository) UploadAttachment(ctx context.Context, id models.NoteID, filename, mimeType string, src io.Reader) (models.Attachment, error) {
	note, err := r.requireOwned(ctx, id)
	if err != nil {
		return models.Attachment{}, err
	}
	if r.files == nil {
		return models.Attachment{}, errors.New("attachment storage is not configured")
	}
	attachment, err := r.files.Save(r.user, id, filename, mimeType, src)
	if err != nil {
		return models.Attachment{}, err
	}
	attachments := append(append([]models.Attachment{}, note.Attachments...), attachment)
	patch := store.NotePatch{Attachments: &attachments}
	if err := r.store.UpdateNote(ctx, id, patch); err != nil {
		return models.Attachment{}, err
	}
	return attachment, nil
}

// Close tears down both feeds. The repository cannot be restarted.
func (r *Repository) Close() error {
	r.mu.Lock()
	r.closed = true
	noteSub, catSub := r.noteSub, r.catSub
	r.noteSub, r.catSub = nil, nil
	r.mu.Unlock()
	if noteSub != nil {
		noteSub.Close()
	}
	if catSub != nil {
		catSub.Close()
	}
	return nil
}
