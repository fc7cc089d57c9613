// Package store defines the persistence interface of the KNotes application.
//
// The [Store] interface abstracts the document database behind the service.
// Two implementations exist:
//
//   - knotes/pkg/store/surrealdb: SurrealDB over WebSocket with the
//     surrealcbor codec, using parameterized SurrealQL and LIVE SELECT for
//     change feeds.
//   - knotes/pkg/store/memory: mutex-guarded maps with an in-process change
//     fan-out, used by the test suite and as a zero-dependency dev backend.
//
// Get methods return (nil, nil) for missing records. List methods return
// empty slices, never nil. Update methods for notes perform partial updates
// and always restamp the server-side update time.
package store

import (
	"context"

	"github.com/knotes-app/knotes/pkg/models"
)

// NoteQuery bounds a note listing. A zero CategoryID means "all": filter by
// owner only. Limit caps the number of returned notes; results are ordered
// pinned-first, then most-recently-updated first.
type NoteQuery struct {
	UserID     models.UserID
	CategoryID models.CategoryID
	Limit      int
}

// NotePatch is a partial note update. Nil fields are left untouched.
// The store stamps UpdatedAt itself on every patch.
type NotePatch struct {
	Title       *string
	Content     *string
	CategoryIDs *[]models.CategoryID
	Tags        *[]string
	IsPinned    *bool
	Attachments *[]models.Attachment
}

// IsEmpty reports whether the patch would change nothing.
func (p NotePatch) IsEmpty() bool {
	return p.Title == nil && p.Content == nil && p.CategoryIDs == nil &&
		p.Tags == nil && p.IsPinned == nil && p.Attachments == nil
}

// Action identifies what happened to a record in a change feed.
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// Change is a single change-feed event. It is an invalidation signal, not a
// snapshot: consumers re-run their bounded queries when one arrives.
type Change struct {
	Action Action
	ID     string
}

// Subscription is a standing change feed over a collection, scoped to one
// user. Events is closed when the subscription ends. Close must be called
// when the consumer's inputs change or the consumer goes away, so stale
// callbacks are never delivered.
type Subscription interface {
	Events() <-chan Change
	Close() error
}

// Store is the persistence interface for notes, categories and user profiles.
type Store interface {
	// Notes
	CreateNote(ctx context.Context, note *models.Note) error
	GetNote(ctx context.Context, id models.NoteID) (*models.Note, error)
	UpdateNote(ctx context.Context, id models.NoteID, patch NotePatch) error
	DeleteNote(ctx context.Context, id models.NoteID) error
	ListNotes(ctx context.Context, q NoteQuery) ([]*models.Note, error)

	// Categories
	CreateCategory(ctx context.Context, category *models.Category) error
	UpdateCategory(ctx context.Context, id models.CategoryID, name string) error
	ListCategories(ctx context.Context, userID models.UserID) ([]*models.Category, error)

	// Users
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id models.UserID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error

	// Change feeds
	WatchNotes(ctx context.Context, userID models.UserID) (Subscription, error)
	WatchCategories(ctx context.Context, userID models.UserID) (Subscription, error)

	Migrate(ctx context.Context) error
	Close() error
}
