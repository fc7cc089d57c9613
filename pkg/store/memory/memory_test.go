package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knotes-app/knotes/pkg/models"
	"github.com/knotes-app/knotes/pkg/store"
)

func testClock(start time.Time) func() time.Time {
	current := start
	return func() time.Time {
		current = current.Add(time.Second)
		return current
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New()
	s.SetClock(testClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
	t.Cleanup(func() { s.Close() })
	return s
}

func createNote(t *testing.T, s *Store, user models.UserID, title string, pinned bool, categories ...models.CategoryID) *models.Note {
	t.Helper()
	note := &models.Note{
		Title:       title,
		Content:     "<p>" + title + "</p>",
		CategoryIDs: categories,
		IsPinned:    pinned,
		UserID:      user,
	}
	require.NoError(t, s.CreateNote(context.Background(), note))
	return note
}

func TestCreateNoteAssignsIDAndTimestamps(t *testing.T) {
	s := newTestStore(t)
	user := models.NewUserID()

	note := createNote(t, s, user, "first", false)
	assert.False(t, note.ID.IsZero())
	assert.False(t, note.CreatedAt.IsZero())
	assert.Equal(t, note.CreatedAt, note.UpdatedAt)

	got, err := s.GetNote(context.Background(), note.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "first", got.Title)
}

func TestGetNoteMissingReturnsNil(t *testing.T) {
	s := newTestStore(t)

	got, err := s.GetNote(context.Background(), models.NewNoteID())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpdateNoteAppliesPatchAndRestamps(t *testing.T) {
	s := newTestStore(t)
	user := models.NewUserID()
	note := createNote(t, s, user, "before", false)

	title := "after"
	pinned := true
	err := s.UpdateNote(context.Background(), note.ID, store.NotePatch{
		Title:    &title,
		IsPinned: &pinned,
	})
	require.NoError(t, err)

	got, err := s.GetNote(context.Background(), note.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "after", got.Title)
	assert.True(t, got.IsPinned)
	assert.Equal(t, "<p>before</p>", got.Content, "unpatched fields survive")
	assert.True(t, got.UpdatedAt.After(got.CreatedAt))
}

func TestUpdateNoteMissingReturnsErrNotFound(t *testing.T) {
	s := newTestStore(t)

	title := "x"
	err := s.UpdateNote(context.Background(), models.NewNoteID(), store.NotePatch{Title: &title})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteNote(t *testing.T) {
	s := newTestStore(t)
	user := models.NewUserID()
	note := createNote(t, s, user, "doomed", false)

	require.NoError(t, s.DeleteNote(context.Background(), note.ID))

	got, err := s.GetNote(context.Background(), note.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	// Deleting a missing note is idempotent.
	require.NoError(t, s.DeleteNote(context.Background(), note.ID))
}

func TestListNotesOrdersPinnedThenRecency(t *testing.T) {
	s := newTestStore(t)
	user := models.NewUserID()

	old := createNote(t, s, user, "old", false)
	pinned := createNote(t, s, user, "pinned", true)
	fresh := createNote(t, s, user, "fresh", false)

	result, err := s.ListNotes(context.Background(), store.NoteQuery{UserID: user, Limit: 10})
	require.NoError(t, err)
	require.Len(t, result, 3)
	assert.Equal(t, pinned.ID, result[0].ID)
	assert.Equal(t, fresh.ID, result[1].ID)
	assert.Equal(t, old.ID, result[2].ID)
}

func TestListNotesFiltersByOwnerAndCategory(t *testing.T) {
	s := newTestStore(t)
	alice := models.NewUserID()
	bob := models.NewUserID()
	work := models.NewCategoryID()

	mine := createNote(t, s, alice, "mine", false, work)
	createNote(t, s, alice, "uncategorized", false)
	createNote(t, s, bob, "theirs", false, work)

	result, err := s.ListNotes(context.Background(), store.NoteQuery{
		UserID:     alice,
		CategoryID: work,
		Limit:      10,
	})
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, mine.ID, result[0].ID)
}

func TestListNotesTruncatesToLimit(t *testing.T) {
	s := newTestStore(t)
	user := models.NewUserID()
	for i := 0; i < 5; i++ {
		createNote(t, s, user, "note", false)
	}

	result, err := s.ListNotes(context.Background(), store.NoteQuery{UserID: user, Limit: 3})
	require.NoError(t, err)
	assert.Len(t, result, 3)
}

func TestListNotesReturnsCopies(t *testing.T) {
	s := newTestStore(t)
	user := models.NewUserID()
	note := createNote(t, s, user, "shared", false)

	result, err := s.ListNotes(context.Background(), store.NoteQuery{UserID: user, Limit: 10})
	require.NoError(t, err)
	require.Len(t, result, 1)
	result[0].Title = "mutated"

	got, err := s.GetNote(context.Background(), note.ID)
	require.NoError(t, err)
	assert.Equal(t, "shared", got.Title)
}

func TestCategoriesCRUD(t *testing.T) {
	s := newTestStore(t)
	user := models.NewUserID()

	cat := &models.Category{Name: "Work", UserID: user}
	require.NoError(t, s.CreateCategory(context.Background(), cat))
	assert.False(t, cat.ID.IsZero())

	require.NoError(t, s.UpdateCategory(context.Background(), cat.ID, "Projects"))

	list, err := s.ListCategories(context.Background(), user)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Projects", list[0].Name)

	other, err := s.ListCategories(context.Background(), models.NewUserID())
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestUsersByEmail(t *testing.T) {
	s := newTestStore(t)

	user := &models.User{Email: "alice@example.com", DisplayName: "Alice"}
	require.NoError(t, s.CreateUser(context.Background(), user))

	got, err := s.GetUserByEmail(context.Background(), "alice@example.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, user.ID, got.ID)

	missing, err := s.GetUserByEmail(context.Background(), "nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestWatchNotesSignalsOwnerOnly(t *testing.T) {
	s := newTestStore(t)
	alice := models.NewUserID()
	bob := models.NewUserID()

	sub, err := s.WatchNotes(context.Background(), alice)
	require.NoError(t, err)
	defer sub.Close()

	note := createNote(t, s, alice, "mine", false)
	createNote(t, s, bob, "theirs", false)

	select {
	case change := <-sub.Events():
		assert.Equal(t, store.ActionCreate, change.Action)
		assert.Equal(t, note.ID.String(), change.ID)
	case <-time.After(time.Second):
		t.Fatal("expected a change event")
	}

	select {
	case change := <-sub.Events():
		t.Fatalf("unexpected event for another user's note: %+v", change)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWatchNotesDeleteEvent(t *testing.T) {
	s := newTestStore(t)
	user := models.NewUserID()
	note := createNote(t, s, user, "doomed", false)

	sub, err := s.WatchNotes(context.Background(), user)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, s.DeleteNote(context.Background(), note.ID))

	select {
	case change := <-sub.Events():
		assert.Equal(t, store.ActionDelete, change.Action)
	case <-time.After(time.Second):
		t.Fatal("expected a delete event")
	}
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	s := newTestStore(t)

	sub, err := s.WatchNotes(context.Background(), models.NewUserID())
	require.NoError(t, err)
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	_, open := <-sub.Events()
	assert.False(t, open)
}
