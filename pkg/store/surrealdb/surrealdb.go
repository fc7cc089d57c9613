// Package surrealdb implements [store.Store] on SurrealDB.
//
// The connection is configured with the surrealcbor codec rather than the
// default marshaler. SurrealDB speaks CBOR internally, and the custom codec
// is what makes time.Time round-trip as a native datetime and lets the typed
// IDs in knotes/pkg/models marshal to RecordIDs (CBOR tag 8).
//
// All queries are parameterized ($param syntax). User-provided values are
// never interpolated into query strings.
//
// Server-assigned timestamps use time::now() inside the query so the
// database, not the client, is the time authority. Change feeds are LIVE
// SELECT queries filtered by owner; each feed is killed when its
// subscription closes.
package surrealdb

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	surrealdb "github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	"github.com/surrealdb/surrealdb.go/pkg/connection/gorillaws"
	surrealdb_models "github.com/surrealdb/surrealdb.go/pkg/models"
	"github.com/surrealdb/surrealdb.go/surrealcbor"

	"github.com/knotes-app/knotes/pkg/models"
	"github.com/knotes-app/knotes/pkg/store"
)

// Config holds the SurrealDB connection settings.
type Config struct {
	URL       string // WebSocket endpoint, e.g. ws://localhost:8000/rpc
	Namespace string
	Database  string
	Username  string
	Password  string
}

// Store implements store.Store on a single SurrealDB connection.
type Store struct {
	db *surrealdb.DB
}

// New connects to SurrealDB, authenticates and selects the namespace and
// database. The connection uses the gorilla WebSocket transport with the
// surrealcbor codec.
func New(ctx context.Context, cfg Config) (*Store, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse SurrealDB URL: %w", err)
	}

	conf := connection.NewConfig(u)
	codec := surrealcbor.New()
	conf.Marshaler = codec
	conf.Unmarshaler = codec

	conn := gorillaws.New(conf)
	db, err := surrealdb.FromConnection(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SurrealDB: %w", err)
	}

	if cfg.Username != "" && cfg.Password != "" {
		if _, err := db.SignIn(ctx, map[string]any{
			"user": cfg.Username,
			"pass": cfg.Password,
		}); err != nil {
			return nil, fmt.Errorf("failed to authenticate: %w", err)
		}
	}

	if err := db.Use(ctx, cfg.Namespace, cfg.Database); err != nil {
		return nil, fmt.Errorf("failed to use namespace/database: %w", err)
	}

	return &Store{db: db}, nil
}

// Migrate defines the indexes the list queries depend on. Tables themselves
// are created implicitly on first insert.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		"DEFINE INDEX IF NOT EXISTS notes_owner ON TABLE notes COLUMNS userId",
		"DEFINE INDEX IF NOT EXISTS categories_owner ON TABLE categories COLUMNS userId",
		"DEFINE INDEX IF NOT EXISTS users_email ON TABLE users COLUMNS email UNIQUE",
	}
	for _, stmt := range stmts {
		if _, err := surrealdb.Query[any](ctx, s.db, stmt, map[string]any{}); err != nil {
			return fmt.Errorf("failed to define index: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close(context.Background())
}

// isNotFound maps the SDK's "no result" errors onto our (nil, nil) contract.
func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Expected a single or multiple results but got 0") ||
		strings.Contains(msg, "cannot unmarshal array into Go value")
}

// Notes

func (s *Store) CreateNote(ctx context.Context, note *models.Note) error {
	if note.ID.IsZero() {
		note.ID = models.NewNoteID()
	}
	note.UpgradeLegacy()
	query := `
		CREATE $id CONTENT $data;
		UPDATE $id SET createdAt = time::now(), updatedAt = time::now();
	`
	params := map[string]any{
		"id":   note.ID.RecordID(),
		"data": note,
	}
	if _, err := surrealdb.Query[any](ctx, s.db, query, params); err != nil {
		return fmt.Errorf("failed to create note: %w", err)
	}
	return nil
}

func (s *Store) GetNote(ctx context.Context, id models.NoteID) (*models.Note, error) {
	note, err := surrealdb.Select[models.Note](ctx, s.db, id.RecordID())
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get note: %w", err)
	}
	if note == nil {
		return nil, nil
	}
	note.UpgradeLegacy()
	return note, nil
}

func (s *Store) UpdateNote(ctx context.Context, id models.NoteID, patch store.NotePatch) error {
	merge := map[string]any{}
	if patch.Title != nil {
		merge["title"] = *patch.Title
	}
	if patch.Content != nil {
		merge["content"] = *patch.Content
	}
	if patch.CategoryIDs != nil {
		merge["categoryIds"] = *patch.CategoryIDs
	}
	if patch.Tags != nil {
		merge["tags"] = *patch.Tags
	}
	if patch.IsPinned != nil {
		merge["isPinned"] = *patch.IsPinned
	}
	if patch.Attachments != nil {
		merge["attachments"] = *patch.Attachments
	}
	query := `
		UPDATE $id MERGE $patch;
		UPDATE $id SET updatedAt = time::now();
	`
	params := map[string]any{
		"id":    id.RecordID(),
		"patch": merge,
	}
	if _, err := surrealdb.Query[any](ctx, s.db, query, params); err != nil {
		return fmt.Errorf("failed to update note: %w", err)
	}
	return nil
}

func (s *Store) DeleteNote(ctx context.Context, id models.NoteID) error {
	if _, err := surrealdb.Delete[models.Note](ctx, s.db, id.RecordID()); err != nil {
		return fmt.Errorf("failed to delete note: %w", err)
	}
	return nil
}

func (s *Store) ListNotes(ctx context.Context, q store.NoteQuery) ([]*models.Note, error) {
	var query string
	params := map[string]any{
		"user":  q.UserID.RecordID(),
		"limit": q.Limit,
	}
	if q.CategoryID.IsZero() {
		query = `
			SELECT * FROM notes WHERE userId = $user
			ORDER BY isPinned DESC, updatedAt DESC
			LIMIT $limit;
		`
	} else {
		// The OR arm matches documents written by the first schema
		// revision, which carried a single categoryId.
		query = `
			SELECT * FROM notes WHERE userId = $user
			AND (categoryIds CONTAINS $category OR categoryId = $category)
			ORDER BY isPinned DESC, updatedAt DESC
			LIMIT $limit;
		`
		params["category"] = q.CategoryID.RecordID()
	}

	result, err := surrealdb.Query[[]*models.Note](ctx, s.db, query, params)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	notes := []*models.Note{}
	if result != nil && len(*result) > 0 {
		notes = (*result)[0].Result
	}
	for _, n := range notes {
		n.UpgradeLegacy()
	}
	return notes, nil
}

// Categories

func (s *Store) CreateCategory(ctx context.Context, category *models.Category) error {
	if category.ID.IsZero() {
		category.ID = models.NewCategoryID()
	}
	query := `
		CREATE $id CONTENT $data;
		UPDATE $id SET createdAt = time::now();
	`
	params := map[string]any{
		"id":   category.ID.RecordID(),
		"data": category,
	}
	if _, err := surrealdb.Query[any](ctx, s.db, query, params); err != nil {
		return fmt.Errorf("failed to create category: %w", err)
	}
	return nil
}

func (s *Store) UpdateCategory(ctx context.Context, id models.CategoryID, name string) error {
	query := "UPDATE $id SET name = $name"
	params := map[string]any{
		"id":   id.RecordID(),
		"name": name,
	}
	if _, err := surrealdb.Query[any](ctx, s.db, query, params); err != nil {
		return fmt.Errorf("failed to update category: %w", err)
	}
	return nil
}

func (s *Store) ListCategories(ctx context.Context, userID models.UserID) ([]*models.Category, error) {
	query := "SELECT * FROM categories WHERE userId = $user ORDER BY name ASC"
	params := map[string]any{"user": userID.RecordID()}
	result, err := surrealdb.Query[[]*models.Category](ctx, s.db, query, params)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	categories := []*models.Category{}
	if result != nil && len(*result) > 0 {
		categories = (*result)[0].Result
	}
	return categories, nil
}

// Users

func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID.IsZero() {
		user.ID = models.NewUserID()
	}
	query := `
		CREATE $id CONTENT $data;
		UPDATE $id SET createdAt = time::now(), updatedAt = time::now();
	`
	params := map[string]any{
		"id":   user.ID.RecordID(),
		"data": user,
	}
	if _, err := surrealdb.Query[any](ctx, s.db, query, params); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id models.UserID) (*models.User, error) {
	user, err := surrealdb.Select[models.User](ctx, s.db, id.RecordID())
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := "SELECT * FROM users WHERE email = $email LIMIT 1"
	params := map[string]any{"email": email}
	result, err := surrealdb.Query[[]*models.User](ctx, s.db, query, params)
	if err != nil {
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	if result == nil || len(*result) == 0 || len((*result)[0].Result) == 0 {
		return nil, nil
	}
	return (*result)[0].Result[0], nil
}

func (s *Store) UpdateUser(ctx context.Context, user *models.User) error {
	query := `
		UPDATE $id CONTENT $data;
		UPDATE $id SET updatedAt = time::now();
	`
	params := map[string]any{
		"id":   user.ID.RecordID(),
		"data": user,
	}
	if _, err := surrealdb.Query[any](ctx, s.db, query, params); err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	return nil
}

// Change feeds

// liveSubscription adapts a SurrealDB live query to store.Subscription.
type liveSubscription struct {
	db     *surrealdb.DB
	liveID string
	events chan store.Change
	once   sync.Once
	cancel context.CancelFunc
}

func (l *liveSubscription) Events() <-chan store.Change { return l.events }

func (l *liveSubscription) Close() error {
	var err error
	l.once.Do(func() {
		l.cancel()
		// Kill closes the notification channel, which ends the pump
		// goroutine and with it the events channel.
		err = surrealdb.Kill(context.Background(), l.db, l.liveID)
	})
	return err
}

func (s *Store) watch(ctx context.Context, table string, userID models.UserID) (store.Subscription, error) {
	query := fmt.Sprintf("LIVE SELECT * FROM %s WHERE userId = $user", table)
	params := map[string]any{"user": userID.RecordID()}
	result, err := surrealdb.Query[surrealdb_models.UUID](ctx, s.db, query, params)
	if err != nil {
		return nil, fmt.Errorf("failed to start live query on %s: %w", table, err)
	}
	if result == nil || len(*result) == 0 {
		return nil, fmt.Errorf("live query on %s returned no ID", table)
	}
	liveID := (*result)[0].Result.String()

	notifications, err := s.db.LiveNotifications(liveID)
	if err != nil {
		return nil, fmt.Errorf("failed to open live notifications: %w", err)
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	sub := &liveSubscription{
		db:     s.db,
		liveID: liveID,
		events: make(chan store.Change, 16),
		cancel: cancel,
	}

	go func() {
		defer close(sub.events)
		for {
			select {
			case <-pumpCtx.Done():
				return
			case n, ok := <-notifications:
				if !ok {
					return
				}
				change := store.Change{
					Action: mapAction(n.Action),
					ID:     recordIDString(n.Result),
				}
				select {
				case sub.events <- change:
				case <-pumpCtx.Done():
					return
				}
			}
		}
	}()

	return sub, nil
}

func (s *Store) WatchNotes(ctx context.Context, userID models.UserID) (store.Subscription, error) {
	return s.watch(ctx, "notes", userID)
}

func (s *Store) WatchCategories(ctx context.Context, userID models.UserID) (store.Subscription, error) {
	return s.watch(ctx, "categories", userID)
}

func mapAction(action connection.Action) store.Action {
	switch action {
	case connection.CreateAction:
		return store.ActionCreate
	case connection.UpdateAction:
		return store.ActionUpdate
	case connection.DeleteAction:
		return store.ActionDelete
	default:
		return store.ActionUpdate
	}
}

// recordIDString digs the record id out of a live notification payload.
// Live queries without diff deliver the full record as a map.
func recordIDString(result any) string {
	record, ok := result.(map[string]any)
	if !ok {
		return ""
	}
	switch id := record["id"].(type) {
	case surrealdb_models.RecordID:
		return fmt.Sprintf("%v", id.ID)
	case *surrealdb_models.RecordID:
		return fmt.Sprintf("%v", id.ID)
	case string:
		return id
	default:
		return fmt.Sprintf("%v", id)
	}
}
