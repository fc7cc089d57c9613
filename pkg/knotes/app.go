// Package knotes wires the KNotes note-taking service: configuration
// parsing, the HTTP API, the websocket live feed, and the authentication and
// two-factor flows on top of the document store.
package knotes

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/knotes-app/knotes/pkg/auth"
	"github.com/knotes-app/knotes/pkg/auth/twofactor"
	"github.com/knotes-app/knotes/pkg/files"
	"github.com/knotes-app/knotes/pkg/models"
	"github.com/knotes-app/knotes/pkg/notes"
	"github.com/knotes-app/knotes/pkg/store"
	"github.com/knotes-app/knotes/pkg/store/memory"
	surrealstore "github.com/knotes-app/knotes/pkg/store/surrealdb"
)

// Issuer is the label authenticator apps show next to enrolled accounts.
const Issuer = "KNotes"

// Config holds application configuration, populated by Parse from flags and
// environment variables.
type Config struct {
	ServerPort string
	DataDir    string

	// Memory switches to the in-memory store, for development and tests.
	Memory bool

	SurrealDBURL  string
	SurrealDBNS   string
	SurrealDBDB   string
	SurrealDBUser string
	SurrealDBPass string
}

// App holds the application state shared by all handlers.
type App struct {
	store    store.Store
	files    *files.Store
	sessions *auth.Manager
	config   *Config
	log      zerolog.Logger

	mu        sync.Mutex
	verifiers map[string]*twofactor.Verifier // keyed by session token
}

// New connects the store, the attachment store and the session table.
func New(ctx context.Context, config *Config) (*App, error) {
	log := zerolog.New(os.Stdout).With().Timestamp().Logger()

	var st store.Store
	if config.Memory {
		st = memory.New()
		log.Info().Msg("using in-memory store")
	} else {
		var err error
		st, err = surrealstore.New(ctx, surrealstore.Config{
			URL:       config.SurrealDBURL,
			Namespace: config.SurrealDBNS,
			Database:  config.SurrealDBDB,
			Username:  config.SurrealDBUser,
			Password:  config.SurrealDBPass,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to SurrealDB: %w", err)
		}
		log.Info().Str("url", config.SurrealDBURL).Msg("connected to SurrealDB")
	}

	fileStore, err := files.New(filepath.Join(config.DataDir, "attachments"), "/files")
	if err != nil {
		st.Close()
		return nil, err
	}

	sessions, err := auth.NewManager(filepath.Join(config.DataDir, "sessions.json"))
	if err != nil {
		st.Close()
		return nil, err
	}

	return &App{
		store:     st,
		files:     fileStore,
		sessions:  sessions,
		config:    config,
		log:       log,
		verifiers: make(map[string]*twofactor.Verifier),
	}, nil
}

// Close releases the store connection.
func (a *App) Close() error {
	if a.store != nil {
		return a.store.Close()
	}
	return nil
}

// Store exposes the underlying store, useful for tests.
func (a *App) Store() store.Store { return a.store }

// Sessions exposes the session manager, useful for tests.
func (a *App) Sessions() *auth.Manager { return a.sessions }

// Migrate applies store schema setup (index definitions).
func (a *App) Migrate(ctx context.Context, cmd *MigrateCommand) error {
	if err := a.store.Migrate(ctx); err != nil {
		return err
	}
	a.log.Info().Msg("migration complete")
	return nil
}

// repository builds the mutation/point-read mediator for one user. The
// websocket feed additionally calls Start and FetchNotes on it to establish
// the live subscriptions; REST handlers use it as-is.
func (a *App) repository(userID models.UserID) *notes.Repository {
	return notes.NewRepository(a.store, a.files, a.log, userID)
}

// verifier returns the two-factor verifier bound to a session, creating it
// on first use so enrollment state survives across requests.
func (a *App) verifier(token string, userID models.UserID) *twofactor.Verifier {
	a.mu.Lock()
	defer a.mu.Unlock()
	if v, ok := a.verifiers[token]; ok {
		return v
	}
	v := twofactor.NewVerifier(a.store, a.log, Issuer, userID)
	a.verifiers[token] = v
	return v
}

// dropVerifier forgets a session's verifier, after success or logout.
func (a *App) dropVerifier(token string) {
	a.mu.Lock()
	delete(a.verifiers, token)
	a.mu.Unlock()
}
