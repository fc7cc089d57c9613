package knotes

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/knotes-app/knotes/pkg/notes"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// watchCommand is what the client sends over the notes feed socket.
type watchCommand struct {
	Action   string `json:"action"`
	Category string `json:"category"`
}

// handleWatchNotes upgrades to a websocket and streams feed snapshots. The
// client steers the feed with select / load_more / reset commands; every
// state change arrives as a full snapshot.
func (a *App) handleWatchNotes(w http.ResponseWriter, r *http.Request) {
	session, _ := sessionFromContext(r.Context())

	sel, err := notes.ParseSelector(r.URL.Query().Get("category"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid category filter")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo := a.repository(session.UserID)
	defer repo.Close()

	if err := repo.Start(ctx); err != nil {
		a.log.Error().Err(err).Msg("failed to start note feed")
		return
	}
	if err := repo.FetchNotes(ctx, sel); err != nil {
		a.log.Error().Err(err).Msg("initial note fetch failed")
	}

	go a.readWatchCommands(ctx, cancel, conn, repo)

	if err := conn.WriteJSON(repo.Snapshot()); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case snapshot, ok := <-repo.Updates():
			if !ok {
				return
			}
			if err := conn.WriteJSON(snapshot); err != nil {
				return
			}
		}
	}
}

func (a *App) readWatchCommands(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, repo *notes.Repository) {
	defer cancel()
	for {
		var cmd watchCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		switch cmd.Action {
		case "select":
			sel, err := notes.ParseSelector(cmd.Category)
			if err != nil {
				a.log.Warn().Str("category", cmd.Category).Msg("ignoring bad selector")
				continue
			}
			repo.ResetLimit()
			if err := repo.FetchNotes(ctx, sel); err != nil {
				a.log.Error().Err(err).Msg("note fetch failed")
			}
		case "load_more":
			if err := repo.LoadMore(ctx); err != nil {
				a.log.Error().Err(err).Msg("load more failed")
			}
		case "reset":
			repo.ResetLimit()
		default:
			a.log.Warn().Str("action", cmd.Action).Msg("ignoring unknown feed command")
		}
	}
}
