package knotes

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gorilla/mux"

	"github.com/knotes-app/knotes/pkg/models"
)

// handleServeFile streams a stored attachment. The path carries the owning
// user id; anyone else gets the same 404 a missing file would.
func (a *App) handleServeFile(w http.ResponseWriter, r *http.Request) {
	session, _ := sessionFromContext(r.Context())
	vars := mux.Vars(r)

	owner, err := models.ParseUserID(vars["user"])
	if err != nil || owner != session.UserID {
		respondError(w, http.StatusNotFound, "File not found")
		return
	}
	noteID, err := models.ParseNoteID(vars["note"])
	if err != nil {
		respondError(w, http.StatusNotFound, "File not found")
		return
	}
	name := vars["name"]

	f, err := a.files.Open(owner, noteID, name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			respondError(w, http.StatusNotFound, "File not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer f.Close()

	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, f); err != nil {
		a.log.Error().Err(err).Str("name", name).Msg("failed to stream attachment")
	}
}
