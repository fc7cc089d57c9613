package knotes

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/knotes-app/knotes/pkg/markup"
	"github.com/knotes-app/knotes/pkg/models"
	"github.com/knotes-app/knotes/pkg/notes"
	"github.com/knotes-app/knotes/pkg/store"
)

// maxAttachmentSize bounds a single attachment upload.
const maxAttachmentSize = 32 << 20

type listNotesResponse struct {
	Notes   []*models.Note `json:"notes"`
	HasMore bool           `json:"hasMore"`
}

func (a *App) handleListNotes(w http.ResponseWriter, r *http.Request) {
	session, _ := sessionFromContext(r.Context())
	sel, err := notes.ParseSelector(r.URL.Query().Get("category"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid category filter")
		return
	}
	limit := notes.PageSize
	if s := r.URL.Query().Get("limit"); s != "" {
		limit, err = strconv.Atoi(s)
		if err != nil || limit <= 0 {
			respondError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
	}
	repo := a.repository(session.UserID)
	result, hasMore, err := repo.List(r.Context(), sel, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, listNotesResponse{Notes: result, HasMore: hasMore})
}

func (a *App) handleCreateNote(w http.ResponseWriter, r *http.Request) {
	session, _ := sessionFromContext(r.Context())
	sel, err := notes.ParseSelector(r.URL.Query().Get("category"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid category filter")
		return
	}
	repo := a.repository(session.UserID)
	id, err := repo.AddNote(r.Context(), sel)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"id": id.String()})
}

func (a *App) handleGetNote(w http.ResponseWriter, r *http.Request) {
	session, _ := sessionFromContext(r.Context())
	id, err := models.ParseNoteID(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid note id")
		return
	}
	repo := a.repository(session.UserID)
	note, err := repo.GetNote(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if note == nil {
		respondError(w, http.StatusNotFound, "Note not found")
		return
	}
	respondJSON(w, http.StatusOK, note)
}

type updateNoteRequest struct {
	Title       *string              `json:"title"`
	Content     *string              `json:"content"`
	CategoryIDs *[]models.CategoryID `json:"categoryIds"`
	Tags        *[]string            `json:"tags"`
	IsPinned    *bool                `json:"isPinned"`
}

func (a *App) handleUpdateNote(w http.ResponseWriter, r *http.Request) {
	session, _ := sessionFromContext(r.Context())
	id, err := models.ParseNoteID(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid note id")
		return
	}
	var req updateNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	repo := a.repository(session.UserID)
	patch := store.NotePatch{
		Title:       req.Title,
		CategoryIDs: req.CategoryIDs,
		Tags:        req.Tags,
		IsPinned:    req.IsPinned,
	}
	if req.Content != nil {
		clean, err := markup.Sanitize(*req.Content)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Malformed note content")
			return
		}
		// Equivalent markup is not rewritten, so an editor echoing its own
		// content back does not clobber a newer revision's timestamp.
		current, err := repo.GetNote(r.Context(), id)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if current == nil {
			respondError(w, http.StatusNotFound, "Note not found")
			return
		}
		if !markup.Equal(current.Content, clean) {
			patch.Content = &clean
		}
	}
	if patch.IsEmpty() {
		respondJSON(w, http.StatusOK, map[string]string{"status": "unchanged"})
		return
	}
	if err := repo.UpdateNote(r.Context(), id, patch); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Note not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (a *App) handleDeleteNote(w http.ResponseWriter, r *http.Request) {
	session, _ := sessionFromContext(r.Context())
	id, err := models.ParseNoteID(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid note id")
		return
	}
	repo := a.repository(session.UserID)
	if err := repo.DeleteNote(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Note not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (a *App) handleUploadAttachment(w http.ResponseWriter, r *http.Request) {
	session, _ := sessionFromContext(r.Context())
	id, err := models.ParseNoteID(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid note id")
		return
	}
	if err := r.ParseMultipartForm(maxAttachmentSize); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid multipart payload")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "Missing file field")
		return
	}
	defer file.Close()

	repo := a.repository(session.UserID)
	att, err := repo.UploadAttachment(r.Context(), id, header.Filename, header.Header.Get("Content-Type"), file)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Note not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, att)
}

func (a *App) handleListCategories(w http.ResponseWriter, r *http.Request) {
	session, _ := sessionFromContext(r.Context())
	repo := a.repository(session.UserID)
	categories, err := repo.Categories(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, categories)
}

type categoryRequest struct {
	Name string `json:"name"`
}

func (a *App) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	session, _ := sessionFromContext(r.Context())
	var req categoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		respondError(w, http.StatusBadRequest, "Category name is required")
		return
	}
	repo := a.repository(session.UserID)
	id, err := repo.AddCategory(r.Context(), req.Name)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"id": id.String()})
}

func (a *App) handleRenameCategory(w http.ResponseWriter, r *http.Request) {
	session, _ := sessionFromContext(r.Context())
	id, err := models.ParseCategoryID(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid category id")
		return
	}
	var req categoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		respondError(w, http.StatusBadRequest, "Category name is required")
		return
	}
	repo := a.repository(session.UserID)
	if err := repo.UpdateCategory(r.Context(), id, req.Name); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Category not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}
