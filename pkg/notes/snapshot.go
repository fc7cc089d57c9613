package notes

import (
	"sort"

	"github.com/knotes-app/knotes/pkg/models"
)

// Selector names the note set a consumer is looking at: every note the user
// owns ("all") or the members of one category.
type Selector struct {
	category models.CategoryID
}

// SelectAll is the selector covering all of a user's notes.
var SelectAll = Selector{}

// SelectCategory returns the selector for a single category.
func SelectCategory(id models.CategoryID) Selector {
	return Selector{category: id}
}

// ParseSelector parses the wire form: the literal "all" (or an empty string)
// or a category id.
func ParseSelector(s string) (Selector, error) {
	if s == "" || s == "all" {
		return SelectAll, nil
	}
	id, err := models.ParseCategoryID(s)
	if err != nil {
		return Selector{}, err
	}
	return SelectCategory(id), nil
}

func (s Selector) All() bool                   { return s.category.IsZero() }
func (s Selector) Category() models.CategoryID { return s.category }

func (s Selector) String() string {
	if s.All() {
		return "all"
	}
	return s.category.String()
}

// Snapshot is what the repository publishes to its consumer: the current
// bounded note list, the user's categories, and the pagination state. Error
// carries the user-visible message when the live subscription failed;
// pagination is halted until the next fetch or reset.
type Snapshot struct {
	Notes      []*models.Note     `json:"notes"`
	Categories []*models.Category `json:"categories"`
	HasMore    bool               `json:"hasMore"`
	Loading    bool               `json:"loading"`
	Error      string             `json:"error,omitempty"`
}

// sortNotes applies the display order to whatever the backend returned:
// pinned notes first, most recently updated first within each group. The
// backend already orders this way, but the snapshot is re-sorted so the
// invariant holds regardless of which store produced it.
func sortNotes(notes []*models.Note) {
	sort.SliceStable(notes, func(i, j int) bool {
		if notes[i].IsPinned != notes[j].IsPinned {
			return notes[i].IsPinned
		}
		return notes[i].UpdatedAt.After(notes[j].UpdatedAt)
	})
}
