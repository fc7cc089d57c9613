// Package models defines the persisted entities of the KNotes application and
// their typed identifiers.
//
// Every entity is owned by exactly one user: queries are filtered by owner and
// point reads are re-checked against the requesting user before a record is
// returned. There is no sharing or collaboration model.
//
// Records are serialized twice: as JSON toward HTTP clients and as CBOR toward
// SurrealDB, where typed IDs become RecordIDs. Field names follow the JSON
// tags in both directions since the surrealcbor codec honors them.
package models

import "time"

// Attachment is a value type embedded in a note. The URL points into the file
// store; it is not a separate collection.
type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

// Note is a rich-text note. Content holds the serialized editor markup.
type Note struct {
	ID          NoteID       `json:"id"`
	Title       string       `json:"title"`
	Content     string       `json:"content"`
	CategoryIDs []CategoryID `json:"categoryIds"`
	Tags        []string     `json:"tags"`
	IsPinned    bool         `json:"isPinned"`
	UserID      UserID       `json:"userId"`
	Attachments []Attachment `json:"attachments,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`

	// LegacyCategoryID carries the single-category field written by the
	// first schema revision. It is folded into CategoryIDs by UpgradeLegacy
	// and never written back.
	LegacyCategoryID *CategoryID `json:"categoryId,omitempty"`
}

// UpgradeLegacy migrates a note decoded from the earlier schema revision,
// where category membership was a single categoryId, to the current
// categoryIds shape. Store implementations call it after every read so the
// rest of the application only ever sees the current shape.
func (n *Note) UpgradeLegacy() {
	if n.LegacyCategoryID != nil && !n.LegacyCategoryID.IsZero() {
		if len(n.CategoryIDs) == 0 {
			n.CategoryIDs = []CategoryID{*n.LegacyCategoryID}
		}
		n.LegacyCategoryID = nil
	}
	if n.CategoryIDs == nil {
		n.CategoryIDs = []CategoryID{}
	}
	if n.Tags == nil {
		n.Tags = []string{}
	}
}

// InCategory reports whether the note is a member of the given category.
func (n *Note) InCategory(id CategoryID) bool {
	for _, c := range n.CategoryIDs {
		if c == id {
			return true
		}
	}
	return false
}

// Category is a per-user grouping label for notes.
// Count is present in the persisted schema but not maintained; it is kept so
// documents written by earlier revisions round-trip unchanged.
type Category struct {
	ID        CategoryID `json:"id"`
	Name      string     `json:"name"`
	Count     int        `json:"count"`
	UserID    UserID     `json:"userId"`
	CreatedAt time.Time  `json:"createdAt"`
}

// User is the per-user profile document. PasswordHash and MFASecret are
// persisted (the codecs follow the JSON tags) but must never reach HTTP
// clients; handlers respond with Profile instead of the raw document.
type User struct {
	ID            UserID    `json:"id"`
	Email         string    `json:"email"`
	DisplayName   string    `json:"displayName"`
	PasswordHash  string    `json:"passwordHash,omitempty"`
	EmailVerified bool      `json:"emailVerified"`
	MFASecret     string    `json:"mfaSecret,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Profile is the client-visible projection of a User.
type Profile struct {
	ID            UserID    `json:"id"`
	Email         string    `json:"email"`
	DisplayName   string    `json:"displayName"`
	EmailVerified bool      `json:"emailVerified"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Profile returns the projection of the user that is safe to serialize
// toward clients.
func (u *User) Profile() Profile {
	return Profile{
		ID:            u.ID,
		Email:         u.Email,
		DisplayName:   u.DisplayName,
		EmailVerified: u.EmailVerified,
		CreatedAt:     u.CreatedAt,
	}
}
