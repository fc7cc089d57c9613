package models

import (
	"encoding/json"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoteIDJSONRoundTrip(t *testing.T) {
	id := NewNoteID()

	data, err := json.Marshal(id)
	require.NoError(t, err)
	assert.JSONEq(t, `"`+id.String()+`"`, string(data))

	var parsed NoteID
	require.NoError(t, json.Unmarshal(data, &parsed))
	assert.Equal(t, id, parsed)
}

func TestNoteIDCBORRoundTrip(t *testing.T) {
	id := NewNoteID()

	data, err := cbor.Marshal(id)
	require.NoError(t, err)

	var parsed NoteID
	require.NoError(t, cbor.Unmarshal(data, &parsed))
	assert.Equal(t, id, parsed)
}

func TestNoteIDCBORRejectsWrongTable(t *testing.T) {
	id := NewCategoryID()

	data, err := cbor.Marshal(id)
	require.NoError(t, err)

	var parsed NoteID
	assert.Error(t, cbor.Unmarshal(data, &parsed))
}

func TestParseNoteIDRejectsGarbage(t *testing.T) {
	_, err := ParseNoteID("not-a-uuid")
	assert.Error(t, err)
}

func TestUpgradeLegacyFoldsSingleCategory(t *testing.T) {
	legacy := NewCategoryID()
	note := &Note{LegacyCategoryID: &legacy}

	note.UpgradeLegacy()

	assert.Equal(t, []CategoryID{legacy}, note.CategoryIDs)
	assert.Nil(t, note.LegacyCategoryID)
	assert.True(t, note.InCategory(legacy))
}

func TestUpgradeLegacyKeepsExistingList(t *testing.T) {
	legacy := NewCategoryID()
	current := NewCategoryID()
	note := &Note{
		CategoryIDs:      []CategoryID{current},
		LegacyCategoryID: &legacy,
	}

	note.UpgradeLegacy()

	assert.Equal(t, []CategoryID{current}, note.CategoryIDs)
	assert.Nil(t, note.LegacyCategoryID)
}

func TestUpgradeLegacyInitializesSlices(t *testing.T) {
	note := &Note{}
	note.UpgradeLegacy()

	assert.NotNil(t, note.CategoryIDs)
	assert.NotNil(t, note.Tags)
}

func TestProfileOmitsSecrets(t *testing.T) {
	user := &User{
		ID:           NewUserID(),
		Email:        "alice@example.com",
		DisplayName:  "Alice",
		PasswordHash: "bcrypt-hash",
		MFASecret:    "JBSWY3DPEHPK3PXP",
	}

	data, err := json.Marshal(user.Profile())
	require.NoError(t, err)
	assert.NotContains(t, string(data), "bcrypt-hash")
	assert.NotContains(t, string(data), "JBSWY3DPEHPK3PXP")
	assert.Contains(t, string(data), "alice@example.com")
}
