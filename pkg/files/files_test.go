package files

import (
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knotes-app/knotes/pkg/models"
)

func TestSaveAndOpen(t *testing.T) {
	s, err := New(t.TempDir(), "/files")
	require.NoError(t, err)

	user := models.NewUserID()
	note := models.NewNoteID()

	att, err := s.Save(user, note, "doc.pdf", "application/pdf", strings.NewReader("content"))
	require.NoError(t, err)
	assert.Equal(t, "doc.pdf", att.Name)
	assert.Equal(t, "application/pdf", att.Type)
	assert.Equal(t, int64(7), att.Size)
	assert.Equal(t, "/files/"+user.String()+"/"+note.String()+"/doc.pdf", att.URL)

	f, err := s.Open(user, note, "doc.pdf")
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "content", string(data))
}

func TestSaveSanitizesFilename(t *testing.T) {
	s, err := New(t.TempDir(), "/files")
	require.NoError(t, err)

	att, err := s.Save(models.NewUserID(), models.NewNoteID(), "../../etc/passwd", "text/plain", strings.NewReader("x"))
	require.NoError(t, err)
	assert.Equal(t, "passwd", att.Name)
	assert.NotContains(t, att.URL, "..")
}

func TestOpenMissingFile(t *testing.T) {
	s, err := New(t.TempDir(), "/files")
	require.NoError(t, err)

	_, err = s.Open(models.NewUserID(), models.NewNoteID(), "ghost.txt")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestOpenOtherUsersFile(t *testing.T) {
	s, err := New(t.TempDir(), "/files")
	require.NoError(t, err)

	owner := models.NewUserID()
	note := models.NewNoteID()
	_, err = s.Save(owner, note, "secret.txt", "text/plain", strings.NewReader("hidden"))
	require.NoError(t, err)

	_, err = s.Open(models.NewUserID(), note, "secret.txt")
	assert.ErrorIs(t, err, os.ErrNotExist)
}
