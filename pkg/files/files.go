// Package files stores note attachments on local disk.
//
// Files live under <root>/<userID>/<noteID>/<name>, so ownership is encoded
// in the path: serving a file requires the requesting user's id to match the
// first path segment, and a mismatch behaves as not-found.
package files

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/knotes-app/knotes/pkg/models"
)

// Store writes and serves attachments under a root directory. URLs handed to
// clients are rooted at urlPrefix (e.g. "/files").
type Store struct {
	root      string
	urlPrefix string
}

// New creates the store, making the root directory if needed.
func New(root, urlPrefix string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create attachment root: %w", err)
	}
	return &Store{root: root, urlPrefix: strings.TrimSuffix(urlPrefix, "/")}, nil
}

// sanitizeName strips any path components from a client-provided filename.
func sanitizeName(name string) string {
	name = filepath.Base(filepath.Clean(name))
	if name == "." || name == string(filepath.Separator) || name == "" {
		return "attachment"
	}
	return name
}

// Save streams src to the note's directory and returns the captured
// metadata: name, public URL, MIME type and size in bytes.
func (s *Store) Save(userID models.UserID, noteID models.NoteID, filename, mimeType string, src io.Reader) (models.Attachment, error) {
	name := sanitizeName(filename)
	dir := filepath.Join(s.root, userID.String(), noteID.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return models.Attachment{}, fmt.Errorf("failed to create attachment dir: %w", err)
	}

	dst, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return models.Attachment{}, fmt.Errorf("failed to create attachment file: %w", err)
	}
	defer dst.Close()

	size, err := io.Copy(dst, src)
	if err != nil {
		return models.Attachment{}, fmt.Errorf("failed to write attachment: %w", err)
	}

	return models.Attachment{
		Name: name,
		URL:  path.Join(s.urlPrefix, userID.String(), noteID.String(), name),
		Type: mimeType,
		Size: size,
	}, nil
}

// Open returns the attachment for reading. The caller passes the id of the
// authenticated user; a file owned by someone else is reported as missing.
func (s *Store) Open(userID models.UserID, noteID models.NoteID, name string) (io.ReadCloser, error) {
	p := filepath.Join(s.root, userID.String(), noteID.String(), sanitizeName(name))
	f, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, os.ErrNotExist
		}
		return nil, fmt.Errorf("failed to open attachment: %w", err)
	}
	return f, nil
}
