package jwks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	jwtkit "github.com/PaulFidika/authgate/jwt"
)

// DefaultKeysPath is where a mounted secret usually places jwks.json.
const DefaultKeysPath = "/vault/auth"

// FileSource reads a JWKS document from disk instead of the network, for
// deployments that pin keys from a mounted secret. The file is re-read on
// every Fetch so a rotated mount takes effect without a restart.
type FileSource struct {
	path string
}

// NewFileSource reads path; a directory means {path}/jwks.json.
func NewFileSource(path string) *FileSource {
	if path == "" {
		path = DefaultKeysPath
	}
	if st, err := os.Stat(path); err == nil && st.IsDir() {
		path = filepath.Join(path, "jwks.json")
	}
	return &FileSource{path: path}
}

// Path returns the file read by Fetch.
func (s *FileSource) Path() string { return s.path }

// Fetch ignores domain; the file is the key set.
func (s *FileSource) Fetch(_ context.Context, _ string) ([]byte, error) {
	doc, err := os.ReadFile(s.path)
	if err != nil {
		return nil, unavailable(fmt.Errorf("read %s: %w", s.path, err))
	}
	if len(doc) > maxDocumentSize {
		return nil, unavailable(fmt.Errorf("jwks document exceeds %d bytes", maxDocumentSize))
	}
	return doc, nil
}

// Resolve reads and parses the file.
func (s *FileSource) Resolve(ctx context.Context, domain string) (*jwtkit.KeySet, error) {
	doc, err := s.Fetch(ctx, domain)
	if err != nil {
		return nil, err
	}
	return parse(doc)
}
