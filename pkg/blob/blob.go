// Package blob stores raw uploaded files on the filesystem and hands
// out HMAC-signed URLs so media can be served without auth headers.
package blob

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/strata-ai/strata/pkg/config"
)

// Store writes blobs under dir/<document_id>/<name>-<hash8>.
type Store struct {
	dir       string
	secret    []byte
	urlExpiry time.Duration
}

func NewStore(cfg *config.BlobConfig) (*Store, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}

	secret := []byte(cfg.SigningSecret)
	if len(secret) == 0 {
		// Ephemeral secret: previously issued URLs die on restart.
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("failed to generate signing secret: %w", err)
		}
	}

	return &Store{
		dir:       cfg.Dir,
		secret:    secret,
		urlExpiry: cfg.URLExpiry,
	}, nil
}

// Put stores content under the document and returns the blob key.
func (s *Store) Put(documentID, filename string, r io.Reader) (string, error) {
	docDir := filepath.Join(s.dir, documentID)
	if err := os.MkdirAll(docDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create document directory: %w", err)
	}

	tmp, err := os.CreateTemp(docDir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmp, h), r); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close blob: %w", err)
	}

	hash8 := hex.EncodeToString(h.Sum(nil))[:8]
	name := sanitizeFilename(filename)
	key := documentID + "/" + name + "-" + hash8

	if err := os.Rename(tmp.Name(), filepath.Join(docDir, name+"-"+hash8)); err != nil {
		return "", fmt.Errorf("failed to finalize blob: %w", err)
	}
	return key, nil
}

// Open returns a reader for a stored blob.
func (s *Store) Open(key string) (io.ReadCloser, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("blob not found: %w", err)
	}
	return f, nil
}

// Path returns the filesystem path of a stored blob.
func (s *Store) Path(key string) (string, error) {
	path, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("blob not found: %w", err)
	}
	return path, nil
}

// Delete removes every blob belonging to a document.
func (s *Store) Delete(documentID string) error {
	if documentID == "" || strings.Contains(documentID, "/") || strings.Contains(documentID, "..") {
		return fmt.Errorf("invalid document id")
	}
	return os.RemoveAll(filepath.Join(s.dir, documentID))
}

// URLExpiry reports how long presigned URLs stay valid.
func (s *Store) URLExpiry() time.Duration {
	return s.urlExpiry
}

// SignURL issues a presigned path for a blob key, valid until expiry.
func (s *Store) SignURL(key string) string {
	expires := time.Now().Add(s.urlExpiry).Unix()
	sig := s.sign(key, expires)
	return fmt.Sprintf("/api/media/%s?expires=%d&signature=%s", key, expires, sig)
}

// VerifyURL checks the signature and expiry on a presigned request.
func (s *Store) VerifyURL(key, expiresParam, signature string) error {
	expires, err := strconv.ParseInt(expiresParam, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid expiry")
	}
	if time.Now().Unix() > expires {
		return fmt.Errorf("url expired")
	}
	expected := s.sign(key, expires)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return fmt.Errorf("invalid signature")
	}
	return nil
}

func (s *Store) sign(key string, expires int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s:%d", key, expires)
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *Store) resolve(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid blob key")
	}
	return filepath.Join(s.dir, clean), nil
}

func sanitizeFilename(name string) string {
	name = filepath.Base(filepath.FromSlash(name))
	if name == "." || name == string(filepath.Separator) || name == "" {
		name = "file"
	}
	return url.PathEscape(name)
}
