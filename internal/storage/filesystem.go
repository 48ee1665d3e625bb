package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lokeshdeshmukh/face-swap-ai/internal/domain"
	"github.com/lokeshdeshmukh/face-swap-ai/internal/signing"
)

// FileStore persists assets onto the local filesystem and exposes them through
// signed, expiring tokens served by this process. It is intended for
// development and single-node deployments where an object storage service is
// not available.
type FileStore struct {
	basePath      string
	publicBaseURL string
	signer        *signing.TokenSigner
}

// NewFileStore initializes a FileStore rooted at basePath. Asset URLs are
// composed from publicBaseURL, so the compute worker must be able to reach it.
func NewFileStore(basePath, publicBaseURL string, signer *signing.TokenSigner) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if signer == nil {
		return nil, errors.New("storage: token signer is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &FileStore{
		basePath:      basePath,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		signer:        signer,
	}, nil
}

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	if s == nil {
		return ""
	}
	return s.basePath
}

// SaveUpload persists one received input file under uploads/<job>/<name>.
func (s *FileStore) SaveUpload(ctx context.Context, jobID, filename string, data []byte, contentType string) (string, error) {
	return s.write(ctx, uploadKey(jobID, filename), data)
}

// SaveOutput persists a produced artifact under outputs/<job>/<name>.
func (s *FileStore) SaveOutput(ctx context.Context, jobID, filename string, data []byte, contentType string) (string, error) {
	return s.write(ctx, outputKey(jobID, filename), data)
}

// AssetURL mints a signed download URL for ref valid for ttl.
func (s *FileStore) AssetURL(ctx context.Context, ref string, ttl time.Duration) (string, error) {
	if s == nil {
		return "", errors.New("storage: no store configured")
	}
	cleanRef, err := sanitizeKey(ref)
	if err != nil {
		return "", err
	}
	token, err := s.signer.Sign(signing.Claims{
		Path: cleanRef,
		Exp:  time.Now().Add(ttl).Unix(),
	})
	if err != nil {
		return "", err
	}
	return s.publicBaseURL + "/v1/assets/" + token, nil
}

// OutputTarget is unsupported on the filesystem backend; the worker inlines
// its output in the completion callback instead.
func (s *FileStore) OutputTarget(ctx context.Context, jobID, filename string, ttl time.Duration) (*UploadTarget, error) {
	return nil, nil
}

// Open streams a stored ref. Missing files map to ErrNotFound.
func (s *FileStore) Open(ctx context.Context, ref string) (io.ReadCloser, string, error) {
	if s == nil {
		return nil, "", errors.New("storage: no store configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	cleanRef, err := sanitizeKey(ref)
	if err != nil {
		return nil, "", err
	}
	f, err := os.Open(filepath.Join(s.basePath, filepath.FromSlash(cleanRef)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", domain.ErrNotFound
		}
		return nil, "", fmt.Errorf("storage: open file: %w", err)
	}
	return f, ContentTypeFor(cleanRef), nil
}

func (s *FileStore) write(ctx context.Context, key string, data []byte) (string, error) {
	if s == nil {
		return "", errors.New("storage: no store configured")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(cleanKey))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", fmt.Errorf("storage: ensure directory: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return "", fmt.Errorf("storage: write file: %w", err)
	}
	return cleanKey, nil
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.Clean(key)
	cleaned = strings.ReplaceAll(cleaned, "\\", "/")
	if cleaned == "." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}
