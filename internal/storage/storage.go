package storage

import (
	"context"
	"io"
	"path"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// UploadTarget pre-authorizes the compute worker to PUT its output directly
// into storage. OutputRef is recorded on the job once the callback confirms
// the upload landed; OutputURL gives the worker a fetchable location to echo.
type UploadTarget struct {
	UploadURL string
	OutputURL string
	OutputRef string
}

// Store abstracts where job media lives and how it is exposed to the compute
// worker: a signed URL served by this process or a presigned object-storage
// URL. Refs are opaque keys; only the store that minted one can open it.
type Store interface {
	SaveUpload(ctx context.Context, jobID, filename string, data []byte, contentType string) (string, error)
	SaveOutput(ctx context.Context, jobID, filename string, data []byte, contentType string) (string, error)
	// AssetURL mints a worker-fetchable URL for ref, valid for ttl.
	AssetURL(ctx context.Context, ref string, ttl time.Duration) (string, error)
	// OutputTarget mints a direct-upload destination when the backend
	// supports one; stores without that capability return (nil, nil) and the
	// worker falls back to inlining output bytes in its callback.
	OutputTarget(ctx context.Context, jobID, filename string, ttl time.Duration) (*UploadTarget, error)
	// Open streams a stored ref along with its content type.
	Open(ctx context.Context, ref string) (io.ReadCloser, string, error)
}

var contentTypes = map[string]string{
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".wav":  "audio/wav",
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
}

// ContentTypeFor maps a media filename to its Content-Type, falling back to
// application/octet-stream.
func ContentTypeFor(name string) string {
	if ct, ok := contentTypes[strings.ToLower(path.Ext(name))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// NormalizeFilename flattens a client-supplied filename into a safe key
// segment: the name is decomposed (NFKD) and stripped of combining marks so
// accented characters survive as their base letters, path separators are
// discarded, whitespace collapses to underscores, and anything else outside
// [A-Za-z0-9._-] is dropped. The extension is lowercased and kept.
func NormalizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	ext := strings.ToLower(path.Ext(name))
	stem := strings.TrimSuffix(name, path.Ext(name))

	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if out, _, err := transform.String(t, stem); err == nil {
		stem = out
	}

	var b strings.Builder
	for _, r := range stem {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune('_')
		}
	}
	stem = strings.Trim(b.String(), "_")
	if stem == "" {
		stem = "file"
	}

	var e strings.Builder
	for _, r := range ext {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '.' {
			e.WriteRune(r)
		}
	}
	return stem + e.String()
}

func uploadKey(jobID, filename string) string {
	return path.Join("uploads", jobID, NormalizeFilename(filename))
}

func outputKey(jobID, filename string) string {
	return path.Join("outputs", jobID, NormalizeFilename(filename))
}
