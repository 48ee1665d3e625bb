package domain

import (
	"fmt"
	"path/filepath"
	"strings"
)

// AssetRole names the slot an uploaded file occupies in a job.
type AssetRole string

const (
	RoleReferenceVideo AssetRole = "reference_video"
	RoleSourceImage    AssetRole = "source_image"
	RoleDrivingAudio   AssetRole = "driving_audio"
)

// AssetKind groups roles by media type for extension validation.
type AssetKind string

const (
	AssetKindVideo AssetKind = "video"
	AssetKindImage AssetKind = "image"
	AssetKindAudio AssetKind = "audio"
)

var allowedExtensions = map[AssetKind]map[string]struct{}{
	AssetKindVideo: {".mp4": {}, ".mov": {}, ".mkv": {}, ".webm": {}},
	AssetKindImage: {".jpg": {}, ".jpeg": {}, ".png": {}, ".webp": {}},
	AssetKindAudio: {".wav": {}, ".mp3": {}, ".m4a": {}, ".aac": {}},
}

// Kind returns the media kind expected for the role.
func (r AssetRole) Kind() AssetKind {
	switch r {
	case RoleSourceImage:
		return AssetKindImage
	case RoleDrivingAudio:
		return AssetKindAudio
	default:
		return AssetKindVideo
	}
}

// ValidateExtension checks a filename extension against the allow-list for kind.
func ValidateExtension(filename string, kind AssetKind) error {
	ext := strings.ToLower(filepath.Ext(filename))
	if _, ok := allowedExtensions[kind][ext]; !ok {
		return fmt.Errorf("unsupported %s extension: %s", kind, ext)
	}
	return nil
}

// Upload carries one received file prior to persistence.
type Upload struct {
	Role        AssetRole
	Filename    string
	ContentType string
	Data        []byte
}
