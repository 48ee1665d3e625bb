package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// ContentDigest returns the hex SHA-256 of an upload body.
func ContentDigest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ConfigHash derives the dedup key for a job request: a SHA-256 over the
// normalized parameters and the content digests of the uploads in fixed role
// order, so byte-identical requests collide regardless of filenames.
func ConfigHash(p JobParams, digests map[AssetRole]string) string {
	h := sha256.New()
	for _, part := range []string{
		string(p.Mode),
		string(p.Quality),
		strconv.FormatBool(p.Enable4K),
		p.AspectRatio,
		digests[RoleReferenceVideo],
		digests[RoleSourceImage],
		digests[RoleDrivingAudio],
	} {
		h.Write([]byte(part))
		h.Write([]byte("|"))
	}
	return hex.EncodeToString(h.Sum(nil))
}
