package domain

import "testing"

func TestConfigHashDeterministic(t *testing.T) {
	params := JobParams{Mode: ModeVideoSwap, Quality: QualityBalanced, AspectRatio: "9:16"}
	digests := map[AssetRole]string{
		RoleReferenceVideo: ContentDigest([]byte("video-bytes")),
		RoleSourceImage:    ContentDigest([]byte("image-bytes")),
	}

	a := ConfigHash(params, digests)
	b := ConfigHash(params, digests)
	if a != b {
		t.Fatalf("ConfigHash not deterministic: %q vs %q", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("ConfigHash length = %d, want 64 hex chars", len(a))
	}
}

func TestConfigHashSensitivity(t *testing.T) {
	base := JobParams{Mode: ModeVideoSwap, Quality: QualityBalanced, AspectRatio: "9:16"}
	digests := map[AssetRole]string{
		RoleReferenceVideo: ContentDigest([]byte("video-bytes")),
		RoleSourceImage:    ContentDigest([]byte("image-bytes")),
	}
	ref := ConfigHash(base, digests)

	quality := base
	quality.Quality = QualityMax
	if ConfigHash(quality, digests) == ref {
		t.Fatalf("quality change did not alter hash")
	}

	fourK := base
	fourK.Enable4K = true
	if ConfigHash(fourK, digests) == ref {
		t.Fatalf("enable_4k change did not alter hash")
	}

	swapped := map[AssetRole]string{
		RoleReferenceVideo: digests[RoleSourceImage],
		RoleSourceImage:    digests[RoleReferenceVideo],
	}
	if ConfigHash(base, swapped) == ref {
		t.Fatalf("swapping upload digests did not alter hash")
	}

	withAudio := map[AssetRole]string{
		RoleReferenceVideo: digests[RoleReferenceVideo],
		RoleSourceImage:    digests[RoleSourceImage],
		RoleDrivingAudio:   ContentDigest([]byte("audio-bytes")),
	}
	if ConfigHash(base, withAudio) == ref {
		t.Fatalf("adding audio digest did not alter hash")
	}
}

func TestValidateExtension(t *testing.T) {
	cases := []struct {
		name     string
		filename string
		kind     AssetKind
		wantErr  bool
	}{
		{"mp4 video", "clip.mp4", AssetKindVideo, false},
		{"uppercase video", "CLIP.MOV", AssetKindVideo, false},
		{"webm video", "clip.webm", AssetKindVideo, false},
		{"gif as video", "clip.gif", AssetKindVideo, true},
		{"jpeg image", "face.jpeg", AssetKindImage, false},
		{"webp image", "face.webp", AssetKindImage, false},
		{"video as image", "face.mp4", AssetKindImage, true},
		{"wav audio", "song.wav", AssetKindAudio, false},
		{"aac audio", "song.aac", AssetKindAudio, false},
		{"flac audio", "song.flac", AssetKindAudio, true},
		{"no extension", "file", AssetKindImage, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateExtension(tc.filename, tc.kind)
			if tc.wantErr && err == nil {
				t.Fatalf("ValidateExtension(%q, %q) = nil, want error", tc.filename, tc.kind)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("ValidateExtension(%q, %q) = %v, want nil", tc.filename, tc.kind, err)
			}
		})
	}
}

func TestRoleKind(t *testing.T) {
	if RoleReferenceVideo.Kind() != AssetKindVideo {
		t.Fatalf("reference video kind = %q", RoleReferenceVideo.Kind())
	}
	if RoleSourceImage.Kind() != AssetKindImage {
		t.Fatalf("source image kind = %q", RoleSourceImage.Kind())
	}
	if RoleDrivingAudio.Kind() != AssetKindAudio {
		t.Fatalf("driving audio kind = %q", RoleDrivingAudio.Kind())
	}
}
