package zip

import (
	"archive/zip"
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	entries := []Entry{
		{Name: "reference_video.mp4", Body: strings.NewReader("fake-video")},
		{Name: "source_image.jpg", Body: strings.NewReader("fake-image")},
	}
	if err := Write(&buf, entries); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("NewReader returned error: %v", err)
	}
	if len(zr.File) != 2 {
		t.Fatalf("archive holds %d files, want 2", len(zr.File))
	}
	want := map[string]string{
		"reference_video.mp4": "fake-video",
		"source_image.jpg":    "fake-image",
	}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("Open(%q) returned error: %v", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("ReadAll(%q) returned error: %v", f.Name, err)
		}
		if string(data) != want[f.Name] {
			t.Fatalf("%s = %q, want %q", f.Name, data, want[f.Name])
		}
	}
}

func TestWriteEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, nil); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("NewReader returned error: %v", err)
	}
	if len(zr.File) != 0 {
		t.Fatalf("archive holds %d files, want 0", len(zr.File))
	}
}

func TestWritePropagatesReadErrors(t *testing.T) {
	var buf bytes.Buffer
	err := Write(&buf, []Entry{{Name: "broken.bin", Body: failingReader{}}})
	if err == nil {
		t.Fatal("Write returned nil error for a failing body")
	}
	if !strings.Contains(err.Error(), "broken.bin") {
		t.Fatalf("error = %q, want entry name included", err)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }
