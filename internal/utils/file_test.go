package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestContentTypeFor(t *testing.T) {
	tests := map[string]string{
		"leaf.JPG":     "image/jpeg",
		"a/b/c.jpeg":   "image/jpeg",
		"scan.png":     "image/png",
		"photo.webp":   "image/webp",
		"notes.txt":    "",
		"no-extension": "",
	}
	for in, want := range tests {
		if got := ContentTypeFor(in); got != want {
			t.Errorf("ContentTypeFor(%q): expected %q, got %q", in, want, got)
		}
	}
}

func TestExtensionFor(t *testing.T) {
	if got := ExtensionFor("image/jpeg"); got != "jpg" {
		t.Errorf("Expected jpg, got %s", got)
	}
	if got := ExtensionFor("image/webp"); got != "webp" {
		t.Errorf("Expected webp, got %s", got)
	}
	if got := ExtensionFor("text/plain"); got != "" {
		t.Errorf("Expected empty extension, got %s", got)
	}
}

func TestIsImageFile(t *testing.T) {
	if !IsImageFile("leaf.png") {
		t.Error("Expected leaf.png to be an image")
	}
	if IsImageFile("leaf.pdf") {
		t.Error("Expected leaf.pdf not to be an image")
	}
}

func TestFileExistsAndEnsureDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "dir")
	if err := EnsureDir(dir); err != nil {
		t.Fatalf("EnsureDir failed: %v", err)
	}
	if FileExists(dir) {
		t.Error("Expected directory not to count as a file")
	}
	path := filepath.Join(dir, "f.txt")
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if !FileExists(path) {
		t.Error("Expected file to exist")
	}
}

func TestFormatFileSize(t *testing.T) {
	tests := map[int64]string{
		512:         "512 B",
		2048:        "2.0 KB",
		5 * 1 << 20: "5.0 MB",
	}
	for in, want := range tests {
		if got := FormatFileSize(in); got != want {
			t.Errorf("FormatFileSize(%d): expected %q, got %q", in, want, got)
		}
	}
}
