package docinspect

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestInspectTextFile(t *testing.T) {
	path := writeFile(t, "requirements.md", "# Checkout\n\nThe cart must support up to 100 items.\n")

	info, err := Inspect(path)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if info.Kind != "text" {
		t.Errorf("kind = %q", info.Kind)
	}
	if info.Name != "requirements.md" {
		t.Errorf("name = %q", info.Name)
	}
	if info.Pages != 0 {
		t.Errorf("pages = %d for text file", info.Pages)
	}
	if !strings.Contains(info.Preview, "cart must support") {
		t.Errorf("preview = %q", info.Preview)
	}
	// Whitespace is collapsed in previews.
	if strings.Contains(info.Preview, "\n") {
		t.Errorf("preview keeps newlines: %q", info.Preview)
	}
}

func TestInspectLongPreviewClipped(t *testing.T) {
	path := writeFile(t, "long.txt", strings.Repeat("requirement ", 200))

	info, err := Inspect(path)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if !strings.HasSuffix(info.Preview, "...") {
		t.Errorf("long preview not clipped: %q", info.Preview[:40])
	}
	if got := len([]rune(info.Preview)); got > previewRunes+3 {
		t.Errorf("preview length = %d runes", got)
	}
}

func TestInspectEmptyFile(t *testing.T) {
	path := writeFile(t, "empty.txt", "")
	if _, err := Inspect(path); err == nil {
		t.Error("empty file should be rejected")
	}
}

func TestInspectMissingFile(t *testing.T) {
	if _, err := Inspect(filepath.Join(t.TempDir(), "ghost.pdf")); err == nil {
		t.Error("missing file should error")
	}
}

func TestInspectDirectory(t *testing.T) {
	if _, err := Inspect(t.TempDir()); err == nil {
		t.Error("directory should be rejected")
	}
}

func TestInspectBinaryFileNoPreview(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blob.bin")
	if err := os.WriteFile(path, []byte{0xff, 0xfe, 0x00, 0x81, 0x92}, 0o644); err != nil {
		t.Fatalf("writing blob: %v", err)
	}

	info, err := Inspect(path)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if info.Preview != "" {
		t.Errorf("binary preview = %q, want empty", info.Preview)
	}
}
