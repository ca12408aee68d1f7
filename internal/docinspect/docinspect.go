// Package docinspect examines documents before upload: basic metadata, a
// page count and a short text preview, so the CLI can show what is about to
// be analyzed and reject obviously empty files.
package docinspect

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

const previewRunes = 280

// Info summarizes a local document.
type Info struct {
	Path    string
	Name    string
	Size    int64
	Kind    string // "pdf" or "text"
	Pages   int    // 0 for non-PDF documents
	Preview string
}

// Inspect reads the file's metadata and a content preview. PDF files get a
// page count and text extracted from the first pages; anything else is
// treated as plain text.
func Inspect(path string) (Info, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return Info{}, fmt.Errorf("inspecting %s: %w", path, err)
	}
	if stat.IsDir() {
		return Info{}, fmt.Errorf("%s is a directory", path)
	}
	if stat.Size() == 0 {
		return Info{}, fmt.Errorf("%s is empty", path)
	}

	info := Info{
		Path: path,
		Name: filepath.Base(path),
		Size: stat.Size(),
	}

	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		if err := inspectPDF(&info); err != nil {
			return Info{}, err
		}
		return info, nil
	}

	info.Kind = "text"
	info.Preview, err = textPreview(path)
	if err != nil {
		return Info{}, err
	}
	return info, nil
}

func inspectPDF(info *Info) error {
	f, r, err := pdf.Open(info.Path)
	if err != nil {
		return fmt.Errorf("opening pdf %s: %w", info.Path, err)
	}
	defer f.Close()

	info.Kind = "pdf"
	info.Pages = r.NumPage()

	var b strings.Builder
	for page := 1; page <= info.Pages && b.Len() < previewRunes*4; page++ {
		p := r.Page(page)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			// Scanned or malformed pages still count; preview stays short.
			continue
		}
		b.WriteString(text)
	}
	info.Preview = clip(b.String())
	return nil
}

func textPreview(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	buf := make([]byte, previewRunes*4)
	n, _ := f.Read(buf)
	if !utf8.Valid(buf[:n]) {
		return "", nil
	}
	return clip(string(buf[:n])), nil
}

func clip(s string) string {
	s = strings.TrimSpace(strings.Join(strings.Fields(s), " "))
	runes := []rune(s)
	if len(runes) <= previewRunes {
		return s
	}
	return string(runes[:previewRunes]) + "..."
}
