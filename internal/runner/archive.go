package runner

import (
	"archive/zip"
	"bytes"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// archiveTime is stamped on every entry so equal inputs give equal archives
var archiveTime = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

type archiveFile struct {
	name       string
	data       []byte
	compressed bool
}

// writeArchive packages files into a ZIP in the given order
func writeArchive(files []archiveFile) ([]byte, error) {
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)

	for _, f := range files {
		method := zip.Store
		if f.compressed {
			method = zip.Deflate
		}
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     f.name,
			Method:   method,
			Modified: archiveTime,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to add %s to archive: %w", f.name, err)
		}
		if _, err := w.Write(f.data); err != nil {
			return nil, fmt.Errorf("failed to write %s to archive: %w", f.name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}
	return buf.Bytes(), nil
}

// namer assigns unique archive names
type namer struct {
	used map[string]bool
}

func newNamer() *namer {
	return &namer{used: make(map[string]bool)}
}

// name returns the archive name for the item at 1-based index. The upload's
// base name is kept unless its extension disagrees with the output format;
// unnamed uploads get image_0001 style names.
func (n *namer) name(index int, uploaded, ext string) string {
	base := sanitize(uploaded)
	if base == "" {
		base = fmt.Sprintf("image_%04d%s", index, ext)
	} else if !matchesFormat(filepath.Ext(base), ext) {
		base = strings.TrimSuffix(base, filepath.Ext(base)) + ext
	}

	candidate := base
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	for i := 2; n.used[candidate]; i++ {
		candidate = fmt.Sprintf("%s_%d%s", stem, i, filepath.Ext(base))
	}
	n.used[candidate] = true
	return candidate
}

func sanitize(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	base := path.Base(name)
	switch base {
	case ".", "/", "..":
		return ""
	}
	return base
}

func matchesFormat(ext, want string) bool {
	ext = strings.ToLower(ext)
	switch want {
	case ".jpg":
		return ext == ".jpg" || ext == ".jpeg"
	default:
		return ext == want
	}
}
