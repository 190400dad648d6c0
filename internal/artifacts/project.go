package artifacts

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"moonlight/internal/models"
)

// ProjectZipName is the download name of a generated project archive.
const ProjectZipName = "noxstudio-project.zip"

var ErrNoFiles = errors.New("there are no files to include in the ZIP archive")

// ZipProject packs generated files into a ZIP archive. A later file with the
// same name replaces an earlier one.
func ZipProject(files []models.GeneratedFile) ([]byte, error) {
	if len(files) == 0 {
		return nil, ErrNoFiles
	}

	order := make([]string, 0, len(files))
	contents := make(map[string]string, len(files))
	for i, f := range files {
		name := entryName(f.FileName)
		if name == "" {
			name = fmt.Sprintf("file-%d.txt", i+1)
		}
		if _, seen := contents[name]; !seen {
			order = append(order, name)
		}
		contents[name] = f.Code
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	modified := time.Now()
	for _, name := range order {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: modified})
		if err != nil {
			return nil, fmt.Errorf("add %s: %w", name, err)
		}
		if _, err := w.Write([]byte(contents[name])); err != nil {
			return nil, fmt.Errorf("write %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finish zip: %w", err)
	}
	return buf.Bytes(), nil
}

// entryName keeps archive paths relative and inside the archive root.
func entryName(name string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")
	if name == "" {
		return ""
	}
	cleaned := path.Clean("/" + name)
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "." {
		return ""
	}
	return cleaned
}
