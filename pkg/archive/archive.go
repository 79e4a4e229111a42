// Package archive packs metadata directories into gzip-compressed tar
// streams and unpacks them, so one remote command can carry a whole
// generation.
package archive

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// MaxFileSize bounds a single unpacked file
const MaxFileSize = 1 << 30

// Pack returns a tar.gz of the regular files directly under dir, sorted by
// name, and the list of names it contains
func Pack(dir string) ([]byte, []string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	files := make(map[string][]byte)
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read %s: %w", entry.Name(), err)
		}
		files[entry.Name()] = data
	}
	if len(files) == 0 {
		return nil, nil, fmt.Errorf("no files to pack in %s", dir)
	}
	return PackFiles(files)
}

// PackFiles builds a tar.gz from an in-memory name -> content map
func PackFiles(files map[string][]byte) ([]byte, []string, error) {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, name := range names {
		data := files[name]
		hdr := &tar.Header{
			Name:     name,
			Mode:     0644,
			Size:     int64(len(data)),
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, nil, fmt.Errorf("failed to write header for %s: %w", name, err)
		}
		if _, err := tw.Write(data); err != nil {
			return nil, nil, fmt.Errorf("failed to write %s: %w", name, err)
		}
	}
	if err := tw.Close(); err != nil {
		return nil, nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, nil, err
	}
	return buf.Bytes(), names, nil
}

// UnpackFiles reads a tar.gz into memory. Entries escaping the archive root
// are rejected.
func UnpackFiles(data []byte) (map[string][]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer gz.Close()

	files := make(map[string][]byte)
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		name := path.Clean(strings.TrimPrefix(hdr.Name, "./"))
		if name == "." || strings.HasPrefix(name, "../") || path.IsAbs(name) {
			return nil, fmt.Errorf("archive entry %q escapes destination", hdr.Name)
		}
		if hdr.Size > MaxFileSize {
			return nil, fmt.Errorf("archive entry %q too large (%d bytes)", hdr.Name, hdr.Size)
		}
		content, err := io.ReadAll(io.LimitReader(tr, MaxFileSize))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", hdr.Name, err)
		}
		files[name] = content
	}
	return files, nil
}

// Unpack extracts a tar.gz into dir, creating it if needed, and returns the
// names written
func Unpack(data []byte, dir string) ([]string, error) {
	files, err := UnpackFiles(data)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}

	names := make([]string, 0, len(files))
	for name, content := range files {
		dest := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", filepath.Dir(dest), err)
		}
		if err := os.WriteFile(dest, content, 0644); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", dest, err)
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
