package sandbox

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/isdmx/runbox/execution"
	"github.com/isdmx/runbox/plan"
)

type archiveFile struct {
	name    string
	content string
}

// BuildWorkspaceArchive lays the unit out according to the plan and returns
// it as a tar.gz archive ready for Instance.Upload.
func BuildWorkspaceArchive(layout plan.Layout, unit execution.SourceUnit) ([]byte, error) {
	files := []archiveFile{{name: layout.Source, content: unit.Code}}
	if layout.Descriptor != "" {
		files = append(files, archiveFile{name: layout.Descriptor, content: unit.BuildDescriptor})
	}

	var buf bytes.Buffer
	gzipWriter := gzip.NewWriter(&buf)
	tarWriter := tar.NewWriter(gzipWriter)
	modTime := time.Now()
	dirs := make(map[string]bool)

	for _, f := range files {
		name := path.Clean(f.name)
		if name == "." || path.IsAbs(name) || strings.HasPrefix(name, "../") {
			return nil, fmt.Errorf("invalid workspace path: %s", f.name)
		}

		for _, dir := range parentDirs(name) {
			if dirs[dir] {
				continue
			}
			dirs[dir] = true
			if err := tarWriter.WriteHeader(&tar.Header{
				Typeflag: tar.TypeDir,
				Name:     dir + "/",
				Mode:     DirPermission,
				ModTime:  modTime,
			}); err != nil {
				return nil, fmt.Errorf("failed to write directory header: %w", err)
			}
		}

		if err := tarWriter.WriteHeader(&tar.Header{
			Typeflag: tar.TypeReg,
			Name:     name,
			Mode:     FilePermission,
			Size:     int64(len(f.content)),
			ModTime:  modTime,
		}); err != nil {
			return nil, fmt.Errorf("failed to write file header: %w", err)
		}
		if _, err := io.WriteString(tarWriter, f.content); err != nil {
			return nil, fmt.Errorf("failed to write file content: %w", err)
		}
	}

	if err := tarWriter.Close(); err != nil {
		return nil, err
	}
	if err := gzipWriter.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// parentDirs returns the ancestors of a slash-separated path, outermost first.
func parentDirs(name string) []string {
	var dirs []string
	for dir := path.Dir(name); dir != "."; dir = path.Dir(dir) {
		dirs = append([]string{dir}, dirs...)
	}
	return dirs
}

// ExtractTarToDir extracts tar.gz data to the destination directory safely
func ExtractTarToDir(fs FileSystem, tarData []byte, destDir string) error {
	gzipReader, err := gzip.NewReader(bytes.NewReader(tarData))
	if err != nil {
		return fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gzipReader.Close()

	tarReader := tar.NewReader(gzipReader)

	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("error reading tar: %w", err)
		}

		// Clean the path to resolve any relative paths like ../
		cleanName := filepath.Clean(header.Name)
		if strings.Contains(cleanName, "..") {
			return fmt.Errorf("unsafe relative path in tar: %s", header.Name)
		}

		filePath := filepath.Join(destDir, cleanName)
		if !strings.HasPrefix(filePath, destDir) {
			return fmt.Errorf("invalid file path in tar: %s", header.Name)
		}

		if filepath.IsAbs(header.Name) {
			return fmt.Errorf("absolute path not allowed in tar: %s", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := fs.MkdirAll(filePath, DirPermission); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}
		case tar.TypeReg:
			if err := fs.MkdirAll(filepath.Dir(filePath), DirPermission); err != nil {
				return fmt.Errorf("failed to create parent directories: %w", err)
			}

			fileContent := make([]byte, header.Size)
			if _, err := io.ReadFull(tarReader, fileContent); err != nil {
				return fmt.Errorf("failed to read file content: %w", err)
			}

			if err := fs.WriteFile(filePath, fileContent, FilePermission); err != nil {
				return fmt.Errorf("failed to write file: %w", err)
			}
		default:
			return fmt.Errorf("unsupported file type in tar: %c", header.Typeflag)
		}
	}

	return nil
}
