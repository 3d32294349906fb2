package executor

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"chronos/internal/models"
)

type fsPayload struct {
	Operation    string   `json:"operation"`
	Path         string   `json:"path"`
	TargetPath   string   `json:"target_path,omitempty"`
	FilePatterns []string `json:"file_patterns,omitempty"`
	Recursive    bool     `json:"recursive,omitempty"`
}

// FileSystemExecutor runs a file operation over every regular file under the
// payload path whose name matches one of the glob patterns: move, copy,
// delete, or compress into a single zip archive at target_path.
type FileSystemExecutor struct{}

func NewFileSystemExecutor() *FileSystemExecutor {
	return &FileSystemExecutor{}
}

func (e *FileSystemExecutor) Execute(ctx context.Context, job *models.Job, run *models.JobRun) error {
	var p fsPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return Fail(TagValidationError, "invalid filesystem payload: %v", err)
	}
	if p.Path == "" {
		return Fail(TagValidationError, "filesystem payload requires path")
	}

	files, err := matchFiles(p)
	if err != nil {
		if os.IsNotExist(err) {
			return Fail(TagValidationError, "path %s does not exist", p.Path)
		}
		if errors.Is(err, filepath.ErrBadPattern) {
			return Fail(TagValidationError, "invalid file pattern: %v", err)
		}
		return Fail(TagServerError, "scan %s: %v", p.Path, err)
	}

	switch strings.ToLower(p.Operation) {
	case "move":
		return e.transfer(p, files, os.Rename)
	case "copy":
		return e.transfer(p, files, copyFile)
	case "delete":
		for _, file := range files {
			if err := os.Remove(file); err != nil {
				return Fail(TagServerError, "delete %s: %v", file, err)
			}
		}
		return nil
	case "compress":
		return e.compress(p, files)
	default:
		return Fail(TagValidationError, "unsupported filesystem operation %q", p.Operation)
	}
}

func (e *FileSystemExecutor) transfer(p fsPayload, files []string, op func(src, dst string) error) error {
	if p.TargetPath == "" {
		return Fail(TagValidationError, "operation %q requires target_path", p.Operation)
	}
	if err := os.MkdirAll(p.TargetPath, 0o755); err != nil {
		return Fail(TagServerError, "create %s: %v", p.TargetPath, err)
	}
	for _, file := range files {
		target := filepath.Join(p.TargetPath, filepath.Base(file))
		if err := op(file, target); err != nil {
			return Fail(TagServerError, "%s %s: %v", p.Operation, file, err)
		}
	}
	return nil
}

func (e *FileSystemExecutor) compress(p fsPayload, files []string) error {
	if p.TargetPath == "" {
		return Fail(TagValidationError, "operation \"compress\" requires target_path")
	}
	if dir := filepath.Dir(p.TargetPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Fail(TagServerError, "create %s: %v", dir, err)
		}
	}
	out, err := os.Create(p.TargetPath)
	if err != nil {
		return Fail(TagServerError, "create archive %s: %v", p.TargetPath, err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	for _, file := range files {
		src, err := os.Open(file)
		if err != nil {
			return Fail(TagServerError, "open %s: %v", file, err)
		}
		entry, err := zw.Create(filepath.Base(file))
		if err == nil {
			_, err = io.Copy(entry, src)
		}
		src.Close()
		if err != nil {
			return Fail(TagServerError, "archive %s: %v", file, err)
		}
	}
	if err := zw.Close(); err != nil {
		return Fail(TagServerError, "finalize archive %s: %v", p.TargetPath, err)
	}
	return nil
}

// matchFiles collects regular files under the payload path whose base name
// matches any pattern (all files when none given). Non-recursive scans stop
// at the top level.
func matchFiles(p fsPayload) ([]string, error) {
	patterns := p.FilePatterns
	if len(patterns) == 0 {
		patterns = []string{"*"}
	}

	var files []string
	err := filepath.WalkDir(p.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if !p.Recursive && path != p.Path {
				return fs.SkipDir
			}
			return nil
		}
		for _, pattern := range patterns {
			ok, matchErr := filepath.Match(pattern, d.Name())
			if matchErr != nil {
				return matchErr
			}
			if ok {
				files = append(files, path)
				break
			}
		}
		return nil
	})
	return files, err
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
