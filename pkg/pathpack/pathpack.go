// Package pathpack builds the archive byte stream for directory candidates.
// Archives are deterministic: entries appear in lexical walk order, so two
// packs of an unchanged tree produce the same member sequence.
package pathpack

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"

	"github.com/tkrennwa/glacier-backup/pkg/plog"
)

// PackError is the per-candidate failure of an archive build. The executor
// treats it as recoverable and moves on to the next planned item.
type PackError struct {
	Path string
	Err  error
}

func (e *PackError) Error() string {
	return fmt.Sprintf("failed to pack %s: %v", e.Path, e.Err)
}

func (e *PackError) Unwrap() error {
	return e.Err
}

// Packer writes directory candidates into temp archive files.
type Packer struct {
	format  Format
	tempDir string
}

// NewPacker creates a Packer writing archives of the given format into
// tempDir. An empty tempDir falls back to the system temp directory.
func NewPacker(format Format, tempDir string) *Packer {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Packer{format: format, tempDir: tempDir}
}

// ArchiveName returns the archive member name a directory uploads as:
// the base name with spaces replaced by underscores plus the format
// extension.
func (p *Packer) ArchiveName(dirPath string) string {
	base := strings.ReplaceAll(filepath.Base(dirPath), " ", "_")
	return base + p.format.Extension()
}

// Pack archives the directory at dirPath into a temp file and returns the
// file's path. The caller owns the file and removes it after upload.
func (p *Packer) Pack(ctx context.Context, dirPath string) (string, error) {
	f, err := os.CreateTemp(p.tempDir, strings.ReplaceAll(filepath.Base(dirPath), " ", "_")+".*"+p.format.Extension())
	if err != nil {
		return "", &PackError{Path: dirPath, Err: err}
	}
	tempName := f.Name()

	if err := p.writeArchive(ctx, dirPath, f); err != nil {
		f.Close()
		os.Remove(tempName)
		return "", &PackError{Path: dirPath, Err: err}
	}

	if err := f.Close(); err != nil {
		os.Remove(tempName)
		return "", &PackError{Path: dirPath, Err: fmt.Errorf("failed to close archive: %w", err)}
	}

	plog.Debug("Packed directory", "dir", dirPath, "archive", tempName, "format", p.format)
	return tempName, nil
}

// writeArchive layers the configured compression writer over the target file
// and streams a tar of dirPath through it.
func (p *Packer) writeArchive(ctx context.Context, dirPath string, target io.Writer) (retErr error) {
	var w io.Writer = target

	switch p.format {
	case TarGz:
		gzWriter := pgzip.NewWriter(target)
		defer func() {
			if err := gzWriter.Close(); err != nil && retErr == nil {
				retErr = fmt.Errorf("gzip writer close failed: %w", err)
			}
		}()
		w = gzWriter
	case TarZst:
		zstWriter, err := zstd.NewWriter(target)
		if err != nil {
			return fmt.Errorf("failed to create zstd writer: %w", err)
		}
		defer func() {
			if err := zstWriter.Close(); err != nil && retErr == nil {
				retErr = fmt.Errorf("zstd writer close failed: %w", err)
			}
		}()
		w = zstWriter
	}

	tarWriter := tar.NewWriter(w)
	defer func() {
		if err := tarWriter.Close(); err != nil && retErr == nil {
			retErr = fmt.Errorf("tar writer close failed: %w", err)
		}
	}()

	baseName := strings.ReplaceAll(filepath.Base(dirPath), " ", "_")

	// WalkDir visits entries in lexical order, which is what makes the
	// archive deterministic.
	return filepath.WalkDir(dirPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// Only plain files and directories are archived.
		if !d.IsDir() && !d.Type().IsRegular() {
			plog.Debug("Skipping irregular entry in archive", "path", path)
			return nil
		}

		rel, err := filepath.Rel(dirPath, path)
		if err != nil {
			return err
		}
		name := baseName
		if rel != "." {
			name = filepath.ToSlash(filepath.Join(baseName, rel))
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return fmt.Errorf("failed to create tar header for %s: %w", rel, err)
		}
		header.Name = name
		if d.IsDir() {
			header.Name += "/"
		}

		if err := tarWriter.WriteHeader(header); err != nil {
			return fmt.Errorf("failed to write tar header for %s: %w", rel, err)
		}
		if d.IsDir() {
			return nil
		}

		file, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer file.Close()

		if _, err := io.Copy(tarWriter, file); err != nil {
			return fmt.Errorf("failed to archive %s: %w", path, err)
		}
		return nil
	})
}
