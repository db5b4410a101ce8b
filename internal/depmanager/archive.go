package depmanager

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/ulikunitz/xz"
)

var errTargetNotFound = errors.New("target not found in archive")

// extract writes the file called target from the archive at src to dest.
// The archive format follows the suffix of name; any other name is taken as
// the binary itself.
func extract(src, name, target, dest string) error {
	switch {
	case strings.HasSuffix(name, ".tar.xz"):
		return extractTar(src, dest, target, func(r io.Reader) (io.Reader, error) {
			return xz.NewReader(r)
		})
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return extractTar(src, dest, target, func(r io.Reader) (io.Reader, error) {
			return gzip.NewReader(r)
		})
	case strings.HasSuffix(name, ".zip"):
		return extractZip(src, dest, target)
	default:
		f, err := os.Open(src)
		if err != nil {
			return fmt.Errorf("open binary: %w", err)
		}
		defer f.Close()

		return writeExecutable(dest, f)
	}
}

func extractTar(src, dest, target string, decompress func(io.Reader) (io.Reader, error)) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	r, err := decompress(f)
	if err != nil {
		return fmt.Errorf("decompress: %w", err)
	}

	tr := tar.NewReader(r)

	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: %s", errTargetNotFound, target)
		}

		if err != nil {
			return fmt.Errorf("read tar header: %w", err)
		}

		if header.Typeflag == tar.TypeReg && path.Base(header.Name) == target {
			return writeExecutable(dest, tr)
		}
	}
}

func extractZip(src, dest, target string) error {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}
	defer zr.Close()

	for _, file := range zr.File {
		if file.FileInfo().IsDir() || path.Base(file.Name) != target {
			continue
		}

		rc, err := file.Open()
		if err != nil {
			return fmt.Errorf("open zip entry: %w", err)
		}
		defer rc.Close()

		return writeExecutable(dest, rc)
	}

	return fmt.Errorf("%w: %s", errTargetNotFound, target)
}

func writeExecutable(dest string, r io.Reader) error {
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePermExecutable)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}

	if _, err := io.Copy(out, r); err != nil {
		out.Close()

		return fmt.Errorf("write %s: %w", dest, err)
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dest, err)
	}

	// OpenFile keeps the mode of an existing file
	if err := os.Chmod(dest, filePermExecutable); err != nil {
		return fmt.Errorf("chmod %s: %w", dest, err)
	}

	return nil
}
