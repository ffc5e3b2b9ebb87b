// Package source turns an image path into a repeatable stream of decoded
// bytes, transparently handling compressed and zip-archived images.
package source

import (
	"compress/bzip2"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"
)

const copyBufferSize = 4 * 1024 * 1024

// SourceError reports an unusable image path or archive layout.
type SourceError struct {
	Path string
	Msg  string
}

func (e *SourceError) Error() string { return e.Msg }

// Image is a logical decoded byte source. OpenStream may be called more than
// once (the verify pass re-reads the same bytes); each call returns an
// independent stream positioned at the start. Cleanup releases any temporary
// extraction artifacts and is safe to call more than once.
type Image struct {
	displayName string
	size        *int64
	open        func() (io.ReadCloser, error)
	cleanup     func()
	cleanupOnce sync.Once
}

// OpenStream returns a fresh stream of the decoded image bytes.
func (img *Image) OpenStream() (io.ReadCloser, error) {
	return img.open()
}

// Size returns the decoded image size in bytes. ok is false when the format
// does not expose the uncompressed size upfront (gzip, xz, lzma, bzip2).
func (img *Image) Size() (size int64, ok bool) {
	if img.size == nil {
		return 0, false
	}
	return *img.size, true
}

// DisplayName is a short label for progress and log output.
func (img *Image) DisplayName() string { return img.displayName }

// Cleanup removes temporary artifacts created by this source. Failures are
// deliberately ignored so cleanup never masks the operation's own error.
func (img *Image) Cleanup() {
	img.cleanupOnce.Do(func() {
		if img.cleanup != nil {
			img.cleanup()
		}
	})
}

// Open inspects the path's last suffix (case-insensitive) and builds the
// matching source. Unrecognized or missing suffixes mean a raw image.
func Open(path string) (*Image, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &SourceError{Path: path, Msg: fmt.Sprintf("image file not found: %s", path)}
	}
	if !info.Mode().IsRegular() {
		return nil, &SourceError{Path: path, Msg: fmt.Sprintf("image path is not a file: %s", path)}
	}

	name := filepath.Base(path)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz", ".gzip":
		return newDecodedImage(path, name, func(r io.Reader) (io.Reader, error) {
			return gzip.NewReader(r)
		}), nil
	case ".xz":
		return newDecodedImage(path, name, func(r io.Reader) (io.Reader, error) {
			return xz.NewReader(r)
		}), nil
	case ".lzma":
		return newDecodedImage(path, name, func(r io.Reader) (io.Reader, error) {
			return lzma.NewReader(r)
		}), nil
	case ".bz2", ".bzip2":
		return newDecodedImage(path, name, func(r io.Reader) (io.Reader, error) {
			return bzip2.NewReader(r), nil
		}), nil
	case ".zip":
		return newZipImage(path, name)
	default:
		size := info.Size()
		return &Image{
			displayName: name,
			size:        &size,
			open: func() (io.ReadCloser, error) {
				return os.Open(path)
			},
		}, nil
	}
}

// decodedStream pairs a decompressor with the file it reads from so closing
// the stream releases both.
type decodedStream struct {
	io.Reader
	file *os.File
}

func (s *decodedStream) Close() error { return s.file.Close() }

// newDecodedImage builds a source whose every OpenStream creates a fresh
// decoder over the compressed file. The decoded size is unknown upfront, and
// decoding is cheap enough that nothing needs caching between opens.
func newDecodedImage(path, name string, decode func(io.Reader) (io.Reader, error)) *Image {
	return &Image{
		displayName: name,
		open: func() (io.ReadCloser, error) {
			f, err := os.Open(path)
			if err != nil {
				return nil, err
			}
			r, err := decode(f)
			if err != nil {
				_ = f.Close()
				return nil, err
			}
			return &decodedStream{Reader: r, file: f}, nil
		},
	}
}

// newZipImage validates that the archive holds exactly one non-directory
// entry and builds a source that extracts it at most once, on the first
// OpenStream, into a private temporary directory reused by later opens.
func newZipImage(path, name string) (*Image, error) {
	archive, err := zip.OpenReader(path)
	if err != nil {
		return nil, &SourceError{Path: path, Msg: fmt.Sprintf("unable to read zip archive %s: %v", path, err)}
	}
	defer archive.Close()

	var entry *zip.File
	for _, f := range archive.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if entry != nil {
			return nil, &SourceError{Path: path, Msg: "zip archives must contain exactly one image file"}
		}
		entry = f
	}
	if entry == nil {
		return nil, &SourceError{Path: path, Msg: "zip archives must contain exactly one image file"}
	}

	size := int64(entry.UncompressedSize64)
	entryName := entry.Name

	var (
		once          sync.Once
		tempDir       string
		extractedPath string
		extractErr    error
	)
	extract := func() (string, error) {
		once.Do(func() {
			tempDir, extractErr = os.MkdirTemp("", "shark-etcher-zip-")
			if extractErr != nil {
				return
			}
			extractedPath = filepath.Join(tempDir, filepath.Base(entryName))
			extractErr = extractZipEntry(path, entryName, extractedPath)
		})
		return extractedPath, extractErr
	}

	return &Image{
		displayName: fmt.Sprintf("%s -> %s", name, entryName),
		size:        &size,
		open: func() (io.ReadCloser, error) {
			extracted, err := extract()
			if err != nil {
				return nil, err
			}
			return os.Open(extracted)
		},
		cleanup: func() {
			if tempDir == "" {
				return
			}
			// Tolerates files already gone; only removes what we created.
			if extractedPath != "" {
				_ = os.Remove(extractedPath)
			}
			_ = os.Remove(tempDir)
		},
	}, nil
}

func extractZipEntry(archivePath, entryName, dest string) error {
	archive, err := zip.OpenReader(archivePath)
	if err != nil {
		return err
	}
	defer archive.Close()

	var src io.ReadCloser
	for _, f := range archive.File {
		if f.Name == entryName {
			if src, err = f.Open(); err != nil {
				return err
			}
			break
		}
	}
	if src == nil {
		return fmt.Errorf("entry %s missing from %s", entryName, archivePath)
	}
	defer src.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.CopyBuffer(out, src, make([]byte, copyBufferSize)); err != nil {
		return err
	}
	return out.Close()
}
