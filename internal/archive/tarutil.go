// SPDX-License-Identifier: MPL-2.0

package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// bundleWriter wraps a tar stream and its compression layer so Close tears
// both down in order.
type bundleWriter struct {
	tw     *tar.Writer
	closer []io.Closer
}

// newBundleWriter opens a compressed tar stream on w. The compression layer
// follows the format: zstd for image bundles, gzip otherwise.
func newBundleWriter(w io.Writer, format Format) (*bundleWriter, error) {
	if format == FormatImage {
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("failed to open zstd stream: %w", err)
		}
		tw := tar.NewWriter(zw)
		return &bundleWriter{tw: tw, closer: []io.Closer{tw, zw}}, nil
	}
	gw := gzip.NewWriter(w)
	tw := tar.NewWriter(gw)
	return &bundleWriter{tw: tw, closer: []io.Closer{tw, gw}}, nil
}

// WriteBytes adds a regular file entry from memory.
func (b *bundleWriter) WriteBytes(name string, data []byte, modTime time.Time) error {
	hdr := &tar.Header{
		Name:    name,
		Mode:    0o644,
		Size:    int64(len(data)),
		ModTime: modTime,
	}
	if err := b.tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("failed to write tar header for %s: %w", name, err)
	}
	if _, err := b.tw.Write(data); err != nil {
		return fmt.Errorf("failed to write tar entry %s: %w", name, err)
	}
	return nil
}

// WriteFile adds a regular file entry streamed from disk, for payloads too
// large to buffer.
func (b *bundleWriter) WriteFile(name, path string, modTime time.Time) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	hdr := &tar.Header{
		Name:    name,
		Mode:    0o644,
		Size:    info.Size(),
		ModTime: modTime,
	}
	if err := b.tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("failed to write tar header for %s: %w", name, err)
	}
	if _, err := io.Copy(b.tw, f); err != nil {
		return fmt.Errorf("failed to write tar entry %s: %w", name, err)
	}
	return nil
}

// Close finishes the tar stream and the compression layer.
func (b *bundleWriter) Close() error {
	for _, c := range b.closer {
		if err := c.Close(); err != nil {
			return err
		}
	}
	return nil
}

// bundleReader wraps a tar stream and its decompression layer.
type bundleReader struct {
	tr     *tar.Reader
	closer []io.Closer
}

// openBundle opens a bundle for reading, picking the decompression layer
// from the file name.
func openBundle(path string) (*bundleReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	if strings.HasSuffix(path, ".tar.zst") {
		zr, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, &InvalidArchiveError{Path: path, Reason: "not a zstd stream"}
		}
		return &bundleReader{tr: tar.NewReader(zr), closer: []io.Closer{zr.IOReadCloser(), f}}, nil
	}

	gr, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, &InvalidArchiveError{Path: path, Reason: "not a gzip stream"}
	}
	return &bundleReader{tr: tar.NewReader(gr), closer: []io.Closer{gr, f}}, nil
}

// Next advances to the next entry.
func (b *bundleReader) Next() (*tar.Header, error) { return b.tr.Next() }

// ReadEntry reads the current entry, bounded by limit.
func (b *bundleReader) ReadEntry(limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(b.tr, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read archive entry: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: entry exceeds %d bytes", ErrInvalidArchive, limit)
	}
	return data, nil
}

// ExtractTo writes the current entry under destDir, rejecting entry names
// that would escape it.
func (b *bundleReader) ExtractTo(destDir string, hdr *tar.Header) error {
	name := filepath.FromSlash(hdr.Name)
	if filepath.IsAbs(name) || strings.Contains(hdr.Name, "..") {
		return fmt.Errorf("%w: entry %q escapes the extraction directory", ErrInvalidArchive, hdr.Name)
	}
	dest := filepath.Join(destDir, name)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create extraction directory: %w", err)
	}

	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, b.tr); err != nil {
		return fmt.Errorf("failed to extract %s: %w", hdr.Name, err)
	}
	return nil
}

// Close tears down the decompression layer and the underlying file.
func (b *bundleReader) Close() error {
	var firstErr error
	for _, c := range b.closer {
		if err := c.Close(); err != nil && firstErr == nil && !errors.Is(err, os.ErrClosed) {
			firstErr = err
		}
	}
	return firstErr
}
