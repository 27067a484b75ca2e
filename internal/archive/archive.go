// Package archive opens and unpacks compressed MRT files.
package archive

import (
	"bufio"
	"compress/bzip2"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Kind is the compression of a file, judged by its extension.
type Kind int

const (
	Plain Kind = iota
	Gzip
	Bzip2
)

// KindOf classifies path by extension.
func KindOf(path string) Kind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz":
		return Gzip
	case ".bz2":
		return Bzip2
	default:
		return Plain
	}
}

// Stem is the base name of path without its compression extension.
func Stem(path string) string {
	base := filepath.Base(path)
	if KindOf(path) == Plain {
		return base
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

type readCloser struct {
	io.Reader
	closers []io.Closer
}

func (r *readCloser) Close() error {
	var first error
	for _, c := range r.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Open returns a reader over the decompressed contents of path.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	br := bufio.NewReaderSize(f, 1<<20)

	switch KindOf(path) {
	case Gzip:
		zr, err := gzip.NewReader(br)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("gzip %s: %w", path, err)
		}
		return &readCloser{Reader: zr, closers: []io.Closer{zr, f}}, nil
	case Bzip2:
		return &readCloser{Reader: bzip2.NewReader(br), closers: []io.Closer{f}}, nil
	default:
		return &readCloser{Reader: br, closers: []io.Closer{f}}, nil
	}
}

// Decompress writes the decompressed contents of src into dir and returns the
// new path. A plain file is not copied; src itself is returned.
func Decompress(src, dir string) (string, error) {
	if KindOf(src) == Plain {
		return src, nil
	}
	in, err := Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	dst := filepath.Join(dir, Stem(src))
	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", dst, err)
	}
	_, err = io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dst)
		return "", fmt.Errorf("decompress %s: %w", src, err)
	}
	return dst, nil
}
