package fsutil

import (
	"compress/gzip"
	"fmt"
	"io"

	"go.uber.org/multierr"
)

// WriteGzip creates name and streams write's output through a gzip writer.
func WriteGzip(fsys FileSystem, name string, write func(io.Writer) error) (err error) {
	f, err := fsys.Create(name)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	defer func() { err = multierr.Append(err, f.Close()) }()

	zw := gzip.NewWriter(f)
	if err := write(zw); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

// ReadGzip opens name and hands the decompressed stream to read.
func ReadGzip(fsys FileSystem, name string, read func(io.Reader) error) (err error) {
	f, err := fsys.Open(name)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer func() { err = multierr.Append(err, f.Close()) }()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	defer func() { err = multierr.Append(err, zr.Close()) }()
	return read(zr)
}
