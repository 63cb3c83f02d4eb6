package geometry

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
)

// ErrUnsupportedFormat is returned by LoadSurface for file types it cannot
// decode.
var ErrUnsupportedFormat = errors.New("geometry: unsupported surface format")

// LoadSurface reads a surface from path. The declared format is taken from
// the extension; only ASCII OFF is understood.
func LoadSurface(path string) (*Surface, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".off" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open surface: %w", err)
	}
	defer f.Close()

	s, err := ReadOFF(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return s, nil
}

// SaveSurface writes s to path as ASCII OFF.
func SaveSurface(path string, s *Surface) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create surface file: %w", err)
	}
	if err := WriteOFF(f, s); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadOFF decodes an ASCII OFF surface. Polygonal faces with more than
// three vertices are fan-triangulated.
func ReadOFF(r io.Reader) (*Surface, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	next := func() ([]string, error) {
		for sc.Scan() {
			line := sc.Text()
			if i := strings.IndexByte(line, '#'); i >= 0 {
				line = line[:i]
			}
			if fields := strings.Fields(line); len(fields) > 0 {
				return fields, nil
			}
		}
		if err := sc.Err(); err != nil {
			return nil, err
		}
		return nil, io.ErrUnexpectedEOF
	}

	fields, err := next()
	if err != nil {
		return nil, err
	}
	if fields[0] != "OFF" {
		return nil, fmt.Errorf("missing OFF header, got %q", fields[0])
	}
	fields = fields[1:]
	if len(fields) == 0 {
		if fields, err = next(); err != nil {
			return nil, err
		}
	}
	if len(fields) < 2 {
		return nil, fmt.Errorf("malformed OFF counts line")
	}
	nv, err := strconv.Atoi(fields[0])
	if err != nil {
		return nil, fmt.Errorf("vertex count: %w", err)
	}
	nf, err := strconv.Atoi(fields[1])
	if err != nil {
		return nil, fmt.Errorf("face count: %w", err)
	}

	vertices := make([]r3.Vec, nv)
	for i := range vertices {
		fields, err := next()
		if err != nil {
			return nil, fmt.Errorf("vertex %d: %w", i, err)
		}
		if len(fields) < 3 {
			return nil, fmt.Errorf("vertex %d: expected 3 coordinates", i)
		}
		var c [3]float64
		for j := range c {
			if c[j], err = strconv.ParseFloat(fields[j], 64); err != nil {
				return nil, fmt.Errorf("vertex %d: %w", i, err)
			}
		}
		vertices[i] = r3.Vec{X: c[0], Y: c[1], Z: c[2]}
	}

	faces := make([][3]int, 0, nf)
	for i := 0; i < nf; i++ {
		fields, err := next()
		if err != nil {
			return nil, fmt.Errorf("face %d: %w", i, err)
		}
		n, err := strconv.Atoi(fields[0])
		if err != nil || n < 3 || len(fields) < n+1 {
			return nil, fmt.Errorf("face %d: malformed", i)
		}
		idx := make([]int, n)
		for j := range idx {
			if idx[j], err = strconv.Atoi(fields[j+1]); err != nil {
				return nil, fmt.Errorf("face %d: %w", i, err)
			}
		}
		for j := 1; j+1 < n; j++ {
			faces = append(faces, [3]int{idx[0], idx[j], idx[j+1]})
		}
	}
	return NewSurface(vertices, faces)
}

// WriteOFF encodes s as ASCII OFF.
func WriteOFF(w io.Writer, s *Surface) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "OFF\n%d %d 0\n", len(s.Vertices), len(s.Faces))
	for _, v := range s.Vertices {
		fmt.Fprintf(bw, "%.17g %.17g %.17g\n", v.X, v.Y, v.Z)
	}
	for _, f := range s.Faces {
		fmt.Fprintf(bw, "3 %d %d %d\n", f[0], f[1], f[2])
	}
	return bw.Flush()
}
