package bcpd

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/organ.projection/internal/fsutil"
)

// writePoints writes one comma-separated "x,y,z" row per point.
func writePoints(fs fsutil.FileSystem, path string, points []r3.Vec) error {
	var buf bytes.Buffer
	for _, p := range points {
		fmt.Fprintf(&buf, "%.18e,%.18e,%.18e\n", p.X, p.Y, p.Z)
	}
	if err := fs.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// readMatrix parses a numeric table with comma or whitespace separated
// columns. Blank lines are skipped; every row must have the same width.
func readMatrix(fs fsutil.FileSystem, path string) ([][]float64, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rows [][]float64
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.FieldsFunc(sc.Text(), func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t' || r == '\r'
		})
		if len(fields) == 0 {
			continue
		}
		row := make([]float64, len(fields))
		for i, f := range fields {
			if row[i], err = strconv.ParseFloat(f, 64); err != nil {
				return nil, fmt.Errorf("%s:%d: %w", path, line, err)
			}
		}
		if len(rows) > 0 && len(row) != len(rows[0]) {
			return nil, fmt.Errorf("%s:%d: %d columns, want %d", path, line, len(row), len(rows[0]))
		}
		rows = append(rows, row)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return rows, nil
}

// readPoints reads an N×3 table.
func readPoints(fs fsutil.FileSystem, path string) ([]r3.Vec, error) {
	rows, err := readMatrix(fs, path)
	if err != nil {
		return nil, err
	}
	out := make([]r3.Vec, len(rows))
	for i, r := range rows {
		if len(r) != 3 {
			return nil, fmt.Errorf("%s: %d columns, want 3", path, len(r))
		}
		out[i] = r3.Vec{X: r[0], Y: r[1], Z: r[2]}
	}
	return out, nil
}

// readValues reads a table and flattens it in row-major order.
func readValues(fs fsutil.FileSystem, path string) ([]float64, error) {
	rows, err := readMatrix(fs, path)
	if err != nil {
		return nil, err
	}
	var out []float64
	for _, r := range rows {
		out = append(out, r...)
	}
	return out, nil
}
