package depth

import (
	"archive/tar"
	"compress/gzip"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

var ErrEmptyArchive = errors.New("archive has no csv member")

var requiredColumns = []string{"timestamp", "price", "qty", "side"}

// ReadArchive opens a .tar.gz order-book dump and parses its first regular
// file. Further members are ignored.
func ReadArchive(path string) ([]Tick, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	ticks, err := ParseArchive(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ticks, nil
}

func ParseArchive(r io.Reader) ([]Tick, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil, ErrEmptyArchive
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read tar entry: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		return ParseCSV(tr)
	}
}

// ParseCSV reads ticks from a CSV stream whose header names at least the
// timestamp, price, qty and side columns, in any order.
func ParseCSV(r io.Reader) ([]Tick, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err == io.EOF {
		return []Tick{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.ToLower(strings.TrimSpace(name))] = i
	}
	cols := make([]int, len(requiredColumns))
	for i, name := range requiredColumns {
		pos, ok := idx[name]
		if !ok {
			return nil, fmt.Errorf("csv header is missing column %q", name)
		}
		cols[i] = pos
	}

	var ticks []Tick
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		t, err := parseRecord(rec, cols)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		ticks = append(ticks, t)
	}

	return ticks, nil
}

func parseRecord(rec []string, cols []int) (Tick, error) {
	ms, err := strconv.ParseInt(strings.TrimSpace(rec[cols[0]]), 10, 64)
	if err != nil {
		return Tick{}, fmt.Errorf("invalid timestamp: %w", err)
	}
	price, err := strconv.ParseFloat(strings.TrimSpace(rec[cols[1]]), 64)
	if err != nil {
		return Tick{}, fmt.Errorf("invalid price: %w", err)
	}
	qty, err := strconv.ParseFloat(strings.TrimSpace(rec[cols[2]]), 64)
	if err != nil {
		return Tick{}, fmt.Errorf("invalid qty: %w", err)
	}
	side, err := ParseSide(rec[cols[3]])
	if err != nil {
		return Tick{}, err
	}

	t := Tick{
		Timestamp: time.UnixMilli(ms).UTC(),
		Price:     price,
		Qty:       qty,
		Side:      side,
	}
	if err := t.Validate(); err != nil {
		return Tick{}, err
	}
	return t, nil
}
