// Package tables reads and writes the CSV tables shared with the scrape,
// build and import collaborators.
package tables

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"

	"github.com/grandcru/winematch/internal/model"
)

// ErrMissingInput marks a required table that is absent or lacks a required
// column. Runs abort on it before writing anything.
var ErrMissingInput = eris.New("tables: missing input")

var (
	comparisonColumns = []string{"name_plat"}
	ratingColumns     = []string{"wine_name"}
	overrideColumns   = []string{"match_name"}
)

var utf8BOM = []byte("\ufeff")

// ReadComparisons loads the comparison table. Rows without a name are
// skipped.
func ReadComparisons(path string) ([]model.ComparisonRecord, error) {
	recs, err := readRequired[model.ComparisonRecord](path, comparisonColumns)
	if err != nil {
		return nil, err
	}
	out := recs[:0]
	for _, r := range recs {
		r.Clean()
		if r.Name == "" {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// ReadRatings loads the base rating table.
func ReadRatings(path string) ([]model.RatingRecord, error) {
	recs, err := readRequired[model.RatingRecord](path, ratingColumns)
	if err != nil {
		return nil, err
	}
	for i := range recs {
		recs[i].Clean()
	}
	return recs, nil
}

// ReadOverrides loads the overrides table. A missing file yields no rows.
// The legacy vivino_raters column is folded into vivino_num_ratings.
func ReadOverrides(path string) ([]model.OverrideRecord, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "tables: read %s", path)
	}
	rows, header, err := decode[model.RatingRecord](data)
	if err != nil {
		return nil, eris.Wrapf(err, "tables: decode %s", path)
	}
	if header == nil {
		return nil, nil
	}
	if err := requireColumns(path, header, overrideColumns); err != nil {
		return nil, err
	}

	out := make([]model.OverrideRecord, 0, len(rows))
	for _, r := range rows {
		r.Clean()
		out = append(out, model.OverrideRecord{
			MatchName:  r.MatchName,
			WineName:   r.WineName,
			Rating:     r.Rating,
			NumRatings: r.RatingCount(),
			Price:      r.Price,
			URL:        r.URL,
			Notes:      r.Notes,
		})
	}
	return out, nil
}

// WriteReview rewrites the review queue report.
func WriteReview(path string, rows []model.ReviewRow) error {
	return write(path, rows)
}

// WriteUnmatched rewrites the unmatched report.
func WriteUnmatched(path string, rows []model.UnmatchedRow) error {
	return write(path, rows)
}

// WriteOverrides rewrites an overrides-shaped table: the overrides file
// itself or the auto-accepted suggestions.
func WriteOverrides(path string, rows []model.OverrideRecord) error {
	return write(path, rows)
}

func readRequired[T any](path string, required []string) ([]T, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrapf(ErrMissingInput, "%s not found", path)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "tables: read %s", path)
	}
	rows, header, err := decode[T](data)
	if err != nil {
		return nil, eris.Wrapf(err, "tables: decode %s", path)
	}
	if header == nil {
		return nil, eris.Wrapf(ErrMissingInput, "%s has no header", path)
	}
	if err := requireColumns(path, header, required); err != nil {
		return nil, err
	}
	return rows, nil
}

// decode returns a nil header for an empty file.
func decode[T any](data []byte) ([]T, []string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil, nil
	}

	// Ragged rows are padded or cut to the header length.
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	dec, err := csvutil.NewDecoder(r)
	if err != nil {
		return nil, nil, err
	}
	dec.AlignRecord = true
	header := make([]string, 0, len(dec.Header()))
	for _, h := range dec.Header() {
		header = append(header, strings.TrimSpace(h))
	}

	var out []T
	for {
		var v T
		err := dec.Decode(&v)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		out = append(out, v)
	}
	return out, header, nil
}

func requireColumns(path string, header, required []string) error {
	for _, col := range required {
		if !slices.Contains(header, col) {
			return eris.Wrapf(ErrMissingInput, "%s: missing column %q", path, col)
		}
	}
	return nil
}

func write[T any](path string, rows []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "tables: create dir for %s", path)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	enc := csvutil.NewEncoder(w)
	if len(rows) == 0 {
		var zero T
		if err := enc.EncodeHeader(zero); err != nil {
			return eris.Wrapf(err, "tables: encode header %s", path)
		}
	} else if err := enc.Encode(rows); err != nil {
		return eris.Wrapf(err, "tables: encode %s", path)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return eris.Wrapf(err, "tables: flush %s", path)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return eris.Wrapf(err, "tables: write %s", path)
	}
	if err := os.Rename(tmp, path); err != nil {
		return eris.Wrapf(err, "tables: rename %s", path)
	}
	return nil
}
