// Package postfile reads and rewrites the CSV input file that drives a
// posting run. Each row names an image and its caption and carries the
// posted flag and timestamp that make a run resumable.
package postfile

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Column names.
const (
	ColFilename  = "filename"
	ColCaption   = "caption"
	ColPosted    = "posted"
	ColTimestamp = "timestamp"
)

// TimestampLayout is the format written to the timestamp column.
const TimestampLayout = "2006-01-02 15:04:05"

// Row is one entry of the input file. Identity is the row's position in the
// file snapshot.
type Row struct {
	Filename  string
	Caption   string
	Posted    bool
	Timestamp string

	record []string
}

// File is a loaded input file. Columns other than the four known ones are
// preserved on save in their original order.
type File struct {
	Path   string
	Header []string
	Rows   []Row

	idx map[string]int
}

// Load reads the CSV at path. The filename and caption columns are required;
// posted and timestamp are appended with false and "" when absent.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("postfile: read %s: %w", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("postfile: %s: %w", path, err)
	}
	f.Path = path
	return f, nil
}

// Parse decodes CSV data with a header row.
func Parse(data []byte) (*File, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("missing header row")
	}
	if err != nil {
		return nil, fmt.Errorf("parse header: %w", err)
	}

	f := &File{idx: make(map[string]int)}
	width := len(header)
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		f.Header = append(f.Header, name)
		if _, dup := f.idx[name]; !dup {
			f.idx[name] = i
		}
	}

	var missing []string
	for _, col := range []string{ColFilename, ColCaption} {
		if _, ok := f.idx[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required columns: %s", strings.Join(missing, ", "))
	}
	for _, col := range []string{ColPosted, ColTimestamp} {
		if _, ok := f.idx[col]; !ok {
			f.idx[col] = len(f.Header)
			f.Header = append(f.Header, col)
		}
	}

	line := 1
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("parse row %d: %w", line, err)
		}
		if len(rec) > width {
			return nil, fmt.Errorf("row %d: %d fields, header has %d", line, len(rec), width)
		}
		for len(rec) < len(f.Header) {
			rec = append(rec, "")
		}

		posted, err := parseBool(rec[f.idx[ColPosted]])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}
		f.Rows = append(f.Rows, Row{
			Filename:  strings.TrimSpace(rec[f.idx[ColFilename]]),
			Caption:   rec[f.idx[ColCaption]],
			Posted:    posted,
			Timestamp: rec[f.idx[ColTimestamp]],
			record:    rec,
		})
	}
	return f, nil
}

func parseBool(s string) (bool, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "":
		return false, nil
	case "yes", "y":
		return true, nil
	case "no", "n":
		return false, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid posted value %q", s)
	}
	return b, nil
}

// Pending returns the indexes of rows to process: every row when repost is
// set, otherwise only rows not yet posted.
func (f *File) Pending(repost bool) []int {
	var out []int
	for i, row := range f.Rows {
		if repost || !row.Posted {
			out = append(out, i)
		}
	}
	return out
}

// MarkPosted sets the posted flag and timestamp of row i.
func (f *File) MarkPosted(i int, at time.Time) {
	f.Rows[i].Posted = true
	f.Rows[i].Timestamp = at.Format(TimestampLayout)
}

// Encode renders the file as CSV.
func (f *File) Encode() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(f.Header); err != nil {
		return nil, err
	}
	for _, row := range f.Rows {
		rec := row.record
		if len(rec) < len(f.Header) {
			rec = append(rec, make([]string, len(f.Header)-len(rec))...)
		}
		rec[f.idx[ColFilename]] = row.Filename
		rec[f.idx[ColCaption]] = row.Caption
		rec[f.idx[ColPosted]] = postedCell(rec[f.idx[ColPosted]], row.Posted)
		rec[f.idx[ColTimestamp]] = row.Timestamp
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// postedCell keeps the user's spelling of the posted flag ("yes", "1", "N")
// while it still means posted. Empty and changed cells are written as
// true or false.
func postedCell(orig string, posted bool) string {
	if strings.TrimSpace(orig) != "" {
		if cur, err := parseBool(orig); err == nil && cur == posted {
			return orig
		}
	}
	return strconv.FormatBool(posted)
}

// Save rewrites the whole file in place.
func (f *File) Save() error {
	data, err := f.Encode()
	if err != nil {
		return fmt.Errorf("postfile: encode %s: %w", f.Path, err)
	}
	if err := writeAtomic(f.Path, data); err != nil {
		return fmt.Errorf("postfile: save: %w", err)
	}
	return nil
}

// writeAtomic replaces path with data through a temp file in the same
// directory, so a crash never leaves a truncated input file.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".postyard-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file for %s: %w", path, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("chmod temp file for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// Template is the starter input file written by postyard init.
const Template = `filename,caption,posted,timestamp
image1.jpg,Beautiful sunset at the beach #sunset #beach #nature,false,
image2.jpg,Coffee and a good book #coffee #reading #weekend,false,
`

// WriteTemplate writes Template to path. An existing file is left alone
// unless force is set.
func WriteTemplate(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("postfile: %s already exists (use --force to overwrite)", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("postfile: create directory for %s: %w", path, err)
	}
	if err := writeAtomic(path, []byte(Template)); err != nil {
		return fmt.Errorf("postfile: write template: %w", err)
	}
	return nil
}
