package trace

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/microsoft/ZooTracer/config"
	"github.com/microsoft/ZooTracer/zt_errors"
)

const (
	pointsHeader    = "x,y,code"
	columnsHeader   = "ID,Column,Variable Name,Data Type,Rank,Missing Value,Dimensions"
	variablesHeader = "Variable,Key,Type,Value"
)

var columns = []string{
	"1,A,x,System.Double,1,,frame",
	"2,B,y,System.Double,1,,frame",
	"3,C,code,System.Int16,1,,frame",
}

// Row is one frame of a trace file. X and Y are the patch centre.
type Row struct {
	Kind     Kind
	X        float64
	Y        float64
	HasPoint bool
}

// Document is a parsed trace file. Values holds the raw text of every
// listed setting, already checked to parse.
type Document struct {
	Rows   []Row
	Keys   []string
	Values map[string]string
}

// NewDocument renders t with the given settings. Fixed frames and located
// automatic frames carry the patch centre.
func NewDocument(t *Trace, s config.Settings) *Document {
	doc := &Document{Rows: make([]Row, t.Frames()), Values: make(map[string]string)}
	half := float64(s.PatchSize) / 2
	for f := range doc.Rows {
		row := Row{Kind: t.Kind(f)}
		if row.Kind != Occluded {
			if pt, ok := t.Point(f); ok {
				row.X, row.Y, row.HasPoint = float64(pt.X)+half, float64(pt.Y)+half, true
			}
		}
		doc.Rows[f] = row
	}
	for _, key := range config.Keys() {
		v, _ := s.Get(key)
		doc.Keys = append(doc.Keys, key)
		doc.Values[key] = v
	}
	return doc
}

func (d *Document) VideoPath() string {
	return d.Values[config.KeyVideoFilePath]
}

// Apply writes every listed value into s.
func (d *Document) Apply(s *config.Settings) error {
	for _, key := range d.Keys {
		if err := s.Set(key, d.Values[key]); err != nil {
			return err
		}
	}
	return nil
}

// TopLeft converts a row centre back to the patch corner.
func (r Row) TopLeft(patchSize int) Point {
	half := float64(patchSize) / 2
	return Point{X: int(math.Round(r.X - half)), Y: int(math.Round(r.Y - half))}
}

func formatFloat(x float64) string {
	return strconv.FormatFloat(x, 'f', -1, 64)
}

func Write(w io.Writer, doc *Document) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, pointsHeader)
	for _, row := range doc.Rows {
		code := 0
		switch row.Kind {
		case Fixed:
			code = 1
		case Occluded:
			code = 2
		}
		if row.HasPoint && row.Kind != Occluded {
			fmt.Fprintf(bw, "%s,%s,%d\n", formatFloat(row.X), formatFloat(row.Y), code)
		} else {
			fmt.Fprintf(bw, ",,%d\n", code)
		}
	}
	fmt.Fprintln(bw)
	fmt.Fprintln(bw, columnsHeader)
	for _, c := range columns {
		fmt.Fprintln(bw, c)
	}
	fmt.Fprintln(bw)
	fmt.Fprintln(bw, variablesHeader)
	for _, key := range doc.Keys {
		typ := "System.Double"
		if config.Kind(key) == "string" {
			typ = "System.String"
		}
		fmt.Fprintf(bw, "0,%s,%s,%s\n", key, typ, doc.Values[key])
	}
	return bw.Flush()
}

func formatErr(line int, format string, args ...any) error {
	return fmt.Errorf("%w: line %d: %s", zt_errors.ErrFormat, line, fmt.Sprintf(format, args...))
}

// Read parses a trace file. Unknown variables are skipped; a missing video
// path, a malformed row or an unparsable value is an ErrFormat.
func Read(r io.Reader) (*Document, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	line := 0
	next := func() (string, bool) {
		if !sc.Scan() {
			return "", false
		}
		line++
		return strings.TrimRight(sc.Text(), "\r"), true
	}

	doc := &Document{Values: make(map[string]string)}
	if l, ok := next(); !ok || strings.TrimSpace(l) != pointsHeader {
		return nil, formatErr(line, "expected %q", pointsHeader)
	}
	for {
		l, ok := next()
		if !ok {
			return nil, formatErr(line, "unexpected end of file")
		}
		if strings.TrimSpace(l) == "" {
			break
		}
		row, err := parseRow(l)
		if err != nil {
			return nil, formatErr(line, "%v", err)
		}
		doc.Rows = append(doc.Rows, row)
	}
	if l, ok := next(); !ok || strings.TrimSpace(l) != columnsHeader {
		return nil, formatErr(line, "expected column table")
	}
	for {
		l, ok := next()
		if !ok {
			return nil, formatErr(line, "unexpected end of file")
		}
		if strings.TrimSpace(l) == "" {
			break
		}
	}
	if l, ok := next(); !ok || strings.TrimSpace(l) != variablesHeader {
		return nil, formatErr(line, "expected %q", variablesHeader)
	}
	scratch := config.Defaults()
	for {
		l, ok := next()
		if !ok {
			break
		}
		if strings.TrimSpace(l) == "" {
			continue
		}
		parts := strings.SplitN(l, ",", 4)
		if len(parts) != 4 {
			return nil, formatErr(line, "malformed variable %q", l)
		}
		key, value := strings.TrimSpace(parts[1]), strings.TrimRight(parts[3], ",")
		if config.Kind(key) == "" {
			continue
		}
		if err := scratch.Set(key, value); err != nil {
			return nil, formatErr(line, "%v", err)
		}
		if _, seen := doc.Values[key]; !seen {
			doc.Keys = append(doc.Keys, key)
		}
		doc.Values[key] = value
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", zt_errors.ErrFormat, err)
	}
	if doc.VideoPath() == "" {
		return nil, formatErr(line, "no %s", config.KeyVideoFilePath)
	}
	return doc, nil
}

func parseRow(l string) (Row, error) {
	parts := strings.Split(l, ",")
	if len(parts) != 3 {
		return Row{}, fmt.Errorf("want 3 fields, got %d", len(parts))
	}
	var row Row
	switch strings.TrimSpace(parts[2]) {
	case "0":
		row.Kind = Auto
	case "1":
		row.Kind = Fixed
	case "2":
		row.Kind = Occluded
	default:
		return Row{}, fmt.Errorf("bad code %q", parts[2])
	}
	xs, ys := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	if xs == "" && ys == "" {
		if row.Kind == Fixed {
			return Row{}, fmt.Errorf("fixed row without a point")
		}
		return row, nil
	}
	var err error
	if row.X, err = strconv.ParseFloat(xs, 64); err != nil {
		return Row{}, fmt.Errorf("bad x %q", xs)
	}
	if row.Y, err = strconv.ParseFloat(ys, 64); err != nil {
		return Row{}, fmt.Errorf("bad y %q", ys)
	}
	row.HasPoint = row.Kind != Occluded
	return row, nil
}

// SaveFile writes doc to path through a temporary file in the same directory.
func SaveFile(path string, doc *Document) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	if err = Write(tmp, doc); err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), path)
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
	}
	return err
}

func LoadFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", zt_errors.ErrNotFound, path)
		}
		return nil, err
	}
	defer f.Close()
	return Read(f)
}
