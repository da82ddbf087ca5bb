// Package split describes the file ranges a scan reads.
package split

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/parquet-go/parquet-go"

	"github.com/hupe1980/colbench/plan"
)

// ErrNoSplits is returned when no input file matches the requested format.
var ErrNoSplits = errors.New("no splits found")

// Format is a columnar file format.
type Format string

const (
	Parquet Format = "parquet"
	ORC     Format = "orc"
	DWRF    Format = "dwrf"
)

// ParseFormat parses a format name, case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case Parquet, ORC, DWRF:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported split format %q", s)
	}
}

// Item is a byte range of one file.
type Item struct {
	Path   string
	Start  int64
	Length int64
}

// Info is the set of ranges a scan reads, all in one format.
type Info struct {
	Format Format
	Items  []Item
}

// FromDirectory returns one item per regular file in dir whose extension
// matches format, in name order, each covering the whole file.
func FromDirectory(dir string, format Format) (*Info, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dataset %s: %w", dir, err)
	}

	info := &Info{Format: format}
	for _, e := range entries {
		if !e.Type().IsRegular() || !strings.EqualFold(filepath.Ext(e.Name()), "."+string(format)) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			return nil, err
		}
		info.Items = append(info.Items, Item{
			Path:   filepath.Join(dir, e.Name()),
			Length: fi.Size(),
		})
	}

	if len(info.Items) == 0 {
		return nil, fmt.Errorf("%w: no %s files in %s", ErrNoSplits, format, dir)
	}

	sort.Slice(info.Items, func(i, j int) bool { return info.Items[i].Path < info.Items[j].Path })
	return info, nil
}

// FromFile returns a single item covering the whole file.
func FromFile(path string, format Format) (*Info, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("split file %s: %w", path, err)
	}
	if !fi.Mode().IsRegular() {
		return nil, fmt.Errorf("split file %s: not a regular file", path)
	}
	return &Info{
		Format: format,
		Items:  []Item{{Path: path, Length: fi.Size()}},
	}, nil
}

// FromPlan returns the local files scanned by p.
func FromPlan(p *plan.Plan) (*Info, error) {
	if p == nil || len(p.Files) == 0 {
		return nil, fmt.Errorf("%w: plan has no local files", ErrNoSplits)
	}

	info := &Info{}
	for _, f := range p.Files {
		format := Format(f.Format)
		if info.Format == "" {
			info.Format = format
		} else if format != info.Format {
			return nil, fmt.Errorf("plan mixes split formats %s and %s", info.Format, format)
		}
		info.Items = append(info.Items, Item{Path: f.Path(), Start: f.Start, Length: f.Length})
	}
	return info, nil
}

// TotalBytes returns the sum of item lengths.
func (i *Info) TotalBytes() int64 {
	var n int64
	for _, it := range i.Items {
		n += it.Length
	}
	return n
}

// Stats describes a parquet split.
type Stats struct {
	RowGroups int
	Rows      int64
	Columns   []string
}

// Inspect opens a parquet file and reports its layout.
func Inspect(item Item) (Stats, error) {
	f, err := os.Open(item.Path)
	if err != nil {
		return Stats{}, err
	}
	defer func() { _ = f.Close() }()

	fi, err := f.Stat()
	if err != nil {
		return Stats{}, err
	}

	pf, err := parquet.OpenFile(f, fi.Size())
	if err != nil {
		return Stats{}, fmt.Errorf("open parquet %s: %w", item.Path, err)
	}

	st := Stats{RowGroups: len(pf.RowGroups()), Rows: pf.NumRows()}
	for _, field := range pf.Schema().Fields() {
		st.Columns = append(st.Columns, field.Name())
	}
	return st, nil
}

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// MustExist panics if path does not exist.
func MustExist(path string) {
	if !Exists(path) {
		panic(fmt.Sprintf("split: file %s does not exist", path))
	}
}
