// Package plan loads query plans produced for the benchmark harness.
//
// A plan is a Substrait relation tree serialized as protobuf JSON. The runner
// only needs the raw bytes, to hand to a backend, and the local files that
// the plan's read relations scan.
package plan

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/hupe1980/colbench/codec"
)

// ErrPlanNotFound is returned when a plan file does not exist.
var ErrPlanNotFound = errors.New("plan not found")

// File formats a read relation can scan.
var formats = []string{"parquet", "orc", "dwrf", "arrow", "text"}

// uri keys of a Substrait FileOrFiles message, in lookup order.
var uriKeys = []string{"uriFile", "uriPath", "uriPathGlob", "uriFolder"}

// LocalFile is one item of a read relation's localFiles.
type LocalFile struct {
	URI    string `json:"uri"`
	Start  int64  `json:"start"`
	Length int64  `json:"length"`
	Format string `json:"format"`
}

// Plan is a loaded query plan.
type Plan struct {
	Path  string
	Raw   []byte
	Files []LocalFile
}

// Load reads and validates the plan at path.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, path)
		}
		return nil, fmt.Errorf("read plan %s: %w", path, err)
	}

	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("plan %s: %w", path, err)
	}
	p.Path = path
	return p, nil
}

// Parse decodes a plan from JSON.
func Parse(data []byte) (*Plan, error) {
	doc, err := codec.Default.UnmarshalTree(data)
	if err != nil {
		return nil, fmt.Errorf("invalid plan json: %w", err)
	}
	if _, ok := doc.(map[string]any); !ok {
		return nil, errors.New("invalid plan json: top level is not an object")
	}

	var files []LocalFile
	if err := collectLocalFiles(doc, &files); err != nil {
		return nil, err
	}

	return &Plan{Raw: data, Files: files}, nil
}

func collectLocalFiles(node any, out *[]LocalFile) error {
	switch v := node.(type) {
	case map[string]any:
		if lf, ok := v["localFiles"].(map[string]any); ok {
			items, _ := lf["items"].([]any)
			for i, it := range items {
				item, ok := it.(map[string]any)
				if !ok {
					return fmt.Errorf("localFiles.items[%d]: not an object", i)
				}
				f, err := parseItem(item)
				if err != nil {
					return fmt.Errorf("localFiles.items[%d]: %w", i, err)
				}
				*out = append(*out, f)
			}
		}
		// Map iteration order is random; visit keys sorted so Files is stable.
		keys := make([]string, 0, len(v))
		for k := range v {
			if k != "localFiles" {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := collectLocalFiles(v[k], out); err != nil {
				return err
			}
		}
	case []any:
		for _, e := range v {
			if err := collectLocalFiles(e, out); err != nil {
				return err
			}
		}
	}
	return nil
}

func parseItem(item map[string]any) (LocalFile, error) {
	var f LocalFile

	for _, k := range uriKeys {
		if s, ok := item[k].(string); ok && s != "" {
			f.URI = s
			break
		}
	}
	if f.URI == "" {
		return f, errors.New("missing uri")
	}

	var err error
	if f.Start, err = int64Field(item, "start"); err != nil {
		return f, err
	}
	if f.Length, err = int64Field(item, "length"); err != nil {
		return f, err
	}

	for _, format := range formats {
		if _, ok := item[format]; ok {
			f.Format = format
			break
		}
	}
	return f, nil
}

// int64Field reads an int64 that protobuf JSON may encode as string or number.
func int64Field(item map[string]any, key string) (int64, error) {
	switch v := item[key].(type) {
	case nil:
		return 0, nil
	case codec.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("%s: %w", key, err)
		}
		return n, nil
	case float64:
		return int64(v), nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", key, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%s: unexpected type %T", key, v)
	}
}

// Path returns the local path of a file URI.
func (f LocalFile) Path() string {
	return strings.TrimPrefix(f.URI, "file://")
}

// GeneratedFilePath resolves a generated benchmark artifact under baseDir.
// A .json regular file is returned as is; a directory yields its first
// .parquet file in name order.
func GeneratedFilePath(baseDir, name string) (string, error) {
	path := filepath.Join(baseDir, name)

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("could not get generated file from given path %s: %w", name, err)
	}

	if info.Mode().IsRegular() && filepath.Ext(path) == ".json" {
		return path, nil
	}

	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return "", fmt.Errorf("could not get generated file from given path %s: %w", name, err)
		}
		for _, e := range entries {
			if e.Type().IsRegular() && filepath.Ext(e.Name()) == ".parquet" {
				return filepath.Join(path, e.Name()), nil
			}
		}
	}

	return "", fmt.Errorf("could not get generated file from given path %s", name)
}
