// Package codec centralizes JSON encoding for plans, reports and the status
// endpoint.
//
// Substrait plans encode 64-bit offsets as JSON numbers, so untyped plan
// documents are decoded with [Codec.UnmarshalTree], which keeps numbers as
// [Number] instead of rounding them through float64.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	gojson "github.com/goccy/go-json"
)

// Number is a JSON number literal as decoded by UnmarshalTree.
type Number = gojson.Number

// Codec encodes and decodes JSON documents.
// Implementations must be safe for concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	MarshalIndent(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	UnmarshalTree(data []byte) (any, error)
	Name() string
}

// GoJSON is backed by github.com/goccy/go-json.
type GoJSON struct{}

func (GoJSON) Marshal(v any) ([]byte, error) { return gojson.Marshal(v) }

// MarshalIndent uses two-space indentation, as written to report files.
func (GoJSON) MarshalIndent(v any) ([]byte, error) { return gojson.MarshalIndent(v, "", "  ") }

func (GoJSON) Unmarshal(data []byte, v any) error {
	if err := gojson.Unmarshal(data, v); err != nil {
		return wrap(err)
	}
	return nil
}

// UnmarshalTree decodes a single document into maps, slices and scalars.
// Trailing data after the document is an error.
func (GoJSON) UnmarshalTree(data []byte) (any, error) {
	dec := gojson.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, wrap(err)
	}
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, &SyntaxError{Offset: int64(len(data)), Msg: "trailing data after document"}
	}
	return v, nil
}

func (GoJSON) Name() string { return "go-json" }

// Default is the codec used for plans and reports.
var Default Codec = GoJSON{}

// SyntaxError reports malformed JSON and the byte offset it was found at.
type SyntaxError struct {
	Offset int64
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("json syntax error at offset %d: %s", e.Offset, e.Msg)
}

func wrap(err error) error {
	var se *gojson.SyntaxError
	if errors.As(err, &se) {
		return &SyntaxError{Offset: se.Offset, Msg: se.Error()}
	}
	if errors.Is(err, io.EOF) {
		return &SyntaxError{Msg: "empty document"}
	}
	return err
}
