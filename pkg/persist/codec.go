// Package persist writes finalized volumes to disk through pluggable codecs.
package persist

import (
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pierrec/lz4/v4"
)

// File extensions for supported codecs.
const (
	jsonExtension = ".json"
	gobExtension  = ".gob"
	lz4Extension  = ".lz4"
)

// Default indentation for pretty-printed JSON.
const defaultIndent = "  "

// ErrUnknownCodec is returned by CodecByName.
var ErrUnknownCodec = errors.New("unknown codec")

// Codec defines how state is serialized and deserialized.
type Codec interface {
	// Encode writes the state to the writer.
	Encode(w io.Writer, state any) error
	// Decode reads the state from the reader.
	Decode(r io.Reader, state any) error
	// Extension returns the file extension for this codec (e.g., ".json", ".gob").
	Extension() string
}

// JSONCodec implements Codec using JSON encoding with optional indentation.
type JSONCodec struct {
	// Indent specifies the indentation string. Empty string means compact JSON.
	Indent string
}

// NewJSONCodec creates a JSON codec with pretty-printing (2-space indent).
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{Indent: defaultIndent}
}

// Encode implements Codec.Encode using JSON encoding.
func (c *JSONCodec) Encode(w io.Writer, state any) error {
	encoder := json.NewEncoder(w)
	if c.Indent != "" {
		encoder.SetIndent("", c.Indent)
	}

	err := encoder.Encode(state)
	if err != nil {
		return fmt.Errorf("json encode: %w", err)
	}

	return nil
}

// Decode implements Codec.Decode using JSON decoding.
func (c *JSONCodec) Decode(r io.Reader, state any) error {
	err := json.NewDecoder(r).Decode(state)
	if err != nil {
		return fmt.Errorf("json decode: %w", err)
	}

	return nil
}

// Extension implements Codec.Extension for JSON files.
func (c *JSONCodec) Extension() string {
	return jsonExtension
}

// GobCodec implements Codec using gob encoding.
type GobCodec struct{}

// NewGobCodec creates a gob codec.
func NewGobCodec() *GobCodec {
	return &GobCodec{}
}

// Encode implements Codec.Encode using gob encoding.
func (c *GobCodec) Encode(w io.Writer, state any) error {
	err := gob.NewEncoder(w).Encode(state)
	if err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}

	return nil
}

// Decode implements Codec.Decode using gob decoding.
func (c *GobCodec) Decode(r io.Reader, state any) error {
	err := gob.NewDecoder(r).Decode(state)
	if err != nil {
		return fmt.Errorf("gob decode: %w", err)
	}

	return nil
}

// Extension implements Codec.Extension for gob files.
func (c *GobCodec) Extension() string {
	return gobExtension
}

// LZ4Codec compresses the output of another codec as an LZ4 frame.
type LZ4Codec struct {
	Inner Codec
	Level lz4.CompressionLevel
}

// NewLZ4Codec wraps inner with LZ4 frame compression at the fast level.
func NewLZ4Codec(inner Codec) *LZ4Codec {
	return &LZ4Codec{Inner: inner, Level: lz4.Fast}
}

// Encode implements Codec.Encode.
func (c *LZ4Codec) Encode(w io.Writer, state any) error {
	zw := lz4.NewWriter(w)

	err := zw.Apply(lz4.CompressionLevelOption(c.Level))
	if err != nil {
		return fmt.Errorf("lz4 options: %w", err)
	}

	err = c.Inner.Encode(zw, state)
	if err != nil {
		return err
	}

	err = zw.Close()
	if err != nil {
		return fmt.Errorf("lz4 close: %w", err)
	}

	return nil
}

// Decode implements Codec.Decode.
func (c *LZ4Codec) Decode(r io.Reader, state any) error {
	return c.Inner.Decode(lz4.NewReader(r), state)
}

// Extension implements Codec.Extension, e.g. ".gob.lz4".
func (c *LZ4Codec) Extension() string {
	return c.Inner.Extension() + lz4Extension
}

// CodecByName returns "json" or "gob", optionally LZ4 compressed.
func CodecByName(name string, compress bool) (Codec, error) {
	var codec Codec

	switch strings.ToLower(name) {
	case "", "gob":
		codec = NewGobCodec()
	case "json":
		codec = NewJSONCodec()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}

	if compress {
		codec = NewLZ4Codec(codec)
	}

	return codec, nil
}

// SaveState writes state to dir/basename+ext. The file is written under a
// temporary name and renamed, so readers never see a partial file.
func SaveState(dir, basename string, codec Codec, state any) (string, error) {
	path := filepath.Join(dir, basename+codec.Extension())

	file, err := os.CreateTemp(dir, basename+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create state file: %w", err)
	}

	err = codec.Encode(file, state)
	if err != nil {
		return "", errors.Join(fmt.Errorf("encode state: %w", err), file.Close(), os.Remove(file.Name()))
	}

	err = file.Close()
	if err != nil {
		return "", errors.Join(fmt.Errorf("close state file: %w", err), os.Remove(file.Name()))
	}

	err = os.Rename(file.Name(), path)
	if err != nil {
		return "", errors.Join(fmt.Errorf("rename state file: %w", err), os.Remove(file.Name()))
	}

	return path, nil
}

// LoadState decodes the file at path into state, which must be a pointer.
func LoadState(path string, codec Codec, state any) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open state file: %w", err)
	}
	defer file.Close()

	err = codec.Decode(file, state)
	if err != nil {
		return fmt.Errorf("decode state %s: %w", filepath.Base(path), err)
	}

	return nil
}
