package facts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Format is the encoding of a fact bundle file.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatFromPath picks the bundle format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	}
	return "", fmt.Errorf("unsupported bundle extension %q (want .json, .yaml, .yml or .toml)", filepath.Ext(path))
}

// LoadBundle reads and decodes a bundle file. The result is not validated.
func LoadBundle(path string) (*Bundle, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open bundle: %w", err)
	}
	defer f.Close()
	return DecodeBundle(f, format)
}

// DecodeBundle decodes a bundle in the given format.
func DecodeBundle(r io.Reader, format Format) (*Bundle, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle: %w", err)
	}

	var b Bundle
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&b)
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(&b)
		if err == io.EOF {
			err = nil
		}
	case FormatTOML:
		err = toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields().Decode(&b)
	default:
		return nil, fmt.Errorf("unsupported bundle format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s bundle: %w", format, err)
	}
	return &b, nil
}

// EncodeBundle writes a bundle in the given format.
func EncodeBundle(w io.Writer, b *Bundle, format Format) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(b)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(b); err != nil {
			return err
		}
		return enc.Close()
	case FormatTOML:
		return toml.NewEncoder(w).Encode(b)
	}
	return fmt.Errorf("unsupported bundle format %q", format)
}
