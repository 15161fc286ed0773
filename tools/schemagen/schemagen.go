// Package main generates JSON schemas for the reports written by
// `tagvol reconstruct --format json` and `tagvol histogram --format json`.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/Sumatoshi-tech/tagvol/pkg/report"
)

const draft07 = "http://json-schema.org/draft-07/schema#"

// Schema represents a JSON Schema.
type Schema struct {
	Schema      string             `json:"$schema,omitempty"`
	Title       string             `json:"title,omitempty"`
	Description string             `json:"description,omitempty"`
	Type        string             `json:"type,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Ref         string             `json:"$ref,omitempty"`
	Definitions map[string]*Schema `json:"definitions,omitempty"`
	Minimum     *float64           `json:"minimum,omitempty"`
	Maximum     *float64           `json:"maximum,omitempty"`
}

type target struct {
	name        string
	title       string
	description string
	value       any
}

var targets = []target{
	{
		name:        "reconstruction",
		title:       "Reconstruction Report",
		description: "Summary of one offline point stream reconstruction",
		value:       report.Reconstruction{},
	},
	{
		name:        "histogram",
		title:       "Histogram Report",
		description: "Summary of a live start/stop delay histogram",
		value:       report.Histogram{},
	},
}

func main() {
	outputDir := flag.String("o", "docs/schemas", "Output directory for schemas")
	flag.Parse()

	if err := os.MkdirAll(*outputDir, 0o750); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output directory: %v\n", err)
		os.Exit(1)
	}

	for _, tg := range targets {
		schema := generateSchema(tg)
		if err := writeSchema(*outputDir, tg.name, schema); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing schema for %s: %v\n", tg.name, err)
			os.Exit(1)
		}

		fmt.Printf("Generated schema for %s\n", tg.name)
	}
}

func generateSchema(tg target) *Schema {
	t := reflect.TypeOf(tg.value)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	defs := make(map[string]*Schema)
	props, required := structToProperties(t, defs)

	schema := &Schema{
		Schema:      draft07,
		Title:       tg.title,
		Description: tg.description,
		Type:        "object",
		Properties:  props,
		Required:    required,
	}

	if len(defs) > 0 {
		schema.Definitions = defs
	}

	return schema
}

func structToProperties(t reflect.Type, defs map[string]*Schema) (map[string]*Schema, []string) {
	props := make(map[string]*Schema)

	var required []string

	for field := range fields(t) {
		name, opts, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}

		props[name] = typeToSchema(field.Type, defs)

		if !strings.Contains(opts, "omitempty") {
			required = append(required, name)
		}
	}

	return props, required
}

func fields(t reflect.Type) func(func(reflect.StructField) bool) {
	return func(yield func(reflect.StructField) bool) {
		for i := range t.NumField() {
			if !yield(t.Field(i)) {
				return
			}
		}
	}
}

func typeToSchema(t reflect.Type, defs map[string]*Schema) *Schema {
	if t == reflect.TypeFor[time.Duration]() {
		return &Schema{Type: "integer", Description: "Duration in nanoseconds"}
	}

	switch t.Kind() {
	case reflect.String:
		return &Schema{Type: "string"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return &Schema{Type: "integer"}
	case reflect.Uint8:
		return &Schema{Type: "integer", Minimum: ptr(0), Maximum: ptr(255)}
	case reflect.Uint, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &Schema{Type: "integer", Minimum: ptr(0)}
	case reflect.Float32, reflect.Float64:
		return &Schema{Type: "number"}
	case reflect.Bool:
		return &Schema{Type: "boolean"}
	case reflect.Slice, reflect.Array:
		return &Schema{Type: "array", Items: typeToSchema(t.Elem(), defs)}
	case reflect.Struct:
		if _, ok := defs[t.Name()]; !ok {
			props, required := structToProperties(t, defs)
			defs[t.Name()] = &Schema{Type: "object", Properties: props, Required: required}
		}

		return &Schema{Ref: "#/definitions/" + t.Name()}
	case reflect.Pointer:
		return typeToSchema(t.Elem(), defs)
	default:
		return &Schema{Type: "object"}
	}
}

func ptr(v float64) *float64 { return &v }

func writeSchema(dir, name string, schema *Schema) error {
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}

	path := filepath.Join(dir, name+".json")

	return os.WriteFile(path, append(data, '\n'), 0o600)
}
