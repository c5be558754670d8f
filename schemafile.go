package main

import (
	"encoding/json"
	"fmt"
	"os"
)

// writeSchemaFile persists the canonical IR serialization: UTF-8 JSON,
// stable field ordering, lowercase enum tokens. A file written by
// `extract` is an exact substitute for live introspection in
// `migrate --schema`.
func writeSchemaFile(path string, s *Schema) error {
	s.Canonicalize()
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize schema: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write schema file: %w", err)
	}
	return nil
}

// readSchemaFile loads and validates a persisted IR schema.
func readSchemaFile(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}
	var s Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse schema file %s: %w", path, err)
	}
	switch s.Dialect {
	case DialectMySQL, DialectPostgres:
	default:
		return nil, fmt.Errorf("schema file %s: unknown dialect %q", path, s.Dialect)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("schema file %s: %w", path, err)
	}
	return &s, nil
}
