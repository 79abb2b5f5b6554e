package services

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var destinationSchemas embed.FS

// ErrValidation can be used with errors.Is to detect a rejected destination payload.
var ErrValidation = errors.New("validation failed")

type Validator struct {
	schemas map[string]*jsonschema.Schema
}

// NewValidator compiles one destination schema per settlement kind. The
// schema file name (without .json) is the kind.
func NewValidator() (*Validator, error) {
	entries, err := fs.ReadDir(destinationSchemas, "schemas")
	if err != nil {
		return nil, fmt.Errorf("read embedded schemas: %w", err)
	}
	schemas := make(map[string]*jsonschema.Schema)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		kind := strings.TrimSuffix(e.Name(), ".json")
		data, err := destinationSchemas.ReadFile(path.Join("schemas", e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", e.Name(), err)
		}
		id := "https://zidwell.com/schemas/destination/" + kind
		schemas[kind], err = jsonschema.CompileString(id, string(data))
		if err != nil {
			return nil, fmt.Errorf("compile destination schema %q: %w", kind, err)
		}
	}
	return &Validator{schemas: schemas}, nil
}

// Kinds returns the settlement kinds that have a destination schema.
func (v *Validator) Kinds() []string {
	kinds := make([]string, 0, len(v.schemas))
	for k := range v.schemas {
		kinds = append(kinds, k)
	}
	return kinds
}

// ValidateDestination hard-rejects a destination that does not match the
// kind's schema. Nothing is reserved for a rejected payload.
func (v *Validator) ValidateDestination(ctx context.Context, kind string, destination json.RawMessage) error {
	schema, ok := v.schemas[kind]
	if !ok {
		return fmt.Errorf("%w: unknown kind %q", ErrValidation, kind)
	}
	if len(destination) == 0 {
		return fmt.Errorf("%w: destination is required", ErrValidation)
	}
	var doc interface{}
	if err := json.Unmarshal(destination, &doc); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", ErrValidation, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}
