package mapping

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

var (
	// ErrNotFound is returned when no mapping exists for a resource type.
	ErrNotFound = errors.New("mapping not found")
	// ErrInvalid is returned when a mapping file fails structural validation.
	ErrInvalid = errors.New("invalid mapping")
)

// Store loads every *.mapping.json file under a directory once at startup and
// serves immutable definitions keyed by resource type (case-insensitive).
type Store struct {
	byType map[string]*Definition
	log    zerolog.Logger
}

// NewStore reads and validates all mapping files in dir. A single invalid
// file aborts the load; validation runs here, never per record.
func NewStore(dir string, logger zerolog.Logger) (*Store, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read mappings directory %s: %w", dir, err)
	}

	s := &Store{byType: make(map[string]*Definition), log: logger}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".mapping.json") {
			continue
		}

		path := filepath.Join(dir, name)
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read mapping file %s: %w", path, err)
		}

		def := &Definition{}
		if err := json.Unmarshal(raw, def); err != nil {
			return nil, fmt.Errorf("%w: decode %s: %v", ErrInvalid, name, err)
		}
		if def.SourceIDColumn == "" {
			def.SourceIDColumn = "patient_id"
		}
		if def.LastUpdatedColumn == "" {
			def.LastUpdatedColumn = "created_at"
		}
		if err := validate(def, name); err != nil {
			return nil, err
		}

		logger.Info().
			Str("resource_type", def.ResourceType).
			Str("table", def.SourceTable).
			Int("fields", len(def.Fields)).
			Msg("loaded mapping")

		s.byType[strings.ToLower(def.ResourceType)] = def
	}

	return s, nil
}

// Load returns the definition for resourceType, or ErrNotFound.
func (s *Store) Load(resourceType string) (*Definition, error) {
	def, ok := s.byType[strings.ToLower(resourceType)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, resourceType)
	}
	return def, nil
}

// ResourceTypes lists the resource types with a loaded mapping.
func (s *Store) ResourceTypes() []string {
	out := make([]string, 0, len(s.byType))
	for _, def := range s.byType {
		out = append(out, def.ResourceType)
	}
	return out
}

func validate(def *Definition, file string) error {
	if strings.TrimSpace(def.ResourceType) == "" {
		return fmt.Errorf("%w: missing resourceType in %s", ErrInvalid, file)
	}
	if strings.TrimSpace(def.SourceTable) == "" {
		return fmt.Errorf("%w: missing tableName in %s", ErrInvalid, file)
	}
	if len(def.Fields) == 0 {
		return fmt.Errorf("%w: %s must contain at least one field mapping", ErrInvalid, file)
	}

	for _, field := range def.Fields {
		if strings.TrimSpace(field.FHIRPath) == "" {
			return fmt.Errorf("%w: a field in %s has an empty fhirPath", ErrInvalid, file)
		}

		// Template fields source their own inputs.
		if field.Template != TemplateNone {
			continue
		}

		isEmptyMarker := strings.TrimSpace(field.EMRField) == EmptyMarker
		_, isConstant := def.Constants[field.FHIRPath]
		if strings.TrimSpace(field.EMRField) == "" && !isConstant && !isEmptyMarker {
			return fmt.Errorf("%w: field %q in %s has no emrField, no constant, and no empty-string marker",
				ErrInvalid, field.FHIRPath, file)
		}
	}

	return nil
}
