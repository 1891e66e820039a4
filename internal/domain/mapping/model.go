// Package mapping holds the declarative per-resource-type field mappings that
// drive EMR row to FHIR resource transformation.
package mapping

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// EmptyMarker is the reserved source-field value that yields an empty string
// instead of a column lookup.
const EmptyMarker = "__empty__"

// Template identifies a composite-structure builder.
type Template string

const (
	TemplateNone            Template = ""
	TemplateHumanName       Template = "humanName"
	TemplateContactPoint    Template = "contactPoint"
	TemplateAddress         Template = "address"
	TemplateCodeableConcept Template = "codeableConcept"
	TemplateIdentifier      Template = "identifier"
	TemplateContact         Template = "contact"
	TemplateReference       Template = "reference"
)

// Known reports whether t names one of the supported builders.
func (t Template) Known() bool {
	switch t {
	case TemplateHumanName, TemplateContactPoint, TemplateAddress,
		TemplateCodeableConcept, TemplateIdentifier, TemplateContact,
		TemplateReference:
		return true
	}
	return false
}

// IdentifierType is the coding metadata attached to one identifier source
// column.
type IdentifierType struct {
	System  string `json:"system"`
	Code    string `json:"code"`
	Display string `json:"display"`
	Text    string `json:"text"`
}

// ValueSet maps source codes to display strings for codeableConcept fields.
type ValueSet struct {
	System     string            `json:"system"`
	DisplayMap map[string]string `json:"displayMap"`
}

// PriorityEntry is one alias -> source column pair of a priority map.
type PriorityEntry struct {
	Alias  string
	Column string
}

// PriorityMap is an ordered alias -> source column map. JSON objects decode
// in document order; ordering matters because the identifier builder emits
// one entry per populated alias, in priority order.
type PriorityMap struct {
	entries []PriorityEntry
}

func (p *PriorityMap) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("priority map must be a JSON object")
	}
	p.entries = nil
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key := keyTok.(string)
		var col string
		if err := dec.Decode(&col); err != nil {
			return fmt.Errorf("priority map value for %q: %w", key, err)
		}
		p.entries = append(p.entries, PriorityEntry{Alias: key, Column: col})
	}
	_, err = dec.Token() // closing brace
	return err
}

// Entries returns the alias/column pairs in declaration order.
func (p *PriorityMap) Entries() []PriorityEntry {
	if p == nil {
		return nil
	}
	return p.entries
}

func (p *PriorityMap) Len() int {
	if p == nil {
		return 0
	}
	return len(p.entries)
}

// FieldMapping describes how one FHIR path is populated from the source row.
type FieldMapping struct {
	FHIRPath          string                    `json:"fhirPath"`
	EMRField          string                    `json:"emrField"`
	EMRFieldMap       map[string]string         `json:"emrFieldMap"`
	EMRFieldPriority  *PriorityMap              `json:"emrFieldPriority"`
	IdentifierTypeMap map[string]IdentifierType `json:"identifierTypeMap"`
	Template          Template                  `json:"template"`
	DataType          string                    `json:"dataType"`
	Format            string                    `json:"format"`
	Defaults          map[string]any            `json:"defaults"`
	ValueSet          *ValueSet                 `json:"valueSet"`
	Required          bool                      `json:"required"`
}

// Definition is the full mapping for one resource type, immutable after load.
type Definition struct {
	ResourceType      string         `json:"resourceType"`
	SourceTable       string         `json:"tableName"`
	SourceIDColumn    string         `json:"sourceIdColumn"`
	LastUpdatedColumn string         `json:"lastUpdatedColumn"`
	Fields            []FieldMapping `json:"fields"`
	Constants         map[string]any `json:"constants"`
}
