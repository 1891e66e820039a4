// Package transform turns one EMR row into a FHIR resource tree, driven
// entirely by the declarative field mappings.
package transform

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ehr/extractor/internal/domain/document"
	"github.com/ehr/extractor/internal/domain/emr"
	"github.com/ehr/extractor/internal/domain/mapping"
)

// OrganizationReference identifies the facility that owns extracted
// resources. Used as the managingOrganization fallback when a reference
// mapping carries no defaults.
type OrganizationReference struct {
	Reference string
	Display   string
}

// enumFields are top-level coded fields normalized to lowercase after
// transformation, since EMR systems frequently store them capitalized.
var enumFields = []string{"gender", "maritalStatus", "status", "use"}

type Transformer struct {
	log         zerolog.Logger
	managingOrg OrganizationReference
	countryCode string
}

func New(logger zerolog.Logger, managingOrg OrganizationReference, countryCode string) *Transformer {
	return &Transformer{log: logger, managingOrg: managingOrg, countryCode: countryCode}
}

// Transform builds the FHIR resource for one source row. recordErrors
// collects per-field problems that invalidate the record without being
// programming errors, currently just missing required fields; the caller
// must not persist the resource when any are present. The error return is
// reserved for hard failures such as conflicting path expressions.
func (t *Transformer) Transform(row emr.Row, def *mapping.Definition) (fhir *document.Object, recordErrors []string, err error) {
	fhir = document.NewObject()
	fhir.Set("resourceType", document.NewScalar(def.ResourceType))

	if err := document.ApplyConstants(fhir, def.Constants); err != nil {
		return nil, nil, err
	}

	for _, field := range def.Fields {
		if field.Template != mapping.TemplateNone {
			if err := t.applyTemplate(fhir, field, row); err != nil {
				return nil, nil, fmt.Errorf("apply %s template at %s: %w", field.Template, field.FHIRPath, err)
			}
			continue
		}

		var value any
		if field.EMRField == mapping.EmptyMarker {
			value = ""
		} else if field.EMRField != "" {
			if raw, ok := row[field.EMRField]; ok && raw != nil {
				value = raw
			}
		}

		if value == nil {
			if field.Required {
				t.log.Warn().Str("fhir_path", field.FHIRPath).Str("emr_field", field.EMRField).
					Msg("required field missing from source row")
				recordErrors = append(recordErrors, fmt.Sprintf("Missing required field: %s (EMR: %s)", field.FHIRPath, field.EMRField))
			}
			continue
		}

		converted := convertValue(value, field.DataType, field.Format)
		if err := document.SetValue(fhir, field.FHIRPath, document.NewScalar(converted)); err != nil {
			return nil, nil, err
		}
	}

	t.normalizeEnumFields(fhir)
	return fhir, recordErrors, nil
}

func (t *Transformer) applyTemplate(fhir *document.Object, field mapping.FieldMapping, row emr.Row) error {
	switch field.Template {
	case mapping.TemplateHumanName:
		return t.applyHumanName(fhir, field, row)
	case mapping.TemplateContactPoint:
		return t.applyContactPoint(fhir, field, row)
	case mapping.TemplateAddress:
		return t.applyAddress(fhir, field, row)
	case mapping.TemplateCodeableConcept:
		return t.applyCodeableConcept(fhir, field, row)
	case mapping.TemplateIdentifier:
		return t.applyIdentifier(fhir, field, row)
	case mapping.TemplateContact:
		return t.applyContact(fhir, field, row)
	case mapping.TemplateReference:
		return t.applyReference(fhir, field)
	default:
		t.log.Warn().Str("template", string(field.Template)).Str("fhir_path", field.FHIRPath).
			Msg("unknown template, field skipped")
		return nil
	}
}

func (t *Transformer) normalizeEnumFields(fhir *document.Object) {
	for _, field := range enumFields {
		n, ok := fhir.Get(field)
		if !ok {
			continue
		}
		if s, ok := n.(*document.Scalar); ok {
			if str, ok := s.Value.(string); ok {
				fhir.Set(field, document.NewScalar(lower(str)))
			}
		}
	}
}
