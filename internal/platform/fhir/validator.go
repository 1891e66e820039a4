// Package fhir carries the FHIR R4 structural rules the pipeline validates
// resources against before staging them.
package fhir

import (
	"fmt"
	"regexp"
	"strings"
)

// referencePattern matches FHIR references in the format "ResourceType/id".
var referencePattern = regexp.MustCompile(`^[A-Z][a-zA-Z]+/[a-zA-Z0-9\-\.]+$`)

// knownResourceTypes lists FHIR R4 resource types recognized by the pipeline.
var knownResourceTypes = map[string]bool{
	"Patient": true, "Practitioner": true, "PractitionerRole": true,
	"Organization": true, "Location": true, "Encounter": true,
	"Condition": true, "Observation": true, "AllergyIntolerance": true,
	"Procedure": true, "Medication": true, "MedicationRequest": true,
	"MedicationAdministration": true, "MedicationDispense": true,
	"MedicationStatement": true, "ServiceRequest": true,
	"DiagnosticReport": true, "ImagingStudy": true, "Specimen": true,
	"Appointment": true, "Schedule": true, "Slot": true,
	"Coverage": true, "Claim": true, "ClaimResponse": true,
	"Consent": true, "DocumentReference": true, "Composition": true,
	"Communication": true, "Immunization": true,
	"Questionnaire": true, "QuestionnaireResponse": true,
	"CareTeam": true, "CarePlan": true, "RelatedPerson": true,
}

// statusValues maps resource types to their valid status values per FHIR R4.
var statusValues = map[string][]string{
	"Encounter":          {"planned", "arrived", "triaged", "in-progress", "onleave", "finished", "cancelled", "entered-in-error", "unknown"},
	"Condition":          {"active", "recurrence", "relapse", "inactive", "remission", "resolved"},
	"Observation":        {"registered", "preliminary", "final", "amended", "corrected", "cancelled", "entered-in-error", "unknown"},
	"AllergyIntolerance": {"active", "inactive", "resolved"},
	"Procedure":          {"preparation", "in-progress", "not-done", "on-hold", "stopped", "completed", "entered-in-error", "unknown"},
	"MedicationRequest":  {"active", "on-hold", "cancelled", "completed", "entered-in-error", "stopped", "draft", "unknown"},
	"ServiceRequest":     {"draft", "active", "on-hold", "revoked", "completed", "entered-in-error", "unknown"},
	"DiagnosticReport":   {"registered", "partial", "preliminary", "final", "amended", "corrected", "appended", "cancelled", "entered-in-error", "unknown"},
	"Appointment":        {"proposed", "pending", "booked", "arrived", "fulfilled", "cancelled", "noshow", "entered-in-error", "checked-in", "waitlist"},
	"Immunization":       {"completed", "entered-in-error", "not-done"},
}

// Result is the outcome of validating one resource.
type Result struct {
	IsValid bool
	Errors  []string
}

func (r *Result) addError(msg string) {
	r.IsValid = false
	r.Errors = append(r.Errors, msg)
}

// Validator checks a transformed resource before it is staged.
type Validator interface {
	Validate(resource map[string]any) Result
}

// StructuralValidator applies the generic FHIR R4 shape rules: resourceType
// present and known, status within the type's value set, references shaped
// as "ResourceType/id".
type StructuralValidator struct{}

func NewStructuralValidator() *StructuralValidator {
	return &StructuralValidator{}
}

func (v *StructuralValidator) Validate(resource map[string]any) Result {
	result := Result{IsValid: true}

	validateResourceType(resource, &result)
	validateStatus(resource, &result)
	walkReferences(resource, "", &result)

	return result
}

func validateResourceType(resource map[string]any, result *Result) {
	rt, ok := resource["resourceType"]
	if !ok {
		result.addError("resourceType is required")
		return
	}
	rtStr, ok := rt.(string)
	if !ok || rtStr == "" {
		result.addError("resourceType must be a non-empty string")
		return
	}
	if !knownResourceTypes[rtStr] {
		result.addError(fmt.Sprintf("unknown resourceType: %s", rtStr))
	}
}

func validateStatus(resource map[string]any, result *Result) {
	status, ok := resource["status"]
	if !ok {
		return
	}
	statusStr, ok := status.(string)
	if !ok {
		result.addError("status must be a string")
		return
	}

	rt, _ := resource["resourceType"].(string)
	valid, hasRules := statusValues[rt]
	if !hasRules {
		return
	}
	for _, vs := range valid {
		if vs == statusStr {
			return
		}
	}
	result.addError(fmt.Sprintf("invalid status '%s' for %s; valid values: %s", statusStr, rt, strings.Join(valid, ", ")))
}

func walkReferences(obj map[string]any, path string, result *Result) {
	for key, val := range obj {
		currentPath := key
		if path != "" {
			currentPath = path + "." + key
		}

		switch typedVal := val.(type) {
		case map[string]any:
			if ref, ok := typedVal["reference"]; ok {
				if refStr, isStr := ref.(string); isStr && refStr != "" && !referencePattern.MatchString(refStr) {
					result.addError(fmt.Sprintf("invalid reference format '%s' at %s.reference; expected 'ResourceType/id'", refStr, currentPath))
				}
			}
			walkReferences(typedVal, currentPath, result)

		case []any:
			for i, item := range typedVal {
				if m, ok := item.(map[string]any); ok {
					walkReferences(m, fmt.Sprintf("%s[%d]", currentPath, i), result)
				}
			}
		}
	}
}

// PassThroughValidator accepts everything. Used when validation is disabled
// in configuration.
type PassThroughValidator struct{}

func (PassThroughValidator) Validate(map[string]any) Result {
	return Result{IsValid: true}
}

// IsKnownResourceType returns true if the resource type is recognized.
func IsKnownResourceType(rt string) bool {
	return knownResourceTypes[rt]
}
