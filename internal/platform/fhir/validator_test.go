package fhir

import (
	"strings"
	"testing"
)

func TestStructuralValidatorAcceptsPatient(t *testing.T) {
	v := NewStructuralValidator()
	res := v.Validate(map[string]any{
		"resourceType": "Patient",
		"gender":       "female",
		"managingOrganization": map[string]any{
			"reference": "Organization/9f1a2b3c",
		},
	})
	if !res.IsValid {
		t.Errorf("valid patient rejected: %v", res.Errors)
	}
}

func TestStructuralValidatorMissingResourceType(t *testing.T) {
	v := NewStructuralValidator()
	res := v.Validate(map[string]any{"gender": "female"})
	if res.IsValid {
		t.Fatal("resource without resourceType accepted")
	}
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "resourceType") {
		t.Errorf("errors = %v", res.Errors)
	}
}

func TestStructuralValidatorUnknownResourceType(t *testing.T) {
	v := NewStructuralValidator()
	res := v.Validate(map[string]any{"resourceType": "Spaceship"})
	if res.IsValid {
		t.Error("unknown resourceType accepted")
	}
}

func TestStructuralValidatorBadStatus(t *testing.T) {
	v := NewStructuralValidator()
	res := v.Validate(map[string]any{
		"resourceType": "Encounter",
		"status":       "teleported",
	})
	if res.IsValid {
		t.Fatal("bad Encounter status accepted")
	}
	if !strings.Contains(res.Errors[0], "teleported") {
		t.Errorf("errors = %v", res.Errors)
	}
}

func TestStructuralValidatorNoStatusRulesForType(t *testing.T) {
	v := NewStructuralValidator()
	res := v.Validate(map[string]any{
		"resourceType": "Patient",
		"status":       "anything",
	})
	if !res.IsValid {
		t.Errorf("Patient has no status rules, got %v", res.Errors)
	}
}

func TestStructuralValidatorBadReference(t *testing.T) {
	v := NewStructuralValidator()
	res := v.Validate(map[string]any{
		"resourceType": "Patient",
		"contact": []any{
			map[string]any{
				"organization": map[string]any{"reference": "not a reference"},
			},
		},
	})
	if res.IsValid {
		t.Fatal("malformed reference accepted")
	}
	if !strings.Contains(res.Errors[0], "contact[0].organization.reference") {
		t.Errorf("errors = %v", res.Errors)
	}
}

func TestPassThroughValidator(t *testing.T) {
	var v Validator = PassThroughValidator{}
	if res := v.Validate(map[string]any{"anything": true}); !res.IsValid {
		t.Error("pass-through validator rejected a resource")
	}
}
