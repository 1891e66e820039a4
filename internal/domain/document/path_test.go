package document

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestSetValueReadBack(t *testing.T) {
	paths := []string{
		"gender",
		"name[0].family",
		"name[0].given[1]",
		"telecom[0].value",
		"contact[2].name.given[0]",
		"address[0].line[3]",
		"managingOrganization.reference",
		"a.b.c.d.e",
	}

	for _, p := range paths {
		root := NewObject()
		if err := SetValue(root, p, NewScalar("v")); err != nil {
			t.Fatalf("SetValue(%q): %v", p, err)
		}
		n, ok := Lookup(root, p)
		if !ok {
			t.Fatalf("Lookup(%q) after SetValue: not found", p)
		}
		s, ok := n.(*Scalar)
		if !ok || s.Value != "v" {
			t.Errorf("Lookup(%q) = %v, want scalar %q", p, n, "v")
		}
	}
}

func TestSetValuePadsArrays(t *testing.T) {
	root := NewObject()
	if err := SetValue(root, "a[2].b", NewScalar(1)); err != nil {
		t.Fatalf("SetValue: %v", err)
	}

	n, ok := root.Get("a")
	if !ok {
		t.Fatal("key a missing")
	}
	arr, ok := n.(*Array)
	if !ok {
		t.Fatalf("a is %T, want *Array", n)
	}
	if arr.Len() != 3 {
		t.Fatalf("len(a) = %d, want 3", arr.Len())
	}
	for i := 0; i < 2; i++ {
		obj, ok := arr.At(i).(*Object)
		if !ok {
			t.Fatalf("a[%d] is %T, want *Object", i, arr.At(i))
		}
		if obj.Len() != 0 {
			t.Errorf("a[%d] not empty: %s", i, String(obj))
		}
	}
}

func TestSetValueTypeMismatch(t *testing.T) {
	root := NewObject()
	if err := SetValue(root, "a.b", NewScalar("x")); err != nil {
		t.Fatalf("SetValue: %v", err)
	}

	// a is an object; indexing into it must fail.
	err := SetValue(root, "a[0]", NewScalar("y"))
	if !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("index into object: err = %v, want ErrTypeMismatch", err)
	}

	// a.b is a scalar; descending through it as an object must fail.
	err = SetValue(root, "a.b.c", NewScalar("z"))
	if !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("descend through scalar: err = %v, want ErrTypeMismatch", err)
	}

	// a exists as an object where an array is now expected.
	err = SetValue(root, "a[1].c", NewScalar("z"))
	if !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("array expected over object: err = %v, want ErrTypeMismatch", err)
	}
}

func TestSetValueDeepCopies(t *testing.T) {
	shared := NewObject()
	shared.Set("k", NewScalar("before"))

	root := NewObject()
	if err := SetValue(root, "a", shared); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	shared.Set("k", NewScalar("after"))

	n, _ := Lookup(root, "a.k")
	if s, ok := n.(*Scalar); !ok || s.Value != "before" {
		t.Errorf("stored subtree mutated through the original: %v", n)
	}
}

func TestSetValueOverwrite(t *testing.T) {
	root := NewObject()
	_ = SetValue(root, "status", NewScalar("draft"))
	_ = SetValue(root, "status", NewScalar("final"))

	n, _ := Lookup(root, "status")
	if s := n.(*Scalar); s.Value != "final" {
		t.Errorf("status = %v, want final", s.Value)
	}
	if root.Len() != 1 {
		t.Errorf("overwrite duplicated the key: %v", root.Keys())
	}
}

func TestMarshalPreservesInsertionOrder(t *testing.T) {
	root := NewObject()
	_ = SetValue(root, "resourceType", NewScalar("Patient"))
	_ = SetValue(root, "gender", NewScalar("female"))
	_ = SetValue(root, "birthDate", NewScalar("1990-01-01"))

	b, err := json.Marshal(root)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"resourceType":"Patient","gender":"female","birthDate":"1990-01-01"}`
	if string(b) != want {
		t.Errorf("marshal = %s, want %s", b, want)
	}
}

func TestApplyConstants(t *testing.T) {
	root := NewObject()
	err := ApplyConstants(root, map[string]any{
		"active":              true,
		"meta.profile[0]":     "http://hl7.org/fhir/StructureDefinition/Patient",
		"communication[0].preferred": false,
	})
	if err != nil {
		t.Fatalf("ApplyConstants: %v", err)
	}

	n, ok := Lookup(root, "meta.profile[0]")
	if !ok {
		t.Fatal("meta.profile[0] missing")
	}
	if s := n.(*Scalar); s.Value != "http://hl7.org/fhir/StructureDefinition/Patient" {
		t.Errorf("meta.profile[0] = %v", s.Value)
	}
	if n, _ := Lookup(root, "active"); n.(*Scalar).Value != true {
		t.Error("active constant not applied")
	}
}

func TestFromValueRoundTrip(t *testing.T) {
	in := map[string]any{
		"coding": []any{map[string]any{"code": "M"}},
		"text":   "Married",
	}
	n := FromValue(in)
	out, ok := AsValue(n).(map[string]any)
	if !ok {
		t.Fatalf("AsValue returned %T", AsValue(n))
	}
	if out["text"] != "Married" {
		t.Errorf("text = %v", out["text"])
	}
	coding, ok := out["coding"].([]any)
	if !ok || len(coding) != 1 {
		t.Fatalf("coding = %v", out["coding"])
	}
}
