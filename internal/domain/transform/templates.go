package transform

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ehr/extractor/internal/domain/document"
	"github.com/ehr/extractor/internal/domain/emr"
	"github.com/ehr/extractor/internal/domain/mapping"
)

func lower(s string) string { return strings.ToLower(s) }

// sortedKeys fixes iteration order over mapping-file maps so repeated runs
// of the same row build byte-identical resources.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// rowString reads one column, reporting false for missing or NULL values.
func rowString(row emr.Row, column string) (string, bool) {
	raw, ok := row[column]
	if !ok || raw == nil {
		return "", false
	}
	return stringify(raw), true
}

// indexIn extracts the n from a "key[n]" or "key[n].prop" expression.
func indexIn(key string) (int, error) {
	open := strings.IndexByte(key, '[')
	end := strings.IndexByte(key, ']')
	if open < 0 || end < open {
		return 0, fmt.Errorf("no index in %q", key)
	}
	return strconv.Atoi(key[open+1 : end])
}

func ensureObject(parent *document.Object, key string) (*document.Object, error) {
	if n, ok := parent.Get(key); ok {
		obj, isObj := n.(*document.Object)
		if !isObj {
			return nil, fmt.Errorf("%w: %q already holds a non-object", document.ErrTypeMismatch, key)
		}
		return obj, nil
	}
	obj := document.NewObject()
	parent.Set(key, obj)
	return obj, nil
}

func ensureArray(parent *document.Object, key string) (*document.Array, error) {
	if n, ok := parent.Get(key); ok {
		arr, isArr := n.(*document.Array)
		if !isArr {
			return nil, fmt.Errorf("%w: %q already holds a non-array", document.ErrTypeMismatch, key)
		}
		return arr, nil
	}
	arr := document.NewArray()
	parent.Set(key, arr)
	return arr, nil
}

func (t *Transformer) applyHumanName(fhir *document.Object, field mapping.FieldMapping, row emr.Row) error {
	name := document.NewObject()

	if fm := field.EMRFieldMap; fm != nil {
		if col, ok := fm["given"]; ok {
			if v, present := rowString(row, col); present {
				given := document.NewArray()
				given.Append(document.NewScalar(v))
				name.Set("given", given)
			}
		}
		if col, ok := fm["family"]; ok {
			if v, present := rowString(row, col); present {
				name.Set("family", document.NewScalar(v))
			}
		}
		if col, ok := fm["prefix"]; ok {
			if v, present := rowString(row, col); present {
				prefix := document.NewArray()
				prefix.Append(document.NewScalar(v))
				name.Set("prefix", prefix)
			}
		}
	}

	if use, ok := field.Defaults["use"]; ok {
		name.Set("use", document.NewScalar(stringify(use)))
	}

	return document.SetValue(fhir, field.FHIRPath, name)
}

func (t *Transformer) applyContactPoint(fhir *document.Object, field mapping.FieldMapping, row emr.Row) error {
	cp := document.NewObject()

	var value string
	if col, ok := field.EMRFieldMap["value"]; ok {
		value, _ = rowString(row, col)
	}

	var system string
	if sv, ok := field.Defaults["system"]; ok {
		system = lower(stringify(sv))
		cp.Set("system", document.NewScalar(system))
	}
	if uv, ok := field.Defaults["use"]; ok && uv != nil {
		cp.Set("use", document.NewScalar(lower(stringify(uv))))
	}

	if strings.TrimSpace(value) != "" {
		if system == "phone" {
			normalized := NormalizePhone(value, t.countryCode)
			t.log.Debug().Str("raw", value).Str("normalized", normalized).Msg("normalized phone number")
			value = normalized
		}
		cp.Set("value", document.NewScalar(value))
	}

	return document.SetValue(fhir, field.FHIRPath, cp)
}

func (t *Transformer) applyAddress(fhir *document.Object, field mapping.FieldMapping, row emr.Row) error {
	addr := document.NewObject()

	for _, key := range sortedKeys(field.EMRFieldMap) {
		v, present := rowString(row, field.EMRFieldMap[key])
		if !present {
			continue
		}
		if strings.HasPrefix(key, "line[") {
			line, err := ensureArray(addr, "line")
			if err != nil {
				return err
			}
			line.Append(document.NewScalar(v))
		} else {
			addr.Set(key, document.NewScalar(v))
		}
	}

	for _, key := range sortedKeys(field.Defaults) {
		value := field.Defaults[key]
		if lines, ok := value.([]any); ok && key == "line" {
			line, err := ensureArray(addr, "line")
			if err != nil {
				return err
			}
			for _, l := range lines {
				line.Append(document.NewScalar(stringify(l)))
			}
		} else {
			addr.Set(key, document.NewScalar(stringify(value)))
		}
	}

	return document.SetValue(fhir, field.FHIRPath, addr)
}

func (t *Transformer) applyCodeableConcept(fhir *document.Object, field mapping.FieldMapping, row emr.Row) error {
	if strings.TrimSpace(field.EMRField) == "" {
		t.log.Warn().Str("fhir_path", field.FHIRPath).Msg("codeableConcept mapping has no emrField")
		return nil
	}
	if field.ValueSet == nil {
		t.log.Warn().Str("fhir_path", field.FHIRPath).Msg("codeableConcept mapping has no valueSet")
		return nil
	}

	code, _ := rowString(row, field.EMRField)
	if strings.TrimSpace(code) == "" {
		return nil
	}

	display := code
	if d, ok := field.ValueSet.DisplayMap[code]; ok {
		display = d
	} else {
		t.log.Warn().Str("code", code).Str("fhir_path", field.FHIRPath).
			Msg("code missing from displayMap, falling back to the code itself")
	}

	coding := document.NewObject()
	coding.Set("system", document.NewScalar(field.ValueSet.System))
	coding.Set("code", document.NewScalar(code))
	coding.Set("display", document.NewScalar(display))

	codings := document.NewArray()
	codings.Append(coding)

	concept := document.NewObject()
	concept.Set("coding", codings)
	concept.Set("text", document.NewScalar(display))

	return document.SetValue(fhir, field.FHIRPath, concept)
}

// applyIdentifier appends one entry per populated priority alias to the
// resource's root identifier array, in priority order.
func (t *Transformer) applyIdentifier(fhir *document.Object, field mapping.FieldMapping, row emr.Row) error {
	identifiers, err := ensureArray(fhir, "identifier")
	if err != nil {
		return err
	}

	if field.EMRFieldPriority.Len() == 0 || field.IdentifierTypeMap == nil {
		t.log.Warn().Str("fhir_path", field.FHIRPath).
			Msg("identifier mapping needs both emrFieldPriority and identifierTypeMap")
		return nil
	}

	for _, entry := range field.EMRFieldPriority.Entries() {
		value, present := rowString(row, entry.Column)
		if !present || strings.TrimSpace(value) == "" {
			continue
		}

		ident := document.NewObject()
		ident.Set("value", document.NewScalar(value))

		if meta, ok := field.IdentifierTypeMap[entry.Column]; ok {
			coding := document.NewObject()
			if meta.System != "" {
				coding.Set("system", document.NewScalar(meta.System))
			}
			if meta.Code != "" {
				coding.Set("code", document.NewScalar(meta.Code))
			}
			if meta.Display != "" {
				coding.Set("display", document.NewScalar(meta.Display))
			}
			codings := document.NewArray()
			codings.Append(coding)

			typeObj := document.NewObject()
			typeObj.Set("coding", codings)
			if meta.Text != "" {
				typeObj.Set("text", document.NewScalar(meta.Text))
			}
			ident.Set("type", typeObj)
		} else {
			t.log.Warn().Str("alias", entry.Alias).Msg("no identifier type metadata for alias")
		}

		if use, ok := field.Defaults["use"]; ok {
			ident.Set("use", document.NewScalar(stringify(use)))
		}
		if system, ok := field.Defaults["system"]; ok {
			ident.Set("system", document.NewScalar(stringify(system)))
		}

		identifiers.Append(ident)
	}

	if identifiers.Len() == 0 {
		t.log.Warn().Str("fhir_path", field.FHIRPath).Msg("no identifiers populated for row")
	}
	return nil
}

// applyContact assembles a Patient.contact entry from composite keys in the
// field map: "name.family", "name.given[0]", "telecom[0].value",
// "address.city", "organization.reference", "relationship", "gender".
func (t *Transformer) applyContact(fhir *document.Object, field mapping.FieldMapping, row emr.Row) error {
	contact := document.NewObject()

	for _, key := range sortedKeys(field.EMRFieldMap) {
		value, present := rowString(row, field.EMRFieldMap[key])
		if !present {
			continue
		}
		if err := t.setContactField(contact, key, value); err != nil {
			return err
		}
	}

	for _, key := range sortedKeys(field.Defaults) {
		if err := setContactDefault(contact, key, field.Defaults[key]); err != nil {
			return err
		}
	}

	return document.SetValue(fhir, field.FHIRPath, contact)
}

func (t *Transformer) setContactField(contact *document.Object, key, value string) error {
	switch {
	case strings.HasPrefix(key, "telecom["):
		telecom, err := ensureArray(contact, "telecom")
		if err != nil {
			return err
		}
		idx, err := indexIn(key)
		if err != nil {
			return err
		}
		telecom.EnsureLen(idx + 1)
		entry, ok := telecom.At(idx).(*document.Object)
		if !ok {
			return fmt.Errorf("%w: telecom[%d] holds a non-object", document.ErrTypeMismatch, idx)
		}
		if strings.HasSuffix(key, ".value") {
			entry.Set("value", document.NewScalar(NormalizePhone(value, t.countryCode)))
		} else if dot := strings.LastIndexByte(key, '.'); dot >= 0 {
			entry.Set(key[dot+1:], document.NewScalar(value))
		}
		return nil

	case strings.HasPrefix(key, "address."):
		addr, err := ensureObject(contact, "address")
		if err != nil {
			return err
		}
		f := strings.TrimPrefix(key, "address.")
		if f == "line" {
			line, err := ensureArray(addr, "line")
			if err != nil {
				return err
			}
			line.Append(document.NewScalar(value))
		} else {
			addr.Set(f, document.NewScalar(value))
		}
		return nil

	case strings.HasPrefix(key, "name."):
		name, err := ensureObject(contact, "name")
		if err != nil {
			return err
		}
		f := strings.TrimPrefix(key, "name.")
		if strings.HasPrefix(f, "given[") {
			given, err := ensureArray(name, "given")
			if err != nil {
				return err
			}
			idx, err := indexIn(f)
			if err != nil {
				return err
			}
			given.SetAt(idx, document.NewScalar(value))
		} else {
			name.Set(f, document.NewScalar(value))
		}
		return nil

	case strings.HasPrefix(key, "organization."):
		org, err := ensureObject(contact, "organization")
		if err != nil {
			return err
		}
		org.Set(strings.TrimPrefix(key, "organization."), document.NewScalar(value))
		return nil

	case strings.EqualFold(key, "gender"):
		contact.Set(key, document.NewScalar(lower(value)))
		return nil

	default:
		contact.Set(key, document.NewScalar(value))
		return nil
	}
}

func setContactDefault(contact *document.Object, key string, value any) error {
	switch {
	case strings.HasPrefix(key, "telecom["):
		telecom, err := ensureArray(contact, "telecom")
		if err != nil {
			return err
		}
		idx, err := indexIn(key)
		if err != nil {
			return err
		}
		telecom.EnsureLen(idx + 1)
		entry, ok := telecom.At(idx).(*document.Object)
		if !ok {
			return fmt.Errorf("%w: telecom[%d] holds a non-object", document.ErrTypeMismatch, idx)
		}
		if dot := strings.IndexByte(key, '.'); dot >= 0 {
			entry.Set(key[dot+1:], document.NewScalar(stringify(value)))
		}
		return nil

	case strings.HasPrefix(key, "name."):
		name, err := ensureObject(contact, "name")
		if err != nil {
			return err
		}
		f := strings.TrimPrefix(key, "name.")
		if strings.HasPrefix(f, "given[") {
			given, err := ensureArray(name, "given")
			if err != nil {
				return err
			}
			idx, err := indexIn(f)
			if err != nil {
				return err
			}
			given.SetAt(idx, document.NewScalar(stringify(value)))
		} else {
			name.Set(f, document.NewScalar(stringify(value)))
		}
		return nil

	case strings.HasPrefix(key, "address."):
		addr, err := ensureObject(contact, "address")
		if err != nil {
			return err
		}
		f := strings.TrimPrefix(key, "address.")
		if lines, ok := value.([]any); ok && f == "line" {
			line, err := ensureArray(addr, "line")
			if err != nil {
				return err
			}
			for _, l := range lines {
				line.Append(document.NewScalar(stringify(l)))
			}
		} else {
			addr.Set(f, document.NewScalar(stringify(value)))
		}
		return nil

	case strings.EqualFold(key, "gender"):
		if s, ok := value.(string); ok {
			contact.Set(key, document.NewScalar(lower(s)))
			return nil
		}
		contact.Set(key, document.FromValue(value))
		return nil

	default:
		contact.Set(key, document.FromValue(value))
		return nil
	}
}

// applyReference writes a Reference object. Defaults win when present; a
// managingOrganization path with no defaults falls back to the configured
// facility organization.
func (t *Transformer) applyReference(fhir *document.Object, field mapping.FieldMapping) error {
	ref := document.NewObject()

	switch {
	case field.Defaults != nil:
		for _, key := range sortedKeys(field.Defaults) {
			ref.Set(lower(key), document.NewScalar(stringify(field.Defaults[key])))
		}
	case field.FHIRPath == "managingOrganization" && t.managingOrg.Reference != "":
		ref.Set("reference", document.NewScalar(t.managingOrg.Reference))
		if t.managingOrg.Display != "" {
			ref.Set("display", document.NewScalar(t.managingOrg.Display))
		}
	default:
		t.log.Warn().Str("fhir_path", field.FHIRPath).Msg("no reference value available")
		return nil
	}

	return document.SetValue(fhir, field.FHIRPath, ref)
}
