// Package emr reads source rows from the hospital EMR database.
package emr

// Row is one source record, keyed by column name. Column values keep the
// driver's native Go types; the transformer stringifies them as needed.
type Row map[string]any
