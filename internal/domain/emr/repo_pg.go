package emr

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/extractor/internal/domain/mapping"
)

// Table and column names come from mapping files, not user input, but they
// are still interpolated into SQL and must stay plain identifiers.
var identPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

type repoPG struct {
	pool *pgxpool.Pool
}

// NewRepo returns a RowSource backed by the EMR database. Rows already
// processed are filtered out later against the tracking ledger, which lives
// in a separate database; here only the EMR's own extracted flag applies.
func NewRepo(pool *pgxpool.Pool) RowSource {
	return &repoPG{pool: pool}
}

func (r *repoPG) Extract(ctx context.Context, def *mapping.Definition) ([]Row, error) {
	table, _, updCol, err := identifiers(def)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT * FROM %s WHERE extracted_flag = 'N' ORDER BY %s`, table, updCol)

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("extract from %s: %w", table, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read row from %s: %w", table, err)
		}
		row := make(Row, len(fields))
		for i, fd := range fields {
			row[string(fd.Name)] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *repoPG) CountPending(ctx context.Context, def *mapping.Definition) (int, error) {
	table, _, _, err := identifiers(def)
	if err != nil {
		return 0, err
	}

	var count int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE extracted_flag = 'N'`, table)
	if err := r.pool.QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("count pending in %s: %w", table, err)
	}
	return count, nil
}

func identifiers(def *mapping.Definition) (table, idCol, updCol string, err error) {
	for _, ident := range []string{def.SourceTable, def.SourceIDColumn, def.LastUpdatedColumn} {
		if !identPattern.MatchString(ident) {
			return "", "", "", fmt.Errorf("unsafe identifier %q in mapping for %s", ident, def.ResourceType)
		}
	}
	return def.SourceTable, def.SourceIDColumn, def.LastUpdatedColumn, nil
}
