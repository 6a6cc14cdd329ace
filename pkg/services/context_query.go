package services

import (
	"context"
	"fmt"
	"strings"
)

// ContextRow is one row returned by a context-template query, keyed by
// column name with values rendered as strings. NULL columns are omitted.
type ContextRow map[string]string

// queryableTables whitelists the tables context-template sections may query,
// with the columns allowed as filters and in results. Filters outside the
// whitelist are rejected rather than interpolated.
var queryableTables = map[string][]string{
	"decisions":    {"pipeline_run_id", "phase", "category", "key", "value", "rationale"},
	"requirements": {"pipeline_run_id", "phase", "category", "description", "priority"},
	"constraints":  {"pipeline_run_id", "phase", "rule_id", "severity", "description"},
	"artifacts":    {"pipeline_run_id", "phase", "type", "path", "content_hash"},
}

// QueryContextRows executes a whitelisted context query: filters are AND-ed,
// list values become IN clauses, and rows come back in creation order.
// Queries against the decisions table implicitly exclude superseded rows.
func (s *DecisionService) QueryContextRows(ctx context.Context, table string, filters map[string]any) ([]ContextRow, error) {
	columns, ok := queryableTables[table]
	if !ok {
		return nil, NewValidationError("table", fmt.Sprintf("table %q is not queryable", table))
	}

	allowed := make(map[string]bool, len(columns))
	for _, c := range columns {
		allowed[c] = true
	}

	var conds []string
	var args []any
	for col, val := range filters {
		if !allowed[col] {
			return nil, NewValidationError("filter", fmt.Sprintf("column %q is not filterable on %s", col, table))
		}
		switch v := val.(type) {
		case []string:
			if len(v) == 0 {
				continue
			}
			placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(v)), ", ")
			conds = append(conds, fmt.Sprintf("%s IN (%s)", col, placeholders))
			for _, item := range v {
				args = append(args, item)
			}
		default:
			conds = append(conds, fmt.Sprintf("%s = ?", col))
			args = append(args, fmt.Sprintf("%v", v))
		}
	}
	if table == "decisions" {
		conds = append(conds, "superseded_by IS NULL")
	}

	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(columns, ", "), table)
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at ASC, rowid ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("context query on %s failed: %w", table, err)
	}
	defer rows.Close()

	var result []ContextRow
	for rows.Next() {
		dest := make([]any, len(columns))
		for i := range dest {
			var v *string
			dest[i] = &v
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan context row: %w", err)
		}
		row := ContextRow{}
		for i, col := range columns {
			if v := *dest[i].(**string); v != nil {
				row[col] = *v
			}
		}
		result = append(result, row)
	}
	return result, rows.Err()
}
