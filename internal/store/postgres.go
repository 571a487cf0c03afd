package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lib/pq"

	"github.com/worklogapp/feed-platform/pkg/postgres"
)

// Postgres implements Store on top of a PostgreSQL pool. Collection and
// field names are validated against the package allowlist; values are always
// bound through placeholders.
type Postgres struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgres creates a Postgres store backed by the given client.
func NewPostgres(client *postgres.Client) *Postgres {
	return &Postgres{
		db:     client.DB,
		logger: slog.Default().With("component", "postgres-store"),
	}
}

func (p *Postgres) Query(ctx context.Context, collection string, q Query) ([]Row, error) {
	if !ValidCollection(collection) {
		return nil, fmt.Errorf("unknown collection %q", collection)
	}
	where, args, err := buildWhere(collection, q.Filters, 1)
	if err != nil {
		return nil, err
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT * FROM %s", pq.QuoteIdentifier(collection))
	sb.WriteString(where)
	if q.OrderBy != "" {
		if !ValidField(collection, q.OrderBy) {
			return nil, fmt.Errorf("unknown order field %q on %s", q.OrderBy, collection)
		}
		dir := "ASC"
		if q.Desc {
			dir = "DESC"
		}
		fmt.Fprintf(&sb, " ORDER BY %s %s", pq.QuoteIdentifier(q.OrderBy), dir)
	}
	if q.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", q.Limit)
	}

	rows, err := p.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", collection, err)
	}
	defer rows.Close()
	return scanRows(rows, collection)
}

func (p *Postgres) Count(ctx context.Context, collection string, filters []Filter) (int64, error) {
	if !ValidCollection(collection) {
		return 0, fmt.Errorf("unknown collection %q", collection)
	}
	where, args, err := buildWhere(collection, filters, 1)
	if err != nil {
		return 0, err
	}
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", pq.QuoteIdentifier(collection), where)
	var count int64
	if err := p.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting %s: %w", collection, err)
	}
	return count, nil
}

func (p *Postgres) GroupCount(ctx context.Context, collection string, filters []Filter, groupField string) (map[string]int64, error) {
	if !ValidCollection(collection) {
		return nil, fmt.Errorf("unknown collection %q", collection)
	}
	if !ValidField(collection, groupField) {
		return nil, fmt.Errorf("unknown group field %q on %s", groupField, collection)
	}
	where, args, err := buildWhere(collection, filters, 1)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(
		"SELECT %s, COUNT(*) FROM %s%s GROUP BY %s",
		pq.QuoteIdentifier(groupField), pq.QuoteIdentifier(collection), where, pq.QuoteIdentifier(groupField),
	)
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("group-counting %s: %w", collection, err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return nil, fmt.Errorf("scanning group count for %s: %w", collection, err)
		}
		counts[key] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating group counts for %s: %w", collection, err)
	}
	return counts, nil
}

func (p *Postgres) Insert(ctx context.Context, collection string, record Row) (Row, error) {
	if !ValidCollection(collection) {
		return nil, fmt.Errorf("unknown collection %q", collection)
	}
	fields := make([]string, 0, len(record))
	placeholders := make([]string, 0, len(record))
	args := make([]any, 0, len(record))
	i := 1
	for field, value := range record {
		if !ValidField(collection, field) {
			return nil, fmt.Errorf("unknown field %q on %s", field, collection)
		}
		fields = append(fields, pq.QuoteIdentifier(field))
		placeholders = append(placeholders, fmt.Sprintf("$%d", i))
		args = append(args, value)
		i++
	}
	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) RETURNING *",
		pq.QuoteIdentifier(collection),
		strings.Join(fields, ", "),
		strings.Join(placeholders, ", "),
	)
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("inserting into %s: %w", collection, err)
	}
	defer rows.Close()
	inserted, err := scanRows(rows, collection)
	if err != nil {
		return nil, err
	}
	if len(inserted) == 0 {
		return nil, fmt.Errorf("inserting into %s: no row returned", collection)
	}
	return inserted[0], nil
}

func (p *Postgres) Update(ctx context.Context, collection string, filters []Filter, patch Row) error {
	if !ValidCollection(collection) {
		return fmt.Errorf("unknown collection %q", collection)
	}
	if len(patch) == 0 {
		return fmt.Errorf("updating %s: empty patch", collection)
	}
	sets := make([]string, 0, len(patch))
	args := make([]any, 0, len(patch))
	i := 1
	for field, value := range patch {
		if !ValidField(collection, field) {
			return fmt.Errorf("unknown field %q on %s", field, collection)
		}
		sets = append(sets, fmt.Sprintf("%s = $%d", pq.QuoteIdentifier(field), i))
		args = append(args, value)
		i++
	}
	where, whereArgs, err := buildWhere(collection, filters, i)
	if err != nil {
		return err
	}
	args = append(args, whereArgs...)
	query := fmt.Sprintf("UPDATE %s SET %s%s", pq.QuoteIdentifier(collection), strings.Join(sets, ", "), where)
	if _, err := p.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("updating %s: %w", collection, err)
	}
	return nil
}

func (p *Postgres) Delete(ctx context.Context, collection string, filters []Filter) error {
	if !ValidCollection(collection) {
		return fmt.Errorf("unknown collection %q", collection)
	}
	if len(filters) == 0 {
		return fmt.Errorf("deleting from %s: refusing unfiltered delete", collection)
	}
	where, args, err := buildWhere(collection, filters, 1)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("DELETE FROM %s%s", pq.QuoteIdentifier(collection), where)
	if _, err := p.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("deleting from %s: %w", collection, err)
	}
	return nil
}

// buildWhere renders filters into a WHERE clause with placeholders starting
// at $start. It returns "" when filters is empty.
func buildWhere(collection string, filters []Filter, start int) (string, []any, error) {
	if len(filters) == 0 {
		return "", nil, nil
	}
	clauses := make([]string, 0, len(filters))
	args := make([]any, 0, len(filters))
	n := start
	for _, f := range filters {
		if !ValidField(collection, f.Field) {
			return "", nil, fmt.Errorf("unknown field %q on %s", f.Field, collection)
		}
		ident := pq.QuoteIdentifier(f.Field)
		switch f.Op {
		case OpEq:
			clauses = append(clauses, fmt.Sprintf("%s = $%d", ident, n))
			args = append(args, f.Value)
			n++
		case OpIn:
			vals, ok := f.Value.([]string)
			if !ok {
				return "", nil, fmt.Errorf("in-filter on %s.%s requires []string", collection, f.Field)
			}
			clauses = append(clauses, fmt.Sprintf("%s = ANY($%d)", ident, n))
			args = append(args, pq.Array(vals))
			n++
		case OpLt:
			clauses = append(clauses, fmt.Sprintf("%s < $%d", ident, n))
			args = append(args, f.Value)
			n++
		case OpGte:
			clauses = append(clauses, fmt.Sprintf("%s >= $%d", ident, n))
			args = append(args, f.Value)
			n++
		case OpIsNull:
			clauses = append(clauses, fmt.Sprintf("%s IS NULL", ident))
		case OpNotNull:
			clauses = append(clauses, fmt.Sprintf("%s IS NOT NULL", ident))
		default:
			return "", nil, fmt.Errorf("unsupported filter op %d", f.Op)
		}
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

// scanRows converts a generic result set into Rows, normalising []byte
// columns to string.
func scanRows(rows *sql.Rows, collection string) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading columns for %s: %w", collection, err)
	}
	var out []Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning %s row: %w", collection, err)
		}
		row := make(Row, len(cols))
		for i, col := range cols {
			switch v := values[i].(type) {
			case []byte:
				row[col] = string(v)
			default:
				row[col] = v
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s rows: %w", collection, err)
	}
	return out, nil
}
