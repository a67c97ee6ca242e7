package store

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// PostgresStore implements Store over database/sql (pgx stdlib driver).
// Statements are generated, so table and column names are restricted to a
// conservative identifier set; values always go through placeholders.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

func checkIdent(name string) error {
	if !identRe.MatchString(name) {
		return fmt.Errorf("store: invalid identifier %q", name)
	}
	return nil
}

// sortedKeys gives deterministic statement text for a map of columns.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *PostgresStore) Insert(ctx context.Context, table string, rec Record) (Record, error) {
	if err := checkIdent(table); err != nil {
		return nil, err
	}
	if len(rec) == 0 {
		return nil, fmt.Errorf("store: insert into %s with no columns", table)
	}

	cols := sortedKeys(rec)
	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		if err := checkIdent(c); err != nil {
			return nil, err
		}
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = rec[c]
	}

	q := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) RETURNING *",
		table, strings.Join(cols, ", "), strings.Join(placeholders, ", "),
	)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: insert %s: %w", table, err)
	}
	defer rows.Close()

	out, err := scanRecords(rows)
	if err != nil {
		return nil, fmt.Errorf("store: insert %s: %w", table, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("store: insert %s: %w", table, ErrNoRows)
	}
	return out[0], nil
}

func (s *PostgresStore) Update(ctx context.Context, table string, patch Record, filter Filter) ([]Record, error) {
	if err := checkIdent(table); err != nil {
		return nil, err
	}
	if len(patch) == 0 {
		return nil, fmt.Errorf("store: update %s with empty patch", table)
	}

	var (
		sets []string
		args []any
	)
	for _, c := range sortedKeys(patch) {
		if err := checkIdent(c); err != nil {
			return nil, err
		}
		args = append(args, patch[c])
		sets = append(sets, fmt.Sprintf("%s = $%d", c, len(args)))
	}

	where, args, err := buildWhere(filter, args)
	if err != nil {
		return nil, err
	}

	q := fmt.Sprintf("UPDATE %s SET %s%s RETURNING *", table, strings.Join(sets, ", "), where)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: update %s: %w", table, err)
	}
	defer rows.Close()

	out, err := scanRecords(rows)
	if err != nil {
		return nil, fmt.Errorf("store: update %s: %w", table, err)
	}
	return out, nil
}

func (s *PostgresStore) Select(ctx context.Context, table string, filter Filter) ([]Record, error) {
	if err := checkIdent(table); err != nil {
		return nil, err
	}

	where, args, err := buildWhere(filter, nil)
	if err != nil {
		return nil, err
	}

	q := fmt.Sprintf("SELECT * FROM %s%s", table, where)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: select %s: %w", table, err)
	}
	defer rows.Close()

	out, err := scanRecords(rows)
	if err != nil {
		return nil, fmt.Errorf("store: select %s: %w", table, err)
	}
	return out, nil
}

func buildWhere(filter Filter, args []any) (string, []any, error) {
	if len(filter) == 0 {
		return "", args, nil
	}
	var conds []string
	for _, c := range sortedKeys(filter) {
		if err := checkIdent(c); err != nil {
			return "", nil, err
		}
		args = append(args, filter[c])
		conds = append(conds, fmt.Sprintf("%s = $%d", c, len(args)))
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []Record
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rec := make(Record, len(cols))
		for i, c := range cols {
			switch v := vals[i].(type) {
			case []byte:
				rec[c] = string(v)
			default:
				rec[c] = v
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
