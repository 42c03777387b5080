package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hive-corporation/ctiwatch/internal/core/domain"
	"github.com/hive-corporation/ctiwatch/internal/core/ports"
)

type PostgresRepository struct {
	db *pgxpool.Pool
}

var _ ports.IOCStore = (*PostgresRepository)(nil)

func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS iocs (
	id           TEXT PRIMARY KEY,
	value        TEXT NOT NULL,
	type         TEXT NOT NULL,
	source       TEXT NOT NULL,
	ingested_at  TIMESTAMPTZ NOT NULL,
	tags         TEXT[] NOT NULL DEFAULT '{}',
	attributes   JSONB NOT NULL DEFAULT '{}',
	threat_level TEXT NOT NULL DEFAULT '',
	UNIQUE (value, source)
);
CREATE INDEX IF NOT EXISTS iocs_ingested_at_idx ON iocs (ingested_at DESC);
CREATE INDEX IF NOT EXISTS iocs_type_idx ON iocs (type);
CREATE INDEX IF NOT EXISTS iocs_tags_idx ON iocs USING GIN (tags);
`

// EnsureSchema creates the iocs table and its indexes if they are missing.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

const selectColumns = `SELECT id, value, type, source, ingested_at, tags, attributes, threat_level FROM iocs`

func scanIOC(row pgx.Row) (*domain.IOC, error) {
	var (
		ioc         domain.IOC
		iocType     string
		threatLevel string
		attrs       []byte
	)
	err := row.Scan(
		&ioc.ID,
		&ioc.Value,
		&iocType,
		&ioc.Source,
		&ioc.Timestamp,
		&ioc.Tags,
		&attrs,
		&threatLevel,
	)
	if err != nil {
		return nil, err
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &ioc.Attributes); err != nil {
			return nil, fmt.Errorf("failed to decode attributes: %w", err)
		}
	}
	if ioc.Tags == nil {
		ioc.Tags = []string{}
	}
	ioc.Type = domain.IOCType(iocType)
	ioc.ThreatLevel = domain.ThreatLevel(threatLevel)
	ioc.Timestamp = ioc.Timestamp.UTC()
	return &ioc, nil
}

func (r *PostgresRepository) findOne(ctx context.Context, where string, args ...any) (*domain.IOC, error) {
	ioc, err := scanIOC(r.db.QueryRow(ctx, selectColumns+" WHERE "+where+" LIMIT 1", args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query IOC: %w", err)
	}
	return ioc, nil
}

func (r *PostgresRepository) FindByKey(ctx context.Context, key domain.Key) (*domain.IOC, error) {
	return r.findOne(ctx, "value = $1 AND source = $2", key.Value, key.Source)
}

func (r *PostgresRepository) FindByID(ctx context.Context, id string) (*domain.IOC, error) {
	return r.findOne(ctx, "id = $1", id)
}

// Insert relies on the (value, source) constraint: a concurrent writer that
// lost the race gets ErrDuplicate rather than a second row.
func (r *PostgresRepository) Insert(ctx context.Context, ioc domain.IOC) error {
	attrs, err := json.Marshal(ioc.Attributes)
	if err != nil {
		return fmt.Errorf("failed to encode attributes: %w", err)
	}
	tags := ioc.Tags
	if tags == nil {
		tags = []string{}
	}

	tag, err := r.db.Exec(ctx, `
		INSERT INTO iocs (id, value, type, source, ingested_at, tags, attributes, threat_level)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (value, source) DO NOTHING
	`,
		ioc.ID,
		ioc.Value,
		string(ioc.Type),
		ioc.Source,
		ioc.Timestamp,
		tags,
		attrs,
		string(ioc.ThreatLevel),
	)
	if err != nil {
		return fmt.Errorf("failed to insert IOC: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDuplicate
	}
	return nil
}

func whereClause(f ports.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.Type != "" {
		add("type = $%d", string(f.Type))
	}
	if f.Source != "" {
		add("source = $%d", f.Source)
	}
	if f.Tag != "" {
		add("$%d = ANY(tags)", f.Tag)
	}
	if f.ValueContains != "" {
		// strpos keeps user input out of LIKE pattern syntax
		add("strpos(lower(value), lower($%d)) > 0", f.ValueContains)
	}
	if !f.Since.IsZero() {
		add("ingested_at >= $%d", f.Since)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *PostgresRepository) Find(ctx context.Context, filter ports.Filter, page ports.Page) ([]domain.IOC, error) {
	where, args := whereClause(filter)
	query := selectColumns + where + " ORDER BY ingested_at DESC, id"
	if page.Limit > 0 {
		args = append(args, page.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if page.Skip > 0 {
		args = append(args, page.Skip)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query IOCs: %w", err)
	}
	defer rows.Close()

	iocs := []domain.IOC{}
	for rows.Next() {
		ioc, err := scanIOC(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan IOC: %w", err)
		}
		iocs = append(iocs, *ioc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return iocs, nil
}

func (r *PostgresRepository) Count(ctx context.Context, filter ports.Filter) (int, error) {
	where, args := whereClause(filter)
	var n int
	if err := r.db.QueryRow(ctx, "SELECT count(*) FROM iocs"+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count IOCs: %w", err)
	}
	return n, nil
}

func groupColumn(field ports.GroupField) (string, error) {
	switch field {
	case ports.GroupByType:
		return "type", nil
	case ports.GroupBySource:
		return "source", nil
	case ports.GroupByThreatLevel:
		return "threat_level", nil
	default:
		return "", fmt.Errorf("unknown group field %q", field)
	}
}

func (r *PostgresRepository) CountBy(ctx context.Context, field ports.GroupField) ([]ports.GroupCount, error) {
	col, err := groupColumn(field)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.Query(ctx, fmt.Sprintf(
		`SELECT %[1]s, count(*) AS n FROM iocs WHERE %[1]s <> '' GROUP BY %[1]s ORDER BY n DESC, %[1]s`, col))
	if err != nil {
		return nil, fmt.Errorf("failed to group IOCs by %s: %w", col, err)
	}
	defer rows.Close()

	out := []ports.GroupCount{}
	for rows.Next() {
		var gc ports.GroupCount
		if err := rows.Scan(&gc.Key, &gc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		out = append(out, gc)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) CountByDateAndType(ctx context.Context, from, to time.Time) ([]ports.DateTypeCount, error) {
	rows, err := r.db.Query(ctx, `
		SELECT to_char(ingested_at AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day, type, count(*)
		FROM iocs
		WHERE ingested_at >= $1 AND ingested_at <= $2
		GROUP BY day, type
		ORDER BY day, type
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query trends: %w", err)
	}
	defer rows.Close()

	out := []ports.DateTypeCount{}
	for rows.Next() {
		var (
			dc      ports.DateTypeCount
			iocType string
		)
		if err := rows.Scan(&dc.Date, &iocType, &dc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan trend: %w", err)
		}
		dc.Type = domain.IOCType(iocType)
		out = append(out, dc)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Distinct(ctx context.Context, field ports.GroupField) ([]string, error) {
	col, err := groupColumn(field)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.Query(ctx, fmt.Sprintf(`SELECT DISTINCT %[1]s FROM iocs WHERE %[1]s <> '' ORDER BY %[1]s`, col))
	if err != nil {
		return nil, fmt.Errorf("failed to list distinct %s: %w", col, err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) UpdateTags(ctx context.Context, id, tag string, op ports.TagOp) (bool, error) {
	query := `UPDATE iocs SET tags = CASE WHEN $2 = ANY(tags) THEN tags ELSE array_append(tags, $2) END WHERE id = $1`
	if op == ports.TagRemove {
		query = `UPDATE iocs SET tags = array_remove(tags, $2) WHERE id = $1`
	}

	ct, err := r.db.Exec(ctx, query, id, tag)
	if err != nil {
		return false, fmt.Errorf("failed to update tags: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

func (r *PostgresRepository) SetThreatLevel(ctx context.Context, id string, level domain.ThreatLevel) (bool, error) {
	ct, err := r.db.Exec(ctx, `UPDATE iocs SET threat_level = $2 WHERE id = $1`, id, string(level))
	if err != nil {
		return false, fmt.Errorf("failed to set threat level: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func (r *PostgresRepository) Close() error {
	r.db.Close()
	return nil
}
