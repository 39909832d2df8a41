package pg

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/krew-solutions/mql-go/mql/filter"
	"github.com/krew-solutions/mql-go/mql/schema"
)

// Finder compiles filter documents and executes them against Postgres.
type Finder struct {
	pool     *pgxpool.Pool
	registry *schema.Registry
	mapping  *Mapping
	compiler *Compiler
	logger   *slog.Logger
}

type FinderOption func(*Finder)

func WithLogger(logger *slog.Logger) FinderOption {
	return func(f *Finder) {
		f.logger = logger
	}
}

func NewFinder(pool *pgxpool.Pool, registry *schema.Registry, mapping *Mapping, opts ...FinderOption) *Finder {
	f := &Finder{
		pool:     pool,
		registry: registry,
		mapping:  mapping,
		compiler: NewCompiler(mapping),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	return f
}

// Find compiles the filter document for the model and returns the matching
// rows as maps keyed by column name.
func (f *Finder) Find(ctx context.Context, model string, filters map[string]any, opts filter.Options) ([]map[string]any, error) {
	sql, params, err := f.buildQuery(model, filters, opts, "*")
	if err != nil {
		return nil, err
	}

	rows, err := f.pool.Query(ctx, sql, params...)
	if err != nil {
		return nil, errors.Wrap(err, "execute filter query")
	}
	defer rows.Close()

	var result []map[string]any
	fields := rows.FieldDescriptions()
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, errors.Wrap(err, "read filter query row")
		}
		row := make(map[string]any, len(fields))
		for i, fd := range fields {
			row[fd.Name] = values[i]
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate filter query rows")
	}
	return result, nil
}

// Count returns how many rows match the filter document.
func (f *Finder) Count(ctx context.Context, model string, filters map[string]any, opts filter.Options) (int64, error) {
	sql, params, err := f.buildQuery(model, filters, opts, "COUNT(*)")
	if err != nil {
		return 0, err
	}
	var count int64
	if err := f.pool.QueryRow(ctx, sql, params...).Scan(&count); err != nil {
		return 0, errors.Wrap(err, "execute filter count query")
	}
	return count, nil
}

func (f *Finder) buildQuery(model string, filters map[string]any, opts filter.Options, projection string) (string, []any, error) {
	node, err := filter.Compile(f.registry, model, filters, opts)
	if err != nil {
		return "", nil, err
	}
	t, ok := f.mapping.lookup(model)
	if !ok {
		return "", nil, errors.Errorf("no table mapping for model %q", model)
	}

	sql := "SELECT " + projection + " FROM " + t.Table()
	if t.Ref() != t.Table() {
		sql += " " + t.Ref()
	}
	where, params, err := f.compiler.Where(model, node)
	if err != nil {
		return "", nil, err
	}
	if where != "" {
		sql += " WHERE " + where
	}
	f.logger.Debug("compiled filter query", "model", model, "sql", sql, "params", len(params))
	return sql, params, nil
}
