package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ongoingai/agenttrace/migrations"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore persists invocation telemetry in PostgreSQL for deployments
// where several processes share one history.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects with the given DSN and applies the schema.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn cannot be empty")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres database: %w", err)
	}

	if err := migrations.Apply(ctx, db, migrations.DriverPostgres); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure postgres schema: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func postgresPlaceholder(n int) string { return "$" + strconv.Itoa(n+1) }

func postgresInvocationPlaceholders() string {
	out := ""
	for i := 0; i < 21; i++ {
		if i > 0 {
			out += ", "
		}
		out += postgresPlaceholder(i)
	}
	return out
}

// WriteInvocation persists one invocation record.
func (s *PostgresStore) WriteInvocation(ctx context.Context, inv *InvocationRecord) error {
	if inv == nil {
		return nil
	}
	row := normalizeInvocation(inv)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO invocations (`+invocationColumns+`) VALUES (`+postgresInvocationPlaceholders()+`)`,
		invocationArgs(row)...)
	if err != nil {
		return fmt.Errorf("write invocation %q: %w", row.ID, err)
	}
	return nil
}

// WriteInvocationBatch persists several invocations in one transaction.
func (s *PostgresStore) WriteInvocationBatch(ctx context.Context, invs []*InvocationRecord) error {
	if len(invs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin invocation batch: %w", err)
	}
	for _, inv := range invs {
		if inv == nil {
			continue
		}
		row := normalizeInvocation(inv)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO invocations (`+invocationColumns+`) VALUES (`+postgresInvocationPlaceholders()+`)`,
			invocationArgs(row)...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("write invocation %q in batch: %w", row.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit invocation batch: %w", err)
	}
	return nil
}

// WriteToolExecutions persists the finished tool calls of an invocation.
func (s *PostgresStore) WriteToolExecutions(ctx context.Context, execs []*ToolExecutionRecord) error {
	if len(execs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tool execution batch: %w", err)
	}
	for _, exec := range execs {
		if exec == nil {
			continue
		}
		row := normalizeToolExecution(exec)
		if _, err := tx.ExecContext(ctx, `
INSERT INTO tool_executions (id, invocation_id, tool_name, tool_use_id, duration_ms, success, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			row.ID, row.InvocationID, row.ToolName, row.ToolUseID, row.DurationMS, row.Success, row.CreatedAt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("write tool execution %q: %w", row.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tool execution batch: %w", err)
	}
	return nil
}

// GetInvocation fetches one invocation by id.
func (s *PostgresStore) GetInvocation(ctx context.Context, id string) (*InvocationRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+invocationSelectColumns+` FROM invocations WHERE id = $1`, id)
	item, err := scanInvocationRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get invocation %q: %w", id, err)
	}
	return item, nil
}

// QueryInvocations returns a page of invocations newest-first with cursor
// pagination.
func (s *PostgresStore) QueryInvocations(ctx context.Context, filter InvocationFilter) (*InvocationResult, error) {
	where, args, err := buildInvocationWhere(filter, postgresPlaceholder)
	if err != nil {
		return nil, err
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit+1)
	limitPlaceholder := postgresPlaceholder(len(args) - 1)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+invocationSelectColumns+` FROM invocations`+where+
			` ORDER BY created_at DESC, id DESC LIMIT `+limitPlaceholder, args...)
	if err != nil {
		return nil, fmt.Errorf("query invocations: %w", err)
	}
	defer rows.Close()

	result := &InvocationResult{}
	for rows.Next() {
		item, err := scanInvocationRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invocation row: %w", err)
		}
		result.Items = append(result.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invocation rows: %w", err)
	}

	if len(result.Items) > limit {
		result.Items = result.Items[:limit]
		last := result.Items[len(result.Items)-1]
		result.NextCursor = encodeInvocationCursor(last.CreatedAt, last.ID)
	}
	return result, nil
}

// GetUsageSummary aggregates token totals over the filtered invocations.
func (s *PostgresStore) GetUsageSummary(ctx context.Context, filter InvocationFilter) (*UsageSummary, error) {
	where, args, err := buildInvocationWhere(filter, postgresPlaceholder)
	if err != nil {
		return nil, err
	}

	summary := &UsageSummary{}
	err = s.db.QueryRowContext(ctx, `
SELECT COUNT(*),
       COALESCE(SUM(cycle_count), 0),
       COALESCE(SUM(input_tokens), 0),
       COALESCE(SUM(output_tokens), 0),
       COALESCE(SUM(total_tokens), 0)
FROM invocations`+where, args...).Scan(
		&summary.InvocationCount,
		&summary.TotalCycles,
		&summary.TotalInputTokens,
		&summary.TotalOutputTokens,
		&summary.TotalTokens,
	)
	if err != nil {
		return nil, fmt.Errorf("get usage summary: %w", err)
	}
	return summary, nil
}

// GetToolStats aggregates tool executions per tool name, most-called first.
func (s *PostgresStore) GetToolStats(ctx context.Context, filter InvocationFilter) ([]ToolStatRecord, error) {
	where, args := buildToolExecutionWhere(filter, postgresPlaceholder)

	rows, err := s.db.QueryContext(ctx, `
SELECT tool_name,
       COUNT(*),
       COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0),
       COALESCE(SUM(CASE WHEN success THEN 0 ELSE 1 END), 0),
       COALESCE(SUM(duration_ms), 0)
FROM tool_executions`+where+`
GROUP BY tool_name
ORDER BY COUNT(*) DESC, tool_name ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("query tool stats: %w", err)
	}
	defer rows.Close()

	var stats []ToolStatRecord
	for rows.Next() {
		var record ToolStatRecord
		if err := rows.Scan(&record.ToolName, &record.CallCount, &record.SuccessCount, &record.ErrorCount, &record.TotalTimeMS); err != nil {
			return nil, fmt.Errorf("scan tool stat row: %w", err)
		}
		stats = append(stats, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tool stat rows: %w", err)
	}
	return stats, nil
}
