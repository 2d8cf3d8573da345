package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ongoingai/agenttrace/migrations"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists invocation telemetry in a local sqlite file.
type SQLiteStore struct {
	Path string
	db   *sql.DB
	// SQLite allows only one writer at a time; serialize writes to avoid
	// SQLITE_BUSY contention when callers write concurrently.
	writeMu sync.Mutex
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the database at path and
// applies the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path cannot be empty")
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory %q: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database %q: %w", path, err)
	}

	store := &SQLiteStore{Path: path, db: db}
	if err := store.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := migrations.Apply(context.Background(), db, migrations.DriverSQLite); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure sqlite schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) configure() error {
	if _, err := s.db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		return fmt.Errorf("enable sqlite wal mode: %w", err)
	}
	if _, err := s.db.Exec(`PRAGMA busy_timeout = 5000;`); err != nil {
		return fmt.Errorf("set sqlite busy timeout: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const invocationColumns = `
id, agent_name, agent_id, model, started_at, ended_at, duration_ms,
cycle_count, tool_call_count, error_count, stop_reason, status,
input_tokens, output_tokens, total_tokens, cache_read_tokens,
cache_write_tokens, latency_ms, time_to_first_token_ms, tree, created_at`

const invocationPlaceholders = `?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?`

// WriteInvocation persists one invocation record.
func (s *SQLiteStore) WriteInvocation(ctx context.Context, inv *InvocationRecord) error {
	if inv == nil {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	row := normalizeInvocation(inv)
	err := retrySQLiteBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO invocations (`+invocationColumns+`) VALUES (`+invocationPlaceholders+`)`,
			invocationArgs(row)...)
		return err
	})
	if err != nil {
		return fmt.Errorf("write invocation %q: %w", row.ID, err)
	}
	return nil
}

// WriteInvocationBatch persists several invocations in one transaction.
func (s *SQLiteStore) WriteInvocationBatch(ctx context.Context, invs []*InvocationRecord) error {
	if len(invs) == 0 {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return retrySQLiteBusy(ctx, func() error {
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
				`INSERT INTO invocations (`+invocationColumns+`) VALUES (`+invocationPlaceholders+`)`,
				invocationArgs(row)...); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("write invocation %q in batch: %w", row.ID, err)
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit invocation batch: %w", err)
		}
		return nil
	})
}

// WriteToolExecutions persists the finished tool calls of an invocation.
func (s *SQLiteStore) WriteToolExecutions(ctx context.Context, execs []*ToolExecutionRecord) error {
	if len(execs) == 0 {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return retrySQLiteBusy(ctx, func() error {
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
VALUES (?, ?, ?, ?, ?, ?, ?)`,
				row.ID, row.InvocationID, row.ToolName, row.ToolUseID, row.DurationMS, row.Success, row.CreatedAt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("write tool execution %q: %w", row.ID, err)
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit tool execution batch: %w", err)
		}
		return nil
	})
}

// GetInvocation fetches one invocation by id.
func (s *SQLiteStore) GetInvocation(ctx context.Context, id string) (*InvocationRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+invocationSelectColumns+` FROM invocations WHERE id = ?`, id)
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
func (s *SQLiteStore) QueryInvocations(ctx context.Context, filter InvocationFilter) (*InvocationResult, error) {
	where, args, err := buildInvocationWhere(filter, sqlitePlaceholder)
	if err != nil {
		return nil, err
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+invocationSelectColumns+` FROM invocations`+where+
			` ORDER BY created_at DESC, id DESC LIMIT ?`, args...)
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
func (s *SQLiteStore) GetUsageSummary(ctx context.Context, filter InvocationFilter) (*UsageSummary, error) {
	where, args, err := buildInvocationWhere(filter, sqlitePlaceholder)
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
func (s *SQLiteStore) GetToolStats(ctx context.Context, filter InvocationFilter) ([]ToolStatRecord, error) {
	where, args := buildToolExecutionWhere(filter, sqlitePlaceholder)

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

const (
	sqliteBusyMaxRetries     = 12
	sqliteBusyInitialBackoff = 5 * time.Millisecond
	sqliteBusyMaxBackoff     = 250 * time.Millisecond
)

// retrySQLiteBusy retries transient lock contention so queued records are
// not dropped during concurrent writes.
func retrySQLiteBusy(ctx context.Context, fn func() error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var timer *time.Timer
	stopTimer := func() {
		if timer == nil {
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}
	defer stopTimer()

	for retries := 0; ; retries++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !isSQLiteBusyError(err) || retries >= sqliteBusyMaxRetries {
			return err
		}

		wait := sqliteBusyInitialBackoff << retries
		if wait > sqliteBusyMaxBackoff {
			wait = sqliteBusyMaxBackoff
		}

		if timer == nil {
			timer = time.NewTimer(wait)
		} else {
			stopTimer()
			timer.Reset(wait)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func isSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "sqlite_busy") || strings.Contains(value, "database is locked")
}

const invocationSelectColumns = `
id, agent_name, agent_id, model, started_at, ended_at, duration_ms,
cycle_count, tool_call_count, error_count, stop_reason, status,
input_tokens, output_tokens, total_tokens, cache_read_tokens,
cache_write_tokens, latency_ms, time_to_first_token_ms, tree, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvocationRow(scanner rowScanner) (*InvocationRecord, error) {
	var item InvocationRecord
	var startedAtText, endedAtText, createdAtText sql.NullString
	err := scanner.Scan(
		&item.ID,
		&item.AgentName,
		&item.AgentID,
		&item.Model,
		&startedAtText,
		&endedAtText,
		&item.DurationMS,
		&item.CycleCount,
		&item.ToolCallCount,
		&item.ErrorCount,
		&item.StopReason,
		&item.Status,
		&item.InputTokens,
		&item.OutputTokens,
		&item.TotalTokens,
		&item.CacheReadTokens,
		&item.CacheWriteTokens,
		&item.LatencyMS,
		&item.TimeToFirstTokenMS,
		&item.Tree,
		&createdAtText,
	)
	if err != nil {
		return nil, err
	}
	if item.StartedAt, err = parseStoredTimestamp(startedAtText.String); err != nil {
		return nil, fmt.Errorf("parse started_at %q: %w", startedAtText.String, err)
	}
	if item.EndedAt, err = parseStoredTimestamp(endedAtText.String); err != nil {
		return nil, fmt.Errorf("parse ended_at %q: %w", endedAtText.String, err)
	}
	if item.CreatedAt, err = parseStoredTimestamp(createdAtText.String); err != nil {
		return nil, fmt.Errorf("parse created_at %q: %w", createdAtText.String, err)
	}
	return &item, nil
}

// parseStoredTimestamp accepts the datetime renderings the sqlite and
// postgres drivers produce for stored time.Time values.
func parseStoredTimestamp(raw string) (time.Time, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return time.Time{}, nil
	}

	withTZLayouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05-07:00",
		"2006-01-02 15:04:05 -0700 MST",
	}
	for _, layout := range withTZLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC(), nil
		}
	}

	withoutTZLayouts := []string{
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
	}
	for _, layout := range withoutTZLayouts {
		if parsed, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return parsed.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unsupported datetime format")
}

func invocationArgs(row *InvocationRecord) []any {
	return []any{
		row.ID,
		row.AgentName,
		row.AgentID,
		row.Model,
		row.StartedAt,
		row.EndedAt,
		row.DurationMS,
		row.CycleCount,
		row.ToolCallCount,
		row.ErrorCount,
		row.StopReason,
		row.Status,
		row.InputTokens,
		row.OutputTokens,
		row.TotalTokens,
		row.CacheReadTokens,
		row.CacheWriteTokens,
		row.LatencyMS,
		row.TimeToFirstTokenMS,
		row.Tree,
		row.CreatedAt,
	}
}

type placeholderFunc func(n int) string

func sqlitePlaceholder(int) string { return "?" }

func buildInvocationWhere(filter InvocationFilter, placeholder placeholderFunc) (string, []any, error) {
	var clauses []string
	var args []any
	next := func() string {
		return placeholder(len(args))
	}

	if filter.AgentName != "" {
		args = append(args, filter.AgentName)
		clauses = append(clauses, "agent_name = "+next())
	}
	if filter.AgentID != "" {
		args = append(args, filter.AgentID)
		clauses = append(clauses, "agent_id = "+next())
	}
	if filter.Model != "" {
		args = append(args, filter.Model)
		clauses = append(clauses, "model = "+next())
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		clauses = append(clauses, "status = "+next())
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From.UTC())
		clauses = append(clauses, "started_at >= "+next())
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To.UTC())
		clauses = append(clauses, "started_at <= "+next())
	}
	if filter.Cursor != "" {
		createdAt, id, err := decodeInvocationCursor(filter.Cursor)
		if err != nil {
			return "", nil, err
		}
		args = append(args, createdAt)
		first := next()
		args = append(args, createdAt)
		second := next()
		args = append(args, id)
		third := next()
		clauses = append(clauses, "(created_at < "+first+" OR (created_at = "+second+" AND id < "+third+"))")
	}

	if len(clauses) == 0 {
		return "", args, nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

func buildToolExecutionWhere(filter InvocationFilter, placeholder placeholderFunc) (string, []any) {
	var clauses []string
	var args []any
	next := func() string {
		return placeholder(len(args))
	}

	if !filter.From.IsZero() {
		args = append(args, filter.From.UTC())
		clauses = append(clauses, "created_at >= "+next())
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To.UTC())
		clauses = append(clauses, "created_at <= "+next())
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func encodeInvocationCursor(createdAt time.Time, id string) string {
	if createdAt.IsZero() || id == "" {
		return ""
	}
	raw := createdAt.UTC().Format(time.RFC3339Nano) + "|" + id
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeInvocationCursor(cursor string) (time.Time, string, error) {
	payload, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: decode base64 cursor", ErrInvalidCursor)
	}
	parts := strings.SplitN(string(payload), "|", 2)
	if len(parts) != 2 || strings.TrimSpace(parts[1]) == "" {
		return time.Time{}, "", fmt.Errorf("%w: missing id", ErrInvalidCursor)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(parts[0]))
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: parse created_at", ErrInvalidCursor)
	}
	return createdAt.UTC(), strings.TrimSpace(parts[1]), nil
}

func normalizeInvocation(in *InvocationRecord) *InvocationRecord {
	row := *in
	if row.ID == "" {
		row.ID = newRecordID()
	}
	if row.Status == "" {
		row.Status = StatusOK
	}
	if row.StartedAt.IsZero() {
		row.StartedAt = time.Now().UTC()
	}
	if row.EndedAt.IsZero() {
		row.EndedAt = row.StartedAt
	}
	if row.DurationMS == 0 {
		row.DurationMS = row.EndedAt.Sub(row.StartedAt).Milliseconds()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	row.StartedAt = row.StartedAt.UTC()
	row.EndedAt = row.EndedAt.UTC()
	row.CreatedAt = row.CreatedAt.UTC()
	return &row
}

func normalizeToolExecution(in *ToolExecutionRecord) *ToolExecutionRecord {
	row := *in
	if row.ID == "" {
		row.ID = newRecordID()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	row.CreatedAt = row.CreatedAt.UTC()
	return &row
}
