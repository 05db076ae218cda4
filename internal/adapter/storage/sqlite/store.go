// Package sqlite persists gateway state in a single SQLite database:
// providers, their model endpoints, per-pool scheduling configuration
// and the request log. One writer connection keeps SQLite happy under
// concurrent callers.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/poolgate/poolgate/internal/core/domain"
	"github.com/poolgate/poolgate/internal/core/ports"
)

const timeLayout = "2006-01-02 15:04:05"

// Defaults seeds pool rows the first time a pool is observed.
type Defaults struct {
	VirtualModels   domain.VirtualModels
	CooldownSeconds int
	MaxRetries      int
	TimeoutSeconds  int
}

type Store struct {
	db       *sql.DB
	logger   *slog.Logger
	defaults Defaults
}

var _ ports.Store = (*Store)(nil)

// New opens (creating if needed) the database at the given DSN and
// applies the schema. Accepted DSN forms: "sqlite:///abs/path",
// "sqlite://rel/path", "file:path" and a bare filesystem path.
func New(dsn string, defaults Defaults, logger *slog.Logger) (*Store, error) {
	path := normaliseDSN(dsn)
	if dir := filepath.Dir(path); dir != "." && !strings.HasPrefix(path, "file:") && path != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{
		db:       db,
		logger:   logger.With("component", "sqlite_store"),
		defaults: defaults,
	}, nil
}

func normaliseDSN(dsn string) string {
	switch {
	case strings.HasPrefix(dsn, "sqlite:///"):
		return "/" + strings.TrimPrefix(dsn, "sqlite:///")
	case strings.HasPrefix(dsn, "sqlite://"):
		return strings.TrimPrefix(dsn, "sqlite://")
	case strings.HasPrefix(dsn, "sqlite:"):
		return strings.TrimPrefix(dsn, "sqlite:")
	default:
		return dsn
	}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func now() string {
	return time.Now().UTC().Format(timeLayout)
}

func parseTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.ParseInLocation(timeLayout, ns.String, time.UTC)
	if err != nil {
		return nil
	}
	return &t
}

// ---- data plane ----

func (s *Store) ListPoolEndpoints(ctx context.Context, pool domain.PoolType) ([]*domain.SelectedEndpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.provider_id, p.name, p.base_url, p.api_key, p.api_format,
		       e.model_id, e.weight, e.min_interval_seconds, e.last_request_at
		FROM model_endpoints e
		JOIN providers p ON p.id = e.provider_id
		WHERE e.pool = ? AND e.enabled = 1 AND p.enabled = 1
		ORDER BY e.weight DESC, e.id ASC`, string(pool))
	if err != nil {
		return nil, fmt.Errorf("failed to list pool endpoints: %w", err)
	}
	defer rows.Close()

	var out []*domain.SelectedEndpoint
	for rows.Next() {
		var (
			sel    domain.SelectedEndpoint
			format string
			lastAt sql.NullString
		)
		if err := rows.Scan(&sel.EndpointID, &sel.ProviderID, &sel.ProviderName,
			&sel.BaseURL, &sel.APIKey, &format, &sel.ModelID,
			&sel.Weight, &sel.MinIntervalSeconds, &lastAt); err != nil {
			return nil, err
		}
		sel.Format = domain.APIFormat(format)
		sel.LastRequestAt = parseTimePtr(lastAt)
		out = append(out, &sel)
	}
	return out, rows.Err()
}

func (s *Store) GetPool(ctx context.Context, pool domain.PoolType) (*domain.Pool, error) {
	p, err := s.getPool(ctx, pool)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO pools (pool_type, virtual_model_name, cooldown_seconds, max_retries, timeout_seconds)
		VALUES (?, ?, ?, ?, ?)`,
		string(pool), s.defaults.VirtualModels.ForPool(pool),
		s.defaults.CooldownSeconds, s.defaults.MaxRetries, s.defaults.TimeoutSeconds)
	if err != nil {
		return nil, fmt.Errorf("failed to seed pool %s: %w", pool, err)
	}
	return s.getPool(ctx, pool)
}

func (s *Store) getPool(ctx context.Context, pool domain.PoolType) (*domain.Pool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, pool_type, virtual_model_name, cooldown_seconds, max_retries, timeout_seconds, created_at, updated_at
		FROM pools WHERE pool_type = ?`, string(pool))

	var p domain.Pool
	var poolType string
	if err := row.Scan(&p.ID, &poolType, &p.VirtualModelName,
		&p.CooldownSeconds, &p.MaxRetries, &p.TimeoutSeconds,
		&p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.PoolType = domain.PoolType(poolType)
	return &p, nil
}

func (s *Store) IncrementEndpointStats(ctx context.Context, endpointID int64, success bool, latencyMs int64, lastError string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	ts := now()
	if success {
		_, err = tx.ExecContext(ctx, `
			UPDATE model_endpoints SET
				total_requests = total_requests + 1,
				success_requests = success_requests + 1,
				avg_latency_ms = avg_latency_ms + (CAST(? AS REAL) - avg_latency_ms) / (success_requests + 1),
				last_request_at = ?,
				last_error = NULL,
				updated_at = ?
			WHERE id = ?`, latencyMs, ts, ts, endpointID)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE model_endpoints SET
				total_requests = total_requests + 1,
				error_requests = error_requests + 1,
				last_error = ?,
				updated_at = ?
			WHERE id = ?`, lastError, ts, endpointID)
	}
	if err != nil {
		return fmt.Errorf("failed to update endpoint stats: %w", err)
	}

	successCol := "error_requests"
	if success {
		successCol = "success_requests"
	}
	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE providers SET
			total_requests = total_requests + 1,
			%s = %s + 1,
			updated_at = ?
		WHERE id = (SELECT provider_id FROM model_endpoints WHERE id = ?)`, successCol, successCol),
		ts, endpointID)
	if err != nil {
		return fmt.Errorf("failed to update provider stats: %w", err)
	}

	return tx.Commit()
}

func (s *Store) AppendRequestLog(ctx context.Context, rec *domain.RequestLog) error {
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO request_logs (pool, requested_model, actual_model, provider_name,
			success, status_code, error_message, latency_ms, input_tokens, output_tokens, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(rec.Pool), rec.RequestedModel, rec.ActualModel, rec.ProviderName,
		rec.Success, nullableInt(rec.StatusCode), nullableStr(rec.ErrorMessage),
		rec.LatencyMs, rec.InputTokens, rec.OutputTokens,
		created.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to append request log: %w", err)
	}
	rec.ID, _ = res.LastInsertId()
	return nil
}

func nullableInt(v int) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullableStr(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// ---- providers ----

const providerCols = "id, name, base_url, api_key, api_format, enabled, total_requests, success_requests, error_requests, created_at, updated_at"

func scanProvider(row interface{ Scan(...any) error }) (*domain.Provider, error) {
	var p domain.Provider
	var format string
	if err := row.Scan(&p.ID, &p.Name, &p.BaseURL, &p.APIKey, &format, &p.Enabled,
		&p.TotalRequests, &p.SuccessRequests, &p.ErrorRequests,
		&p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.APIFormat = domain.APIFormat(format)
	return &p, nil
}

func (s *Store) CreateProvider(ctx context.Context, p *domain.Provider) error {
	if p.APIFormat == "" {
		p.APIFormat = domain.FormatOpenAI
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO providers (name, base_url, api_key, api_format, enabled)
		VALUES (?, ?, ?, ?, ?)`,
		p.Name, p.BaseURL, p.APIKey, string(p.APIFormat), p.Enabled)
	if err != nil {
		return fmt.Errorf("failed to create provider: %w", err)
	}
	p.ID, _ = res.LastInsertId()
	return nil
}

func (s *Store) GetProvider(ctx context.Context, id int64) (*domain.Provider, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+providerCols+" FROM providers WHERE id = ?", id)
	p, err := scanProvider(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("provider %d not found", id)
	}
	return p, err
}

func (s *Store) ListProviders(ctx context.Context) ([]*domain.Provider, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+providerCols+" FROM providers ORDER BY id ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) UpdateProvider(ctx context.Context, id int64, upd ports.ProviderUpdate) (*domain.Provider, error) {
	sets := []string{"updated_at = ?"}
	args := []any{now()}
	if upd.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *upd.Name)
	}
	if upd.BaseURL != nil {
		sets = append(sets, "base_url = ?")
		args = append(args, *upd.BaseURL)
	}
	if upd.APIKey != nil {
		sets = append(sets, "api_key = ?")
		args = append(args, *upd.APIKey)
	}
	if upd.APIFormat != nil {
		sets = append(sets, "api_format = ?")
		args = append(args, string(*upd.APIFormat))
	}
	if upd.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, *upd.Enabled)
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		"UPDATE providers SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update provider: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("provider %d not found", id)
	}
	return s.GetProvider(ctx, id)
}

func (s *Store) DeleteProvider(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM providers WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete provider: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("provider %d not found", id)
	}
	return nil
}

// ---- endpoints ----

const endpointCols = "id, provider_id, model_id, pool, enabled, weight, min_interval_seconds, last_request_at, total_requests, success_requests, error_requests, avg_latency_ms, last_error, created_at, updated_at"

func scanEndpoint(row interface{ Scan(...any) error }) (*domain.Endpoint, error) {
	var (
		e         domain.Endpoint
		pool      sql.NullString
		lastAt    sql.NullString
		lastError sql.NullString
	)
	if err := row.Scan(&e.ID, &e.ProviderID, &e.ModelID, &pool, &e.Enabled,
		&e.Weight, &e.MinIntervalSeconds, &lastAt,
		&e.TotalRequests, &e.SuccessRequests, &e.ErrorRequests,
		&e.AvgLatencyMs, &lastError, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.Pool = domain.PoolType(pool.String)
	e.LastRequestAt = parseTimePtr(lastAt)
	e.LastError = lastError.String
	return &e, nil
}

func (s *Store) CreateEndpoint(ctx context.Context, e *domain.Endpoint) error {
	if e.Weight < 1 {
		e.Weight = 1
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO model_endpoints (provider_id, model_id, pool, enabled, weight, min_interval_seconds)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ProviderID, e.ModelID, nullableStr(string(e.Pool)), e.Enabled, e.Weight, e.MinIntervalSeconds)
	if err != nil {
		return fmt.Errorf("failed to create endpoint: %w", err)
	}
	e.ID, _ = res.LastInsertId()
	return nil
}

func (s *Store) GetEndpoint(ctx context.Context, id int64) (*domain.Endpoint, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+endpointCols+" FROM model_endpoints WHERE id = ?", id)
	e, err := scanEndpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("endpoint %d not found", id)
	}
	return e, err
}

func (s *Store) ListEndpoints(ctx context.Context, pool *domain.PoolType) ([]*domain.Endpoint, error) {
	query := "SELECT " + endpointCols + " FROM model_endpoints"
	var args []any
	if pool != nil {
		query += " WHERE pool = ?"
		args = append(args, string(*pool))
	}
	query += " ORDER BY id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Endpoint
	for rows.Next() {
		e, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) BatchCreateEndpoints(ctx context.Context, endpoints []*domain.Endpoint) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	created := 0
	for _, e := range endpoints {
		if e.Weight < 1 {
			e.Weight = 1
		}
		res, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO model_endpoints (provider_id, model_id, pool, enabled, weight, min_interval_seconds)
			VALUES (?, ?, ?, ?, ?, ?)`,
			e.ProviderID, e.ModelID, nullableStr(string(e.Pool)), e.Enabled, e.Weight, e.MinIntervalSeconds)
		if err != nil {
			return 0, fmt.Errorf("failed to create endpoint for model %s: %w", e.ModelID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			e.ID, _ = res.LastInsertId()
			created++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return created, nil
}

func (s *Store) UpdateEndpoint(ctx context.Context, id int64, upd ports.EndpointUpdate) (*domain.Endpoint, error) {
	sets := []string{"updated_at = ?"}
	args := []any{now()}
	if upd.Pool != nil {
		sets = append(sets, "pool = ?")
		args = append(args, string(*upd.Pool))
	}
	if upd.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, *upd.Enabled)
	}
	if upd.Weight != nil {
		sets = append(sets, "weight = ?")
		args = append(args, *upd.Weight)
	}
	if upd.MinIntervalSeconds != nil {
		sets = append(sets, "min_interval_seconds = ?")
		args = append(args, *upd.MinIntervalSeconds)
	}
	if upd.ModelID != nil {
		sets = append(sets, "model_id = ?")
		args = append(args, *upd.ModelID)
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		"UPDATE model_endpoints SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update endpoint: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("endpoint %d not found", id)
	}
	return s.GetEndpoint(ctx, id)
}

func (s *Store) DeleteEndpoint(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM model_endpoints WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete endpoint: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("endpoint %d not found", id)
	}
	return nil
}

// ---- pools ----

func (s *Store) ListPools(ctx context.Context) ([]*domain.Pool, error) {
	// Touch every pool so the listing is complete even before traffic.
	for _, pt := range domain.AllPoolTypes() {
		if _, err := s.GetPool(ctx, pt); err != nil {
			return nil, err
		}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pool_type, virtual_model_name, cooldown_seconds, max_retries, timeout_seconds, created_at, updated_at
		FROM pools ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Pool
	for rows.Next() {
		var p domain.Pool
		var poolType string
		if err := rows.Scan(&p.ID, &poolType, &p.VirtualModelName,
			&p.CooldownSeconds, &p.MaxRetries, &p.TimeoutSeconds,
			&p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.PoolType = domain.PoolType(poolType)
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *Store) UpdatePool(ctx context.Context, pool domain.PoolType, upd ports.PoolUpdate) (*domain.Pool, error) {
	if _, err := s.GetPool(ctx, pool); err != nil {
		return nil, err
	}

	sets := []string{"updated_at = ?"}
	args := []any{now()}
	if upd.CooldownSeconds != nil {
		sets = append(sets, "cooldown_seconds = ?")
		args = append(args, *upd.CooldownSeconds)
	}
	if upd.MaxRetries != nil {
		sets = append(sets, "max_retries = ?")
		args = append(args, *upd.MaxRetries)
	}
	if upd.TimeoutSeconds != nil {
		sets = append(sets, "timeout_seconds = ?")
		args = append(args, *upd.TimeoutSeconds)
	}
	args = append(args, string(pool))

	if _, err := s.db.ExecContext(ctx,
		"UPDATE pools SET "+strings.Join(sets, ", ")+" WHERE pool_type = ?", args...); err != nil {
		return nil, fmt.Errorf("failed to update pool: %w", err)
	}
	return s.getPool(ctx, pool)
}

// ---- request logs ----

func (s *Store) ListRequestLogs(ctx context.Context, filter ports.LogFilter) ([]*domain.RequestLog, int64, error) {
	var (
		where []string
		args  []any
	)
	if filter.Pool != nil {
		where = append(where, "pool = ?")
		args = append(args, string(*filter.Pool))
	}
	if filter.Success != nil {
		where = append(where, "success = ?")
		args = append(args, *filter.Success)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM request_logs"+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	listArgs := append(append([]any{}, args...), limit, filter.Offset)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pool, requested_model, actual_model, provider_name,
		       success, status_code, error_message, latency_ms, input_tokens, output_tokens, created_at
		FROM request_logs`+clause+`
		ORDER BY id DESC LIMIT ? OFFSET ?`, listArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*domain.RequestLog
	for rows.Next() {
		var (
			rec       domain.RequestLog
			pool      string
			status    sql.NullInt64
			errMsg    sql.NullString
			inTokens  sql.NullInt64
			outTokens sql.NullInt64
			created   string
		)
		if err := rows.Scan(&rec.ID, &pool, &rec.RequestedModel, &rec.ActualModel,
			&rec.ProviderName, &rec.Success, &status, &errMsg, &rec.LatencyMs,
			&inTokens, &outTokens, &created); err != nil {
			return nil, 0, err
		}
		rec.Pool = domain.PoolType(pool)
		rec.StatusCode = int(status.Int64)
		rec.ErrorMessage = errMsg.String
		if inTokens.Valid {
			v := inTokens.Int64
			rec.InputTokens = &v
		}
		if outTokens.Valid {
			v := outTokens.Int64
			rec.OutputTokens = &v
		}
		if t, err := time.ParseInLocation(timeLayout, created, time.UTC); err == nil {
			rec.CreatedAt = t
		}
		out = append(out, &rec)
	}
	return out, total, rows.Err()
}

func (s *Store) DeleteRequestLogs(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM request_logs")
	if err != nil {
		return 0, fmt.Errorf("failed to delete request logs: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) PruneRequestLogs(ctx context.Context, max int64) (int64, error) {
	if max <= 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM request_logs WHERE id NOT IN (
			SELECT id FROM request_logs ORDER BY id DESC LIMIT ?
		)`, max)
	if err != nil {
		return 0, fmt.Errorf("failed to prune request logs: %w", err)
	}
	return res.RowsAffected()
}

// ---- stats ----

func (s *Store) Stats(ctx context.Context) (*ports.GatewayStats, error) {
	stats := &ports.GatewayStats{PoolEndpoints: make(map[string]int)}

	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(enabled), 0),
		       COALESCE(SUM(total_requests), 0), COALESCE(SUM(success_requests), 0), COALESCE(SUM(error_requests), 0)
		FROM providers`).Scan(&stats.TotalProviders, &stats.EnabledProviders,
		&stats.TotalRequests, &stats.SuccessRequests, &stats.ErrorRequests); err != nil {
		return nil, err
	}

	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM model_endpoints").Scan(&stats.TotalEndpoints); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT pool, COUNT(*) FROM model_endpoints
		WHERE pool IS NOT NULL GROUP BY pool`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var pool string
		var count int
		if err := rows.Scan(&pool, &count); err != nil {
			return nil, err
		}
		stats.PoolEndpoints[pool] = count
	}
	return stats, rows.Err()
}
