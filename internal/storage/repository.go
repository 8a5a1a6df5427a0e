package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"goldsynth/internal/domain"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	upsertPriceSampleSQL = `INSERT INTO price_samples (
        bucket_ts,
        price_usd,
        deviation_bps,
        fresh_sources,
        breaker_triggered,
        status,
        error
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    ON CONFLICT (bucket_ts) DO UPDATE
    SET
        price_usd         = EXCLUDED.price_usd,
        deviation_bps     = EXCLUDED.deviation_bps,
        fresh_sources     = EXCLUDED.fresh_sources,
        breaker_triggered = EXCLUDED.breaker_triggered,
        status            = EXCLUDED.status,
        error             = EXCLUDED.error;`

	listSamplesBetweenSQL = `SELECT
        bucket_ts,
        price_usd,
        deviation_bps,
        fresh_sources,
        breaker_triggered,
        status,
        error,
        created_at
    FROM price_samples
    WHERE bucket_ts >= $1
      AND bucket_ts < $2
    ORDER BY bucket_ts;`

	listRecentSamplesSQL = `SELECT
        bucket_ts,
        price_usd,
        deviation_bps,
        fresh_sources,
        breaker_triggered,
        status,
        error,
        created_at
    FROM price_samples
    ORDER BY bucket_ts DESC
    LIMIT $1;`

	markSampleErroredSQL = `UPDATE price_samples
    SET status = 'errored', error = $2
    WHERE bucket_ts = $1;`

	countSamplesSQL = `SELECT COUNT(*) FROM price_samples;`

	insertExecutionSQL = `INSERT INTO dca_executions (
        user_address,
        plan_id,
        usd_amount,
        tokens_received,
        fee,
        executed_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    RETURNING id, user_address, plan_id, usd_amount, tokens_received, fee, executed_at, created_at;`

	listRecentExecutionsSQL = `SELECT
        id,
        user_address,
        plan_id,
        usd_amount,
        tokens_received,
        fee,
        executed_at,
        created_at
    FROM dca_executions
    WHERE user_address = $1
    ORDER BY executed_at DESC
    LIMIT $2;`

	insertEventSQL = `INSERT INTO events (
        event_id,
        event_type,
        user_address,
        emitted_at,
        payload
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    ON CONFLICT (event_id) DO NOTHING;`

	listRecentEventsSQL = `SELECT
        event_id,
        event_type,
        user_address,
        emitted_at,
        payload,
        created_at
    FROM events
    ORDER BY emitted_at DESC
    LIMIT $1;`

	deleteEventsBeforeSQL = `DELETE FROM events WHERE emitted_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// PriceSampleStore defines operations for price sample persistence.
type PriceSampleStore interface {
	UpsertPriceSample(ctx context.Context, sample PriceSample) error
	ListSamplesBetween(ctx context.Context, from, to time.Time) ([]PriceSample, error)
	ListRecentSamples(ctx context.Context, limit int) ([]PriceSample, error)
	MarkSampleErrored(ctx context.Context, bucket time.Time, errMsg string) error
	CountSamples(ctx context.Context) (int64, error)
}

// ExecutionStore defines operations for the DCA execution journal.
type ExecutionStore interface {
	InsertExecution(ctx context.Context, rec ExecutionRecord) (ExecutionRecord, error)
	ListRecentExecutions(ctx context.Context, user domain.Address, limit int) ([]ExecutionRecord, error)
}

// EventStore defines operations for the event journal.
type EventStore interface {
	InsertEvent(ctx context.Context, rec EventRecord) error
	ListRecentEvents(ctx context.Context, limit int) ([]EventRecord, error)
	DeleteEventsBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to price samples, the execution journal and the
// event journal.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a
// release func. The executor uses it so at most one instance drives DCA
// executions against a shared database.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertPriceSample persists or updates a price sample.
func (s *Store) UpsertPriceSample(ctx context.Context, sample PriceSample) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var errMsg interface{}
	if sample.Error != nil {
		errMsg = *sample.Error
	}

	_, execErr := pool.Exec(ctx, upsertPriceSampleSQL,
		sample.Bucket,
		sample.Price.String(),
		sample.DeviationBps.String(),
		sample.FreshSources,
		sample.BreakerTriggered,
		sample.Status,
		errMsg,
	)
	if execErr != nil {
		return fmt.Errorf("upsert price sample: %w", execErr)
	}
	return nil
}

// ListSamplesBetween lists samples within a time window.
func (s *Store) ListSamplesBetween(ctx context.Context, from, to time.Time) ([]PriceSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSamplesBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list samples between: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]PriceSample, 0)
	for rows.Next() {
		sample, scanErr := scanPriceSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// ListRecentSamples lists the most recent samples ordered by descending bucket.
func (s *Store) ListRecentSamples(ctx context.Context, limit int) ([]PriceSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSamplesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent samples: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]PriceSample, 0, limit)
	for rows.Next() {
		sample, scanErr := scanPriceSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// MarkSampleErrored marks a sample as errored.
func (s *Store) MarkSampleErrored(ctx context.Context, bucket time.Time, errMsg string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, markSampleErroredSQL, bucket, errMsg)
	if execErr != nil {
		return fmt.Errorf("mark sample errored: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// CountSamples counts stored samples.
func (s *Store) CountSamples(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countSamplesSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count samples: %w", scanErr)
	}
	return count, nil
}

// InsertExecution journals one plan execution.
func (s *Store) InsertExecution(ctx context.Context, rec ExecutionRecord) (ExecutionRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return ExecutionRecord{}, err
	}

	row := pool.QueryRow(ctx, insertExecutionSQL,
		string(rec.User),
		rec.PlanID,
		rec.UsdAmount.String(),
		rec.TokensReceived.String(),
		rec.Fee.String(),
		rec.ExecutedAt,
	)
	out, scanErr := scanExecution(row)
	if scanErr != nil {
		return ExecutionRecord{}, fmt.Errorf("insert execution: %w", scanErr)
	}
	return out, nil
}

// ListRecentExecutions lists a user's latest executions.
func (s *Store) ListRecentExecutions(ctx context.Context, user domain.Address, limit int) ([]ExecutionRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentExecutionsSQL, string(user), limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent executions: %w", queryErr)
	}
	defer rows.Close()

	records := make([]ExecutionRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanExecution(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// InsertEvent journals one emitted event. Duplicate event IDs are ignored so
// redelivery is harmless.
func (s *Store) InsertEvent(ctx context.Context, rec EventRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var user interface{}
	if rec.User != domain.ZeroAddress {
		user = string(rec.User)
	}
	if _, execErr := pool.Exec(ctx, insertEventSQL,
		rec.ID,
		rec.Type,
		user,
		rec.At,
		rec.Payload,
	); execErr != nil {
		return fmt.Errorf("insert event: %w", execErr)
	}
	return nil
}

// ListRecentEvents lists the most recently emitted events.
func (s *Store) ListRecentEvents(ctx context.Context, limit int) ([]EventRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentEventsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent events: %w", queryErr)
	}
	defer rows.Close()

	records := make([]EventRecord, 0, limit)
	for rows.Next() {
		var rec EventRecord
		var user sql.NullString
		if err := rows.Scan(
			&rec.ID,
			&rec.Type,
			&user,
			&rec.At,
			&rec.Payload,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		if user.Valid {
			rec.User = domain.Address(user.String)
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// DeleteEventsBefore trims the event journal.
func (s *Store) DeleteEventsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteEventsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete events before: %w", execErr)
	}
	return nil
}

func scanPriceSample(rows pgx.Rows) (PriceSample, error) {
	var (
		bucket       time.Time
		priceStr     string
		deviationStr string
		freshSources int
		triggered    bool
		status       string
		errMsg       sql.NullString
		createdAt    time.Time
	)

	if err := rows.Scan(
		&bucket,
		&priceStr,
		&deviationStr,
		&freshSources,
		&triggered,
		&status,
		&errMsg,
		&createdAt,
	); err != nil {
		return PriceSample{}, err
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return PriceSample{}, fmt.Errorf("parse price: %w", err)
	}
	deviation, err := decimal.NewFromString(deviationStr)
	if err != nil {
		return PriceSample{}, fmt.Errorf("parse deviation bps: %w", err)
	}

	sample := PriceSample{
		Bucket:           bucket,
		Price:            price,
		DeviationBps:     deviation,
		FreshSources:     freshSources,
		BreakerTriggered: triggered,
		Status:           status,
		CreatedAt:        createdAt,
	}
	if errMsg.Valid {
		msg := errMsg.String
		sample.Error = &msg
	}
	return sample, nil
}

func scanExecution(row pgx.Row) (ExecutionRecord, error) {
	var (
		rec       ExecutionRecord
		user      string
		usdStr    string
		tokensStr string
		feeStr    string
	)

	if err := row.Scan(
		&rec.ID,
		&user,
		&rec.PlanID,
		&usdStr,
		&tokensStr,
		&feeStr,
		&rec.ExecutedAt,
		&rec.CreatedAt,
	); err != nil {
		return ExecutionRecord{}, err
	}
	rec.User = domain.Address(user)

	var convErr error
	rec.UsdAmount, convErr = decimal.NewFromString(usdStr)
	if convErr != nil {
		return ExecutionRecord{}, fmt.Errorf("parse usd amount: %w", convErr)
	}
	rec.TokensReceived, convErr = decimal.NewFromString(tokensStr)
	if convErr != nil {
		return ExecutionRecord{}, fmt.Errorf("parse tokens received: %w", convErr)
	}
	rec.Fee, convErr = decimal.NewFromString(feeStr)
	if convErr != nil {
		return ExecutionRecord{}, fmt.Errorf("parse fee: %w", convErr)
	}
	return rec, nil
}
