package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrMintNotFound indicates a mint row does not exist.
	ErrMintNotFound = errors.New("storage: mint not found")
)

// maxErrorLen caps sanitized error text persisted with a swap event.
const maxErrorLen = 1000

const (
	mintColumns = `id, url, name, info, balance, sum_donations, state,
        n_errors, n_mints, n_melts, latitude, longitude, updated_at, next_update`

	getMintByIDSQL  = `SELECT ` + mintColumns + ` FROM mints WHERE id = $1;`
	getMintByURLSQL = `SELECT ` + mintColumns + ` FROM mints WHERE url = $1;`
	listMintsSQL    = `SELECT ` + mintColumns + ` FROM mints ORDER BY id;`

	insertMintSQL = `INSERT INTO mints (
        url, name, info, balance, sum_donations, state,
        n_errors, n_mints, n_melts, next_update
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
    RETURNING ` + mintColumns + `;`

	updateMintSQL = `UPDATE mints
    SET name = $2,
        info = $3,
        balance = $4,
        sum_donations = $5,
        state = $6,
        next_update = $7,
        updated_at = now()
    WHERE id = $1;`

	updateMintBalanceSQL = `UPDATE mints
    SET balance = $2, updated_at = now()
    WHERE id = $1;`

	updateMintInfoSQL = `UPDATE mints
    SET info = $2, updated_at = now()
    WHERE id = $1;`

	updateMintLocationSQL = `UPDATE mints
    SET latitude = $2, longitude = $3, updated_at = now()
    WHERE id = $1;`

	bumpErrorsSQL = `UPDATE mints
    SET n_errors = n_errors + 1, state = $2, updated_at = now()
    WHERE id = $1
    RETURNING n_errors;`

	bumpNMintsSQL = `UPDATE mints
    SET n_mints = n_mints + 1, updated_at = now()
    WHERE id = $1
    RETURNING n_mints;`

	bumpNMeltsSQL = `UPDATE mints
    SET n_melts = n_melts + 1, state = $2, updated_at = now()
    WHERE id = $1
    RETURNING n_melts;`

	insertSwapEventSQL = `INSERT INTO swaps (
        from_id, to_id, from_url, to_url, amount, fee, time_taken, state, error
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
    RETURNING id, created_at;`

	listSwapEventsSQL = `SELECT
        id, from_id, to_id, from_url, to_url, amount, fee, time_taken, state, error, created_at
    FROM swaps
    ORDER BY created_at DESC
    OFFSET $1 LIMIT $2;`

	listSwapEventsBetweenSQL = `SELECT
        id, from_id, to_id, from_url, to_url, amount, fee, time_taken, state, error, created_at
    FROM swaps
    WHERE created_at >= $1 AND created_at < $2
    ORDER BY created_at;`

	swapEdgesSQL = `SELECT
        from_id,
        to_id,
        COUNT(*),
        COALESCE(SUM(amount), 0),
        COALESCE(SUM(fee), 0),
        MAX(created_at)
    FROM swaps
    WHERE state = 'OK'
    GROUP BY from_id, to_id;`

	swapStatsSQL = `SELECT
        COUNT(*),
        COUNT(*) FILTER (WHERE state = 'ERROR'),
        COALESCE(SUM(amount) FILTER (WHERE state = 'OK'), 0),
        COALESCE(SUM(fee) FILTER (WHERE state = 'OK'), 0),
        COALESCE(AVG(fee) FILTER (WHERE state = 'OK'), 0),
        COALESCE(AVG(time_taken) FILTER (WHERE state = 'OK'), 0)
    FROM swaps;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// MintStore defines mint-row persistence. All operations are safe to call
// concurrently from the refresh loops and the orchestrator; mint rows are
// last-writer-wins.
type MintStore interface {
	GetMint(ctx context.Context, id int64) (Mint, error)
	GetMintByURL(ctx context.Context, url string) (Mint, error)
	ListMints(ctx context.Context) ([]Mint, error)
	InsertMint(ctx context.Context, mint Mint) (Mint, error)
	UpdateMint(ctx context.Context, mint Mint) error
	UpdateMintBalance(ctx context.Context, id int64, balance int64) error
	UpdateMintInfo(ctx context.Context, id int64, info string) error
	UpdateMintLocation(ctx context.Context, id int64, lat, lon float64) error
	BumpMintErrors(ctx context.Context, id int64) (int64, error)
	BumpMintNMints(ctx context.Context, id int64) (int64, error)
	BumpMintNMelts(ctx context.Context, id int64) (int64, error)
}

// SwapEventStore defines the append-only swap-event log.
type SwapEventStore interface {
	InsertSwapEvent(ctx context.Context, event SwapEvent) (SwapEvent, error)
	ListSwapEvents(ctx context.Context, offset, limit int) ([]SwapEvent, error)
	ListSwapEventsBetween(ctx context.Context, from, to time.Time) ([]SwapEvent, error)
	SwapEdges(ctx context.Context) ([]SwapEdge, error)
	SwapStats(ctx context.Context) (SwapStats, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to mints and swap events.
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

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a
// release func. It keeps two auditor replicas sharing a database from running
// concurrent swap attempts.
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
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// GetMint fetches one mint by id.
func (s *Store) GetMint(ctx context.Context, id int64) (Mint, error) {
	pool, err := s.getPool()
	if err != nil {
		return Mint{}, err
	}
	mint, err := scanMint(pool.QueryRow(ctx, getMintByIDSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Mint{}, ErrMintNotFound
	}
	return mint, err
}

// GetMintByURL fetches one mint by its unique URL.
func (s *Store) GetMintByURL(ctx context.Context, url string) (Mint, error) {
	pool, err := s.getPool()
	if err != nil {
		return Mint{}, err
	}
	mint, err := scanMint(pool.QueryRow(ctx, getMintByURLSQL, url))
	if errors.Is(err, pgx.ErrNoRows) {
		return Mint{}, ErrMintNotFound
	}
	return mint, err
}

// ListMints returns every monitored mint.
func (s *Store) ListMints(ctx context.Context) ([]Mint, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listMintsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list mints: %w", queryErr)
	}
	defer rows.Close()

	mints := make([]Mint, 0)
	for rows.Next() {
		mint, scanErr := scanMint(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		mints = append(mints, mint)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return mints, nil
}

// InsertMint creates a mint row for a first-seen URL.
func (s *Store) InsertMint(ctx context.Context, mint Mint) (Mint, error) {
	pool, err := s.getPool()
	if err != nil {
		return Mint{}, err
	}

	row := pool.QueryRow(ctx, insertMintSQL,
		mint.URL,
		mint.Name,
		mint.Info,
		mint.Balance,
		mint.SumDonations,
		string(mint.State),
		mint.NErrors,
		mint.NMints,
		mint.NMelts,
		mint.NextUpdate,
	)
	created, scanErr := scanMint(row)
	if scanErr != nil {
		return Mint{}, fmt.Errorf("insert mint: %w", scanErr)
	}
	return created, nil
}

// UpdateMint overwrites the mutable fields of a mint row.
func (s *Store) UpdateMint(ctx context.Context, mint Mint) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tag, execErr := pool.Exec(ctx, updateMintSQL,
		mint.ID,
		mint.Name,
		mint.Info,
		mint.Balance,
		mint.SumDonations,
		string(mint.State),
		mint.NextUpdate,
	)
	if execErr != nil {
		return fmt.Errorf("update mint: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return ErrMintNotFound
	}
	return nil
}

// UpdateMintBalance overwrites balance from a fresh wallet read.
func (s *Store) UpdateMintBalance(ctx context.Context, id int64, balance int64) error {
	return s.execMintUpdate(ctx, updateMintBalanceSQL, "update mint balance", id, balance)
}

// UpdateMintInfo overwrites the opaque mint info blob.
func (s *Store) UpdateMintInfo(ctx context.Context, id int64, info string) error {
	return s.execMintUpdate(ctx, updateMintInfoSQL, "update mint info", id, info)
}

// UpdateMintLocation stores resolved geocoordinates.
func (s *Store) UpdateMintLocation(ctx context.Context, id int64, lat, lon float64) error {
	return s.execMintUpdate(ctx, updateMintLocationSQL, "update mint location", id, lat, lon)
}

func (s *Store) execMintUpdate(ctx context.Context, sql, op string, id int64, args ...any) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tag, execErr := pool.Exec(ctx, sql, append([]any{id}, args...)...)
	if execErr != nil {
		return fmt.Errorf("%s: %w", op, execErr)
	}
	if tag.RowsAffected() == 0 {
		return ErrMintNotFound
	}
	return nil
}

// BumpMintErrors increments n_errors and forces state to ERROR.
func (s *Store) BumpMintErrors(ctx context.Context, id int64) (int64, error) {
	return s.bumpCounter(ctx, bumpErrorsSQL, "bump n_errors", id, string(MintStateError))
}

// BumpMintNMints increments n_mints, leaving state untouched.
func (s *Store) BumpMintNMints(ctx context.Context, id int64) (int64, error) {
	return s.bumpCounter(ctx, bumpNMintsSQL, "bump n_mints", id)
}

// BumpMintNMelts increments n_melts and resets state to OK: a successful
// outgoing leg clears prior error state.
func (s *Store) BumpMintNMelts(ctx context.Context, id int64) (int64, error) {
	return s.bumpCounter(ctx, bumpNMeltsSQL, "bump n_melts", id, string(MintStateOK))
}

func (s *Store) bumpCounter(ctx context.Context, sql, op string, id int64, args ...any) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var counter int64
	scanErr := pool.QueryRow(ctx, sql, append([]any{id}, args...)...).Scan(&counter)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return 0, ErrMintNotFound
	}
	if scanErr != nil {
		return 0, fmt.Errorf("%s: %w", op, scanErr)
	}
	return counter, nil
}

// InsertSwapEvent appends one immutable swap record. Error text is sanitized
// before storage.
func (s *Store) InsertSwapEvent(ctx context.Context, event SwapEvent) (SwapEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return SwapEvent{}, err
	}

	var errText *string
	if event.Error != nil {
		cleaned := SanitizeError(*event.Error)
		errText = &cleaned
	}

	row := pool.QueryRow(ctx, insertSwapEventSQL,
		event.FromID,
		event.ToID,
		event.FromURL,
		event.ToURL,
		event.Amount,
		event.Fee,
		event.TimeTaken,
		string(event.State),
		errText,
	)

	stored := event
	stored.Error = errText
	if scanErr := row.Scan(&stored.ID, &stored.CreatedAt); scanErr != nil {
		return SwapEvent{}, fmt.Errorf("insert swap event: %w", scanErr)
	}
	return stored, nil
}

// ListSwapEvents lists events newest first with pagination.
func (s *Store) ListSwapEvents(ctx context.Context, offset, limit int) ([]SwapEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listSwapEventsSQL, offset, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list swap events: %w", queryErr)
	}
	defer rows.Close()
	return collectSwapEvents(rows, limit)
}

// ListSwapEventsBetween lists events within a time window, oldest first.
func (s *Store) ListSwapEventsBetween(ctx context.Context, from, to time.Time) ([]SwapEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listSwapEventsBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list swap events between: %w", queryErr)
	}
	defer rows.Close()
	return collectSwapEvents(rows, 0)
}

// SwapEdges aggregates completed swaps per ordered mint pair.
func (s *Store) SwapEdges(ctx context.Context) ([]SwapEdge, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, swapEdgesSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("swap edges: %w", queryErr)
	}
	defer rows.Close()

	edges := make([]SwapEdge, 0)
	for rows.Next() {
		var edge SwapEdge
		if err := rows.Scan(
			&edge.FromID,
			&edge.ToID,
			&edge.Count,
			&edge.TotalAmount,
			&edge.TotalFee,
			&edge.LastSwap,
		); err != nil {
			return nil, err
		}
		edge.State = SwapStateOK
		edges = append(edges, edge)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return edges, nil
}

// SwapStats summarises the full event log.
func (s *Store) SwapStats(ctx context.Context) (SwapStats, error) {
	pool, err := s.getPool()
	if err != nil {
		return SwapStats{}, err
	}

	var stats SwapStats
	var avgFee, avgTime string
	if scanErr := pool.QueryRow(ctx, swapStatsSQL).Scan(
		&stats.Total,
		&stats.Failed,
		&stats.TotalAmount,
		&stats.TotalFee,
		&avgFee,
		&avgTime,
	); scanErr != nil {
		return SwapStats{}, fmt.Errorf("swap stats: %w", scanErr)
	}

	var convErr error
	stats.AvgFee, convErr = decimal.NewFromString(avgFee)
	if convErr != nil {
		return SwapStats{}, fmt.Errorf("parse avg fee: %w", convErr)
	}
	stats.AvgTimeMS, convErr = decimal.NewFromString(avgTime)
	if convErr != nil {
		return SwapStats{}, fmt.Errorf("parse avg time: %w", convErr)
	}
	return stats, nil
}

func collectSwapEvents(rows pgx.Rows, sizeHint int) ([]SwapEvent, error) {
	events := make([]SwapEvent, 0, sizeHint)
	for rows.Next() {
		event, scanErr := scanSwapEvent(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		events = append(events, event)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return events, nil
}

func scanMint(row pgx.Row) (Mint, error) {
	var (
		mint  Mint
		state string
	)
	if err := row.Scan(
		&mint.ID,
		&mint.URL,
		&mint.Name,
		&mint.Info,
		&mint.Balance,
		&mint.SumDonations,
		&state,
		&mint.NErrors,
		&mint.NMints,
		&mint.NMelts,
		&mint.Latitude,
		&mint.Longitude,
		&mint.UpdatedAt,
		&mint.NextUpdate,
	); err != nil {
		return Mint{}, err
	}
	mint.State = MintState(state)
	return mint, nil
}

func scanSwapEvent(row pgx.Row) (SwapEvent, error) {
	var (
		event SwapEvent
		state string
	)
	if err := row.Scan(
		&event.ID,
		&event.FromID,
		&event.ToID,
		&event.FromURL,
		&event.ToURL,
		&event.Amount,
		&event.Fee,
		&event.TimeTaken,
		&state,
		&event.Error,
		&event.CreatedAt,
	); err != nil {
		return SwapEvent{}, err
	}
	event.State = SwapState(state)
	return event, nil
}

// SanitizeError reduces an error message to its first line, capped in length,
// so multi-line wallet tracebacks never reach the event log.
func SanitizeError(msg string) string {
	if idx := strings.IndexAny(msg, "\r\n"); idx >= 0 {
		msg = msg[:idx]
	}
	if len(msg) > maxErrorLen {
		msg = msg[:maxErrorLen]
	}
	return msg
}
