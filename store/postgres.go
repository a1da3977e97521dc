package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store using a PostgreSQL backend.
type PostgresStore struct {
	pool  *pgxpool.Pool
	locks *advisoryLocks
}

// NewPostgresStore initializes a PostgresStore with a connection pool.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}

	config.MaxConns = 25
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool, locks: newAdvisoryLocks(pool)}, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

const bookingColumns = `
	booking_id, owner_emp_code, owner_group, owner_dept_path, meeting_type,
	dr_type, time_start, time_end, meeting_room, chairman_email,
	language_code, selected_interpreter_emp_code, booking_status,
	interpreter_emp_code, auto_assign_at, auto_assign_status,
	auto_assign_locked_at, auto_assign_locked_by, pool_status,
	pool_entry_time, pool_deadline_time, pool_processing_attempts,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*Booking, error) {
	var b Booking
	var drType, chairman, language, pinned, lockedBy, poolStatus *string
	var interpreter *string
	err := row.Scan(
		&b.ID, &b.OwnerEmpCode, &b.OwnerGroup, &b.OwnerDeptPath, &b.MeetingType,
		&drType, &b.TimeStart, &b.TimeEnd, &b.MeetingRoom, &chairman,
		&language, &pinned, &b.BookingStatus,
		&interpreter, &b.AutoAssignAt, &b.AutoAssignStatus,
		&b.AutoAssignLockedAt, &lockedBy, &poolStatus,
		&b.PoolEntryTime, &b.PoolDeadlineTime, &b.PoolProcessingAttempts,
		&b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if drType != nil {
		b.DRType = DRType(*drType)
	}
	if chairman != nil {
		b.ChairmanEmail = *chairman
	}
	if language != nil {
		b.LanguageCode = *language
	}
	if pinned != nil {
		b.SelectedInterpreterEmpCode = *pinned
	}
	if lockedBy != nil {
		b.AutoAssignLockedBy = *lockedBy
	}
	if poolStatus != nil {
		b.PoolStatus = PoolStatus(*poolStatus)
	}
	b.InterpreterEmpCode = interpreter
	return &b, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// --- Booking operations ---

func (s *PostgresStore) CreateBooking(ctx context.Context, b *Booking) error {
	query := `
		INSERT INTO bookings (
			owner_emp_code, owner_group, owner_dept_path, meeting_type, dr_type,
			time_start, time_end, meeting_room, chairman_email, language_code,
			selected_interpreter_emp_code, booking_status, auto_assign_at,
			auto_assign_status, pool_status, pool_entry_time, pool_deadline_time,
			pool_processing_attempts, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,NOW(),NOW())
		RETURNING booking_id, created_at, updated_at`

	err := s.pool.QueryRow(ctx, query,
		b.OwnerEmpCode, b.OwnerGroup, b.OwnerDeptPath, b.MeetingType, nullable(string(b.DRType)),
		b.TimeStart, b.TimeEnd, b.MeetingRoom, nullable(b.ChairmanEmail), nullable(b.LanguageCode),
		nullable(b.SelectedInterpreterEmpCode), b.BookingStatus, b.AutoAssignAt,
		b.AutoAssignStatus, nullable(string(b.PoolStatus)), b.PoolEntryTime, b.PoolDeadlineTime,
		b.PoolProcessingAttempts,
	).Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23514" {
			return WrapError(CodeBadRequest, err, "booking violates a check constraint")
		}
		return fmt.Errorf("create booking: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetBooking(ctx context.Context, id int64) (*Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE booking_id = $1`
	b, err := scanBooking(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get booking %d: %w", id, err)
	}
	return b, nil
}

func (s *PostgresStore) UpdateBookingStatus(ctx context.Context, id int64, from, to BookingStatus) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE bookings SET booking_status = $3, updated_at = NOW()
		 WHERE booking_id = $1 AND booking_status = $2`,
		id, from, to)
	if err != nil {
		return false, fmt.Errorf("update booking status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) CommitAssignment(ctx context.Context, id int64, empCode string, entry *AssignmentLog) (ok bool, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	// State guard: the booking must still be waiting and unassigned.
	tag, err := tx.Exec(ctx, `
		UPDATE bookings SET
			interpreter_emp_code = $2,
			booking_status = 'approve',
			auto_assign_status = 'done',
			pool_status = NULL,
			pool_entry_time = NULL,
			pool_deadline_time = NULL,
			auto_assign_locked_at = NULL,
			auto_assign_locked_by = NULL,
			updated_at = NOW()
		WHERE booking_id = $1
		  AND booking_status = 'waiting'
		  AND interpreter_emp_code IS NULL`,
		id, empCode)
	if err != nil {
		return false, fmt.Errorf("commit assignment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		_ = tx.Rollback(ctx)
		return false, nil
	}

	if entry != nil {
		if err = appendLogTx(ctx, tx, entry); err != nil {
			return false, err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit tx: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) SetAutoAssignStatus(ctx context.Context, id int64, status AutoAssignStatus) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE bookings SET auto_assign_status = $2, updated_at = NOW() WHERE booking_id = $1`,
		id, status)
	if err != nil {
		return fmt.Errorf("set auto-assign status: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetAutoAssignAt(ctx context.Context, id int64, at time.Time, status AutoAssignStatus) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE bookings SET auto_assign_at = $2, auto_assign_status = $3, updated_at = NOW()
		 WHERE booking_id = $1`,
		id, at, status)
	if err != nil {
		return fmt.Errorf("set auto-assign at: %w", err)
	}
	return nil
}

func (s *PostgresStore) queryBookings(ctx context.Context, query string, args ...any) ([]*Booking, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListAssignableBookings(ctx context.Context, now time.Time, horizon time.Duration) ([]*Booking, error) {
	query := `SELECT ` + bookingColumns + `
		FROM bookings
		WHERE booking_status = 'waiting'
		  AND interpreter_emp_code IS NULL
		  AND auto_assign_status = 'pending'
		  AND auto_assign_at IS NOT NULL AND auto_assign_at <= $1
		  AND time_start <= $2
		ORDER BY time_start ASC`
	return s.queryBookings(ctx, query, now, now.Add(horizon))
}

const overlapPredicate = `booking_status <> 'cancel' AND time_start < $3 AND time_end > $2`

func (s *PostgresStore) ListInterpreterBookings(ctx context.Context, empCode string, start, end time.Time) ([]*Booking, error) {
	query := `SELECT ` + bookingColumns + `
		FROM bookings WHERE interpreter_emp_code = $1 AND ` + overlapPredicate
	return s.queryBookings(ctx, query, empCode, start, end)
}

func (s *PostgresStore) ListRoomBookings(ctx context.Context, room string, start, end time.Time) ([]*Booking, error) {
	query := `SELECT ` + bookingColumns + `
		FROM bookings WHERE meeting_room = $1 AND ` + overlapPredicate
	return s.queryBookings(ctx, query, room, start, end)
}

func (s *PostgresStore) ListChairmanBookings(ctx context.Context, email string, start, end time.Time) ([]*Booking, error) {
	query := `SELECT ` + bookingColumns + `
		FROM bookings WHERE chairman_email = $1 AND ` + overlapPredicate
	return s.queryBookings(ctx, query, email, start, end)
}

func (s *PostgresStore) ListAssignedSince(ctx context.Context, cutoff time.Time) ([]*Booking, error) {
	query := `SELECT ` + bookingColumns + `
		FROM bookings
		WHERE booking_status <> 'cancel'
		  AND interpreter_emp_code IS NOT NULL
		  AND created_at >= $1`
	return s.queryBookings(ctx, query, cutoff)
}

// --- Interpreter directory ---

func (s *PostgresStore) GetInterpreter(ctx context.Context, empCode string) (*Interpreter, error) {
	query := `
		SELECT i.emp_code, i.name, i.is_active, i.environment_id,
		       COALESCE(array_agg(l.language_code) FILTER (WHERE l.language_code IS NOT NULL), '{}')
		FROM interpreters i
		LEFT JOIN interpreter_languages l ON l.emp_code = i.emp_code
		WHERE i.emp_code = $1
		GROUP BY i.emp_code, i.name, i.is_active, i.environment_id`
	var it Interpreter
	err := s.pool.QueryRow(ctx, query, empCode).Scan(
		&it.EmpCode, &it.Name, &it.IsActive, &it.EnvironmentID, &it.Languages)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get interpreter %s: %w", empCode, err)
	}
	return &it, nil
}

func (s *PostgresStore) ListActiveInterpreters(ctx context.Context, envID *int64) ([]*Interpreter, error) {
	query := `
		SELECT i.emp_code, i.name, i.is_active, i.environment_id,
		       COALESCE(array_agg(l.language_code) FILTER (WHERE l.language_code IS NOT NULL), '{}')
		FROM interpreters i
		LEFT JOIN interpreter_languages l ON l.emp_code = i.emp_code
		WHERE i.is_active = TRUE AND ($1::bigint IS NULL OR i.environment_id = $1)
		GROUP BY i.emp_code, i.name, i.is_active, i.environment_id
		ORDER BY i.emp_code`
	rows, err := s.pool.Query(ctx, query, envID)
	if err != nil {
		return nil, fmt.Errorf("list interpreters: %w", err)
	}
	defer rows.Close()

	var out []*Interpreter
	for rows.Next() {
		var it Interpreter
		if err := rows.Scan(&it.EmpCode, &it.Name, &it.IsActive, &it.EnvironmentID, &it.Languages); err != nil {
			return nil, err
		}
		out = append(out, &it)
	}
	return out, rows.Err()
}

// --- Environment resolution ---

func (s *PostgresStore) EnvironmentIDForCenter(ctx context.Context, center string) (*int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`SELECT environment_id FROM environment_centers WHERE center = $1`, center).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("environment for center %q: %w", center, err)
	}
	return &id, nil
}

func (s *PostgresStore) LatestForwardTarget(ctx context.Context, bookingID int64) (*ForwardTarget, error) {
	var t ForwardTarget
	err := s.pool.QueryRow(ctx, `
		SELECT booking_id, environment_id, actor_emp_code, COALESCE(note, ''), created_at
		FROM booking_forward_targets
		WHERE booking_id = $1
		ORDER BY created_at DESC LIMIT 1`, bookingID).Scan(
		&t.BookingID, &t.EnvironmentID, &t.ActorEmpCode, &t.Note, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest forward target: %w", err)
	}
	return &t, nil
}

func (s *PostgresStore) AddForwardTarget(ctx context.Context, t *ForwardTarget) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO booking_forward_targets (booking_id, environment_id, actor_emp_code, note, created_at)
		VALUES ($1, $2, $3, $4, NOW())`,
		t.BookingID, t.EnvironmentID, t.ActorEmpCode, nullable(t.Note))
	if err != nil {
		return fmt.Errorf("add forward target: %w", err)
	}
	return nil
}

// --- Policy rows ---

func (s *PostgresStore) GetGlobalPolicy(ctx context.Context) (*GlobalPolicy, error) {
	var p GlobalPolicy
	err := s.pool.QueryRow(ctx, `
		SELECT mode, w_fair, w_urgency, w_lrs, fairness_window_days,
		       max_gap_hours, dr_consecutive_penalty
		FROM global_policy LIMIT 1`).Scan(
		&p.Mode, &p.WFair, &p.WUrgency, &p.WLRS, &p.FairnessWindowDays,
		&p.MaxGapHours, &p.DRConsecutivePenalty)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get global policy: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) SaveGlobalPolicy(ctx context.Context, p *GlobalPolicy) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO global_policy (singleton, mode, w_fair, w_urgency, w_lrs,
			fairness_window_days, max_gap_hours, dr_consecutive_penalty)
		VALUES (TRUE, $1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (singleton) DO UPDATE SET
			mode = EXCLUDED.mode,
			w_fair = EXCLUDED.w_fair,
			w_urgency = EXCLUDED.w_urgency,
			w_lrs = EXCLUDED.w_lrs,
			fairness_window_days = EXCLUDED.fairness_window_days,
			max_gap_hours = EXCLUDED.max_gap_hours,
			dr_consecutive_penalty = EXCLUDED.dr_consecutive_penalty`,
		p.Mode, p.WFair, p.WUrgency, p.WLRS,
		p.FairnessWindowDays, p.MaxGapHours, p.DRConsecutivePenalty)
	if err != nil {
		return fmt.Errorf("save global policy: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAutoAssignConfig(ctx context.Context, envID int64) (*AutoAssignConfig, error) {
	var c AutoAssignConfig
	err := s.pool.QueryRow(ctx, `
		SELECT environment_id, enabled, mode, w_fair, w_urgency, w_lrs,
		       fairness_window_days, max_gap_hours, dr_consecutive_penalty
		FROM auto_assignment_config WHERE environment_id = $1`, envID).Scan(
		&c.EnvironmentID, &c.Enabled, &c.Mode, &c.WFair, &c.WUrgency, &c.WLRS,
		&c.FairnessWindowDays, &c.MaxGapHours, &c.DRConsecutivePenalty)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get auto-assign config: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) SaveAutoAssignConfig(ctx context.Context, c *AutoAssignConfig) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO auto_assignment_config (environment_id, enabled, mode, w_fair,
			w_urgency, w_lrs, fairness_window_days, max_gap_hours, dr_consecutive_penalty)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (environment_id) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			mode = EXCLUDED.mode,
			w_fair = EXCLUDED.w_fair,
			w_urgency = EXCLUDED.w_urgency,
			w_lrs = EXCLUDED.w_lrs,
			fairness_window_days = EXCLUDED.fairness_window_days,
			max_gap_hours = EXCLUDED.max_gap_hours,
			dr_consecutive_penalty = EXCLUDED.dr_consecutive_penalty`,
		c.EnvironmentID, c.Enabled, c.Mode, c.WFair, c.WUrgency, c.WLRS,
		c.FairnessWindowDays, c.MaxGapHours, c.DRConsecutivePenalty)
	if err != nil {
		return fmt.Errorf("save auto-assign config: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetMeetingTypePriority(ctx context.Context, mt MeetingType) (*MeetingTypePriority, error) {
	var p MeetingTypePriority
	err := s.pool.QueryRow(ctx, `
		SELECT meeting_type, priority, urgent_threshold_days, general_threshold_days
		FROM meeting_type_priority WHERE meeting_type = $1`, mt).Scan(
		&p.MeetingType, &p.Priority, &p.UrgentThresholdDays, &p.GeneralThresholdDays)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get meeting type priority: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) GetModeThresholdOverride(ctx context.Context, envID int64, mode Mode, mt MeetingType) (*ModeThresholdOverride, error) {
	var o ModeThresholdOverride
	err := s.pool.QueryRow(ctx, `
		SELECT environment_id, mode, meeting_type, urgent_threshold_days, general_threshold_days
		FROM mode_threshold_overrides
		WHERE environment_id = $1 AND mode = $2 AND meeting_type = $3`,
		envID, mode, mt).Scan(
		&o.EnvironmentID, &o.Mode, &o.MeetingType, &o.UrgentThresholdDays, &o.GeneralThresholdDays)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get mode threshold override: %w", err)
	}
	return &o, nil
}

// --- Pool operations ---

func (s *PostgresStore) EnqueuePool(ctx context.Context, bookingID int64, entryTime, deadline time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE bookings SET pool_status = 'waiting', pool_entry_time = $2,
			pool_deadline_time = $3, pool_processing_attempts = 0, updated_at = NOW()
		WHERE booking_id = $1`,
		bookingID, entryTime, deadline)
	if err != nil {
		return fmt.Errorf("enqueue pool: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return NewError(CodeNotFound, "booking %d not found", bookingID)
	}
	return nil
}

func (s *PostgresStore) MarkPoolProcessing(ctx context.Context, bookingID int64, now time.Time) (bool, error) {
	// Conditional claim: only one caller wins the waiting/ready -> processing
	// transition.
	tag, err := s.pool.Exec(ctx, `
		UPDATE bookings SET pool_status = 'processing', auto_assign_locked_at = $2, updated_at = $2
		WHERE booking_id = $1 AND pool_status IN ('waiting', 'ready')`,
		bookingID, now)
	if err != nil {
		return false, fmt.Errorf("mark pool processing: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) SetPoolStatus(ctx context.Context, bookingID int64, status PoolStatus) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE bookings SET pool_status = $2, updated_at = NOW() WHERE booking_id = $1`,
		bookingID, nullable(string(status)))
	if err != nil {
		return fmt.Errorf("set pool status: %w", err)
	}
	return nil
}

func (s *PostgresStore) ClearPool(ctx context.Context, bookingID int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE bookings SET pool_status = NULL, pool_entry_time = NULL,
			pool_deadline_time = NULL, auto_assign_locked_at = NULL,
			auto_assign_locked_by = NULL, updated_at = NOW()
		WHERE booking_id = $1`, bookingID)
	if err != nil {
		return fmt.Errorf("clear pool: %w", err)
	}
	return nil
}

func (s *PostgresStore) IncrementPoolAttempts(ctx context.Context, bookingID int64) (int, error) {
	var attempts int
	err := s.pool.QueryRow(ctx, `
		UPDATE bookings SET pool_processing_attempts = pool_processing_attempts + 1,
			updated_at = NOW()
		WHERE booking_id = $1
		RETURNING pool_processing_attempts`, bookingID).Scan(&attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, NewError(CodeNotFound, "booking %d not found", bookingID)
	}
	if err != nil {
		return 0, fmt.Errorf("increment pool attempts: %w", err)
	}
	return attempts, nil
}

func (s *PostgresStore) ListPoolEntries(ctx context.Context, statuses ...PoolStatus) ([]*Booking, error) {
	ss := make([]string, len(statuses))
	for i, st := range statuses {
		ss[i] = string(st)
	}
	query := `SELECT ` + bookingColumns + `
		FROM bookings WHERE pool_status = ANY($1) ORDER BY pool_deadline_time ASC`
	return s.queryBookings(ctx, query, ss)
}

func (s *PostgresStore) ResetStuckProcessing(ctx context.Context, olderThan time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE bookings SET pool_status = 'waiting', auto_assign_locked_at = NULL, updated_at = NOW()
		WHERE pool_status = 'processing'
		  AND (auto_assign_locked_at IS NULL OR auto_assign_locked_at <= $1)`,
		olderThan)
	if err != nil {
		return 0, fmt.Errorf("reset stuck processing: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// --- Assignment log ---

func appendLogTx(ctx context.Context, tx pgx.Tx, entry *AssignmentLog) error {
	pre, err := json.Marshal(entry.PreHoursSnapshot)
	if err != nil {
		return err
	}
	post, err := json.Marshal(entry.PostHoursSnapshot)
	if err != nil {
		return err
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO assignment_logs (booking_id, environment_id, meeting_type,
			interpreter_emp_code, status, reason, pre_hours_snapshot,
			post_hours_snapshot, breakdown, correlation_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW())
		RETURNING log_id, created_at`,
		entry.BookingID, entry.EnvironmentID, entry.MeetingType,
		nullable(entry.InterpreterEmpCode), entry.Status, nullable(entry.Reason),
		pre, post, entry.Breakdown, nullable(entry.CorrelationID),
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("append assignment log: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendAssignmentLog(ctx context.Context, entry *AssignmentLog) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := appendLogTx(ctx, tx, entry); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) LastAssignmentTimes(ctx context.Context) (map[string]time.Time, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT interpreter_emp_code, MAX(created_at)
		FROM assignment_logs
		WHERE status = 'assigned' AND interpreter_emp_code IS NOT NULL
		GROUP BY interpreter_emp_code`)
	if err != nil {
		return nil, fmt.Errorf("last assignment times: %w", err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var emp string
		var t time.Time
		if err := rows.Scan(&emp, &t); err != nil {
			return nil, err
		}
		out[emp] = t
	}
	return out, rows.Err()
}

func (s *PostgresStore) LastDRAssignee(ctx context.Context, envID *int64) (string, error) {
	var emp string
	err := s.pool.QueryRow(ctx, `
		SELECT interpreter_emp_code FROM assignment_logs
		WHERE status = 'assigned' AND meeting_type = 'DR'
		  AND interpreter_emp_code IS NOT NULL
		  AND ($1::bigint IS NULL OR environment_id = $1)
		ORDER BY created_at DESC LIMIT 1`, envID).Scan(&emp)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("last DR assignee: %w", err)
	}
	return emp, nil
}

// --- Named locks ---

func (s *PostgresStore) AcquireLock(ctx context.Context, name string, timeout time.Duration) (bool, error) {
	return s.locks.Acquire(ctx, name, timeout)
}

func (s *PostgresStore) ReleaseLock(ctx context.Context, name string) error {
	return s.locks.Release(ctx, name)
}
