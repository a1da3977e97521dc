package store

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"
)

// MemoryStore is the in-memory Store implementation. It backs the test
// suites and standalone mode; Postgres is the durable backend.
type MemoryStore struct {
	mu sync.Mutex

	nextBookingID int64
	nextLogID     int64

	bookings     map[int64]*Booking
	interpreters map[string]*Interpreter
	centers      map[string]int64 // center name -> environment id
	forwards     map[int64][]*ForwardTarget

	global     *GlobalPolicy
	envConfigs map[int64]*AutoAssignConfig
	priorities map[MeetingType]*MeetingTypePriority
	overrides  map[string]*ModeThresholdOverride

	logs []*AssignmentLog

	locks map[string]chan struct{}
}

// NewMemoryStore initializes an empty MemoryStore with a default policy.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextBookingID: 1,
		nextLogID:     1,
		bookings:      make(map[int64]*Booking),
		interpreters:  make(map[string]*Interpreter),
		centers:       make(map[string]int64),
		forwards:      make(map[int64][]*ForwardTarget),
		envConfigs:    make(map[int64]*AutoAssignConfig),
		priorities:    make(map[MeetingType]*MeetingTypePriority),
		overrides:     make(map[string]*ModeThresholdOverride),
		locks:         make(map[string]chan struct{}),
	}
}

func overrideKey(envID int64, mode Mode, mt MeetingType) string {
	return string(mode) + "|" + string(mt) + "|" + strconv.FormatInt(envID, 10)
}

// --- Booking operations ---

func (s *MemoryStore) CreateBooking(ctx context.Context, b *Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b.ID == 0 {
		b.ID = s.nextBookingID
		s.nextBookingID++
	} else if b.ID >= s.nextBookingID {
		s.nextBookingID = b.ID + 1
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	b.UpdatedAt = b.CreatedAt

	cp := *b
	s.bookings[b.ID] = &cp
	return nil
}

func (s *MemoryStore) GetBooking(ctx context.Context, id int64) (*Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[id]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (s *MemoryStore) UpdateBookingStatus(ctx context.Context, id int64, from, to BookingStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[id]
	if !ok {
		return false, NewError(CodeNotFound, "booking %d not found", id)
	}
	if b.BookingStatus != from {
		return false, nil
	}
	b.BookingStatus = to
	b.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *MemoryStore) CommitAssignment(ctx context.Context, id int64, empCode string, entry *AssignmentLog) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[id]
	if !ok {
		return false, NewError(CodeNotFound, "booking %d not found", id)
	}
	if b.BookingStatus != StatusWaiting || b.InterpreterEmpCode != nil {
		return false, nil
	}

	code := empCode
	b.InterpreterEmpCode = &code
	b.BookingStatus = StatusApprove
	b.AutoAssignStatus = AutoAssignDone
	b.PoolStatus = PoolNone
	b.PoolEntryTime = nil
	b.PoolDeadlineTime = nil
	b.UpdatedAt = time.Now().UTC()

	if entry != nil {
		s.appendLogLocked(entry)
	}
	return true, nil
}

func (s *MemoryStore) SetAutoAssignStatus(ctx context.Context, id int64, status AutoAssignStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[id]
	if !ok {
		return NewError(CodeNotFound, "booking %d not found", id)
	}
	b.AutoAssignStatus = status
	b.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) SetAutoAssignAt(ctx context.Context, id int64, at time.Time, status AutoAssignStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[id]
	if !ok {
		return NewError(CodeNotFound, "booking %d not found", id)
	}
	t := at
	b.AutoAssignAt = &t
	b.AutoAssignStatus = status
	b.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) ListAssignableBookings(ctx context.Context, now time.Time, horizon time.Duration) ([]*Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Booking
	for _, b := range s.bookings {
		if b.BookingStatus != StatusWaiting || b.InterpreterEmpCode != nil {
			continue
		}
		if b.AutoAssignStatus != AutoAssignPending {
			continue
		}
		if b.AutoAssignAt == nil || b.AutoAssignAt.After(now) {
			continue
		}
		if b.TimeStart.After(now.Add(horizon)) {
			continue
		}
		cp := *b
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) listOverlapping(match func(*Booking) bool, start, end time.Time) []*Booking {
	var out []*Booking
	for _, b := range s.bookings {
		if b.BookingStatus == StatusCancel {
			continue
		}
		if !match(b) {
			continue
		}
		if b.Overlaps(start, end) {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemoryStore) ListInterpreterBookings(ctx context.Context, empCode string, start, end time.Time) ([]*Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.listOverlapping(func(b *Booking) bool {
		return b.InterpreterEmpCode != nil && *b.InterpreterEmpCode == empCode
	}, start, end), nil
}

func (s *MemoryStore) ListRoomBookings(ctx context.Context, room string, start, end time.Time) ([]*Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.listOverlapping(func(b *Booking) bool {
		return b.MeetingRoom == room
	}, start, end), nil
}

func (s *MemoryStore) ListChairmanBookings(ctx context.Context, email string, start, end time.Time) ([]*Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.listOverlapping(func(b *Booking) bool {
		return b.ChairmanEmail != "" && b.ChairmanEmail == email
	}, start, end), nil
}

func (s *MemoryStore) ListAssignedSince(ctx context.Context, cutoff time.Time) ([]*Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Booking
	for _, b := range s.bookings {
		if b.BookingStatus == StatusCancel || b.InterpreterEmpCode == nil {
			continue
		}
		if b.CreatedAt.Before(cutoff) {
			continue
		}
		cp := *b
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- Interpreter directory ---

// PutInterpreter registers or replaces an interpreter profile.
func (s *MemoryStore) PutInterpreter(i *Interpreter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *i
	s.interpreters[i.EmpCode] = &cp
}

func (s *MemoryStore) GetInterpreter(ctx context.Context, empCode string) (*Interpreter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.interpreters[empCode]
	if !ok {
		return nil, nil
	}
	cp := *i
	return &cp, nil
}

func (s *MemoryStore) ListActiveInterpreters(ctx context.Context, envID *int64) ([]*Interpreter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Interpreter
	for _, i := range s.interpreters {
		if !i.IsActive {
			continue
		}
		if envID != nil {
			if i.EnvironmentID == nil || *i.EnvironmentID != *envID {
				continue
			}
		}
		cp := *i
		out = append(out, &cp)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].EmpCode < out[b].EmpCode })
	return out, nil
}

// --- Environment resolution ---

// PutCenter maps a center name to an environment id.
func (s *MemoryStore) PutCenter(center string, envID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.centers[center] = envID
}

func (s *MemoryStore) EnvironmentIDForCenter(ctx context.Context, center string) (*int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.centers[center]
	if !ok {
		return nil, nil
	}
	v := id
	return &v, nil
}

func (s *MemoryStore) LatestForwardTarget(ctx context.Context, bookingID int64) (*ForwardTarget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	targets := s.forwards[bookingID]
	if len(targets) == 0 {
		return nil, nil
	}
	cp := *targets[len(targets)-1]
	return &cp, nil
}

func (s *MemoryStore) AddForwardTarget(ctx context.Context, t *ForwardTarget) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	cp := *t
	s.forwards[t.BookingID] = append(s.forwards[t.BookingID], &cp)
	return nil
}

// --- Policy rows ---

func (s *MemoryStore) GetGlobalPolicy(ctx context.Context) (*GlobalPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.global == nil {
		return nil, nil
	}
	cp := *s.global
	return &cp, nil
}

func (s *MemoryStore) SaveGlobalPolicy(ctx context.Context, p *GlobalPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *p
	s.global = &cp
	return nil
}

func (s *MemoryStore) GetAutoAssignConfig(ctx context.Context, envID int64) (*AutoAssignConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.envConfigs[envID]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) SaveAutoAssignConfig(ctx context.Context, c *AutoAssignConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *c
	s.envConfigs[c.EnvironmentID] = &cp
	return nil
}

// PutMeetingTypePriority registers a meeting-type priority row.
func (s *MemoryStore) PutMeetingTypePriority(p *MeetingTypePriority) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.priorities[p.MeetingType] = &cp
}

func (s *MemoryStore) GetMeetingTypePriority(ctx context.Context, mt MeetingType) (*MeetingTypePriority, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.priorities[mt]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

// PutModeThresholdOverride registers a per-environment threshold override.
func (s *MemoryStore) PutModeThresholdOverride(o *ModeThresholdOverride) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *o
	s.overrides[overrideKey(o.EnvironmentID, o.Mode, o.MeetingType)] = &cp
}

func (s *MemoryStore) GetModeThresholdOverride(ctx context.Context, envID int64, mode Mode, mt MeetingType) (*ModeThresholdOverride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.overrides[overrideKey(envID, mode, mt)]
	if !ok {
		return nil, nil
	}
	cp := *o
	return &cp, nil
}

// --- Pool operations ---

func (s *MemoryStore) EnqueuePool(ctx context.Context, bookingID int64, entryTime, deadline time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[bookingID]
	if !ok {
		return NewError(CodeNotFound, "booking %d not found", bookingID)
	}
	e, d := entryTime, deadline
	b.PoolStatus = PoolWaiting
	b.PoolEntryTime = &e
	b.PoolDeadlineTime = &d
	b.PoolProcessingAttempts = 0
	b.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) MarkPoolProcessing(ctx context.Context, bookingID int64, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[bookingID]
	if !ok {
		return false, NewError(CodeNotFound, "booking %d not found", bookingID)
	}
	if b.PoolStatus != PoolWaiting && b.PoolStatus != PoolReady {
		return false, nil
	}
	t := now
	b.PoolStatus = PoolProcessing
	b.AutoAssignLockedAt = &t
	b.UpdatedAt = now
	return true, nil
}

func (s *MemoryStore) SetPoolStatus(ctx context.Context, bookingID int64, status PoolStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[bookingID]
	if !ok {
		return NewError(CodeNotFound, "booking %d not found", bookingID)
	}
	b.PoolStatus = status
	b.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) ClearPool(ctx context.Context, bookingID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[bookingID]
	if !ok {
		return NewError(CodeNotFound, "booking %d not found", bookingID)
	}
	b.PoolStatus = PoolNone
	b.PoolEntryTime = nil
	b.PoolDeadlineTime = nil
	b.AutoAssignLockedAt = nil
	b.AutoAssignLockedBy = ""
	b.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) IncrementPoolAttempts(ctx context.Context, bookingID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[bookingID]
	if !ok {
		return 0, NewError(CodeNotFound, "booking %d not found", bookingID)
	}
	b.PoolProcessingAttempts++
	b.UpdatedAt = time.Now().UTC()
	return b.PoolProcessingAttempts, nil
}

func (s *MemoryStore) ListPoolEntries(ctx context.Context, statuses ...PoolStatus) ([]*Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Booking
	for _, b := range s.bookings {
		for _, st := range statuses {
			if b.PoolStatus == st {
				cp := *b
				out = append(out, &cp)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) ResetStuckProcessing(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, b := range s.bookings {
		if b.PoolStatus != PoolProcessing {
			continue
		}
		if b.AutoAssignLockedAt != nil && b.AutoAssignLockedAt.After(olderThan) {
			continue
		}
		b.PoolStatus = PoolWaiting
		b.AutoAssignLockedAt = nil
		b.UpdatedAt = time.Now().UTC()
		n++
	}
	return n, nil
}

// --- Assignment log ---

func (s *MemoryStore) appendLogLocked(entry *AssignmentLog) {
	cp := *entry
	cp.ID = s.nextLogID
	s.nextLogID++
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.logs = append(s.logs, &cp)
	entry.ID = cp.ID
}

func (s *MemoryStore) AppendAssignmentLog(ctx context.Context, entry *AssignmentLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLogLocked(entry)
	return nil
}

// AssignmentLogs returns a snapshot of all log entries, oldest first.
func (s *MemoryStore) AssignmentLogs() []*AssignmentLog {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*AssignmentLog, 0, len(s.logs))
	for _, l := range s.logs {
		cp := *l
		out = append(out, &cp)
	}
	return out
}

func (s *MemoryStore) LastAssignmentTimes(ctx context.Context) (map[string]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]time.Time)
	for _, l := range s.logs {
		if l.Status != LogAssigned || l.InterpreterEmpCode == "" {
			continue
		}
		if prev, ok := out[l.InterpreterEmpCode]; !ok || l.CreatedAt.After(prev) {
			out[l.InterpreterEmpCode] = l.CreatedAt
		}
	}
	return out, nil
}

func (s *MemoryStore) LastDRAssignee(ctx context.Context, envID *int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var last *AssignmentLog
	for _, l := range s.logs {
		if l.Status != LogAssigned || l.MeetingType != MeetingDR {
			continue
		}
		if envID != nil {
			if l.EnvironmentID == nil || *l.EnvironmentID != *envID {
				continue
			}
		}
		if last == nil || l.CreatedAt.After(last.CreatedAt) {
			last = l
		}
	}
	if last == nil {
		return "", nil
	}
	return last.InterpreterEmpCode, nil
}

// --- Named locks ---

func (s *MemoryStore) lockChan(name string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.locks[name]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[name] = ch
	}
	return ch
}

func (s *MemoryStore) AcquireLock(ctx context.Context, name string, timeout time.Duration) (bool, error) {
	ch := s.lockChan(name)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		return true, nil
	case <-timer.C:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (s *MemoryStore) ReleaseLock(ctx context.Context, name string) error {
	ch := s.lockChan(name)
	select {
	case <-ch:
		return nil
	default:
		return NewError(CodeInternal, "lock %q not held", name)
	}
}
