package store

import (
	"encoding/json"
	"time"
)

// MeetingType classifies a booking for threshold and priority lookup.
type MeetingType string

const (
	MeetingDR        MeetingType = "DR"
	MeetingVIP       MeetingType = "VIP"
	MeetingWeekly    MeetingType = "Weekly"
	MeetingGeneral   MeetingType = "General"
	MeetingUrgent    MeetingType = "Urgent"
	MeetingPresident MeetingType = "President"
	MeetingOther     MeetingType = "Other"
)

// DRType is the subkind carried by DR meetings.
type DRType string

const (
	DRTypePR    DRType = "DR_PR"
	DRTypeI     DRType = "DR_I"
	DRTypeII    DRType = "DR_II"
	DRTypeK     DRType = "DR_k"
	DRTypeOther DRType = "Other"
)

// BookingStatus is the assignment state of a booking.
type BookingStatus string

const (
	StatusWaiting  BookingStatus = "waiting"
	StatusApprove  BookingStatus = "approve"
	StatusCancel   BookingStatus = "cancel"
	StatusComplete BookingStatus = "complet"
)

// IsTerminal reports whether no further transitions leave this status
// (other than completion of an approved booking).
func (s BookingStatus) IsTerminal() bool {
	return s == StatusCancel || s == StatusComplete
}

// AutoAssignStatus is the scheduling state of a booking.
type AutoAssignStatus string

const (
	AutoAssignPending AutoAssignStatus = "pending"
	AutoAssignSkipped AutoAssignStatus = "skipped"
	AutoAssignDone    AutoAssignStatus = "done"
	AutoAssignLocked  AutoAssignStatus = "locked"
	AutoAssignFailed  AutoAssignStatus = "failed"
)

// PoolStatus tracks a booking inside the deferred-assignment pool.
// The empty string means the booking is not tracked by the pool.
type PoolStatus string

const (
	PoolNone       PoolStatus = ""
	PoolWaiting    PoolStatus = "waiting"
	PoolReady      PoolStatus = "ready"
	PoolProcessing PoolStatus = "processing"
	PoolFailed     PoolStatus = "failed"
)

// Mode is the process-wide assignment mode.
type Mode string

const (
	ModeBalance Mode = "BALANCE"
	ModeUrgent  Mode = "URGENT"
	ModeNormal  Mode = "NORMAL"
	ModeCustom  Mode = "CUSTOM"
)

// Booking is a request for interpretation.
type Booking struct {
	ID            int64       `json:"booking_id" db:"booking_id"`
	OwnerEmpCode  string      `json:"owner_emp_code" db:"owner_emp_code"`
	OwnerGroup    string      `json:"owner_group" db:"owner_group"`
	OwnerDeptPath string      `json:"owner_dept_path" db:"owner_dept_path"`
	MeetingType   MeetingType `json:"meeting_type" db:"meeting_type"`
	DRType        DRType      `json:"dr_type,omitempty" db:"dr_type"`
	TimeStart     time.Time   `json:"time_start" db:"time_start"`
	TimeEnd       time.Time   `json:"time_end" db:"time_end"`
	MeetingRoom   string      `json:"meeting_room" db:"meeting_room"`
	ChairmanEmail string      `json:"chairman_email,omitempty" db:"chairman_email"`
	LanguageCode  string      `json:"language_code,omitempty" db:"language_code"`

	// SelectedInterpreterEmpCode pins the candidate set to one interpreter.
	SelectedInterpreterEmpCode string `json:"selected_interpreter_emp_code,omitempty" db:"selected_interpreter_emp_code"`

	BookingStatus      BookingStatus `json:"booking_status" db:"booking_status"`
	InterpreterEmpCode *string       `json:"interpreter_emp_code,omitempty" db:"interpreter_emp_code"`

	AutoAssignAt       *time.Time       `json:"auto_assign_at,omitempty" db:"auto_assign_at"`
	AutoAssignStatus   AutoAssignStatus `json:"auto_assign_status" db:"auto_assign_status"`
	AutoAssignLockedAt *time.Time       `json:"auto_assign_locked_at,omitempty" db:"auto_assign_locked_at"`
	AutoAssignLockedBy string           `json:"auto_assign_locked_by,omitempty" db:"auto_assign_locked_by"`

	PoolStatus             PoolStatus `json:"pool_status,omitempty" db:"pool_status"`
	PoolEntryTime          *time.Time `json:"pool_entry_time,omitempty" db:"pool_entry_time"`
	PoolDeadlineTime       *time.Time `json:"pool_deadline_time,omitempty" db:"pool_deadline_time"`
	PoolProcessingAttempts int        `json:"pool_processing_attempts" db:"pool_processing_attempts"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Duration returns the meeting length.
func (b *Booking) Duration() time.Duration {
	return b.TimeEnd.Sub(b.TimeStart)
}

// Overlaps reports whether the booking intersects [start, end).
// Touching intervals (end == other start) do not overlap.
func (b *Booking) Overlaps(start, end time.Time) bool {
	return b.TimeStart.Before(end) && b.TimeEnd.After(start)
}

// transitions is the allowed booking-status transition table.
// Self-transitions are allowed where marked in the design table.
var transitions = map[BookingStatus][]BookingStatus{
	StatusWaiting:  {StatusWaiting, StatusApprove, StatusCancel},
	StatusApprove:  {StatusApprove, StatusCancel, StatusComplete},
	StatusCancel:   {StatusCancel},
	StatusComplete: {StatusComplete},
}

// TransitionAllowed reports whether a booking may move from one status
// to another.
func TransitionAllowed(from, to BookingStatus) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Interpreter is an employee profile with the INTERPRETER role.
type Interpreter struct {
	EmpCode       string   `json:"emp_code" db:"emp_code"`
	Name          string   `json:"name" db:"name"`
	IsActive      bool     `json:"is_active" db:"is_active"`
	Languages     []string `json:"languages" db:"languages"`
	EnvironmentID *int64   `json:"environment_id,omitempty" db:"environment_id"`
}

// OffersLanguage reports whether the interpreter covers a language code.
func (i *Interpreter) OffersLanguage(code string) bool {
	for _, l := range i.Languages {
		if l == code {
			return true
		}
	}
	return false
}

// Environment is an administrative grouping of centers and interpreters.
type Environment struct {
	ID      int64    `json:"environment_id" db:"environment_id"`
	Name    string   `json:"name" db:"name"`
	Centers []string `json:"centers" db:"centers"`
}

// ForwardTarget records an admin forwarding a booking to another environment.
type ForwardTarget struct {
	BookingID     int64     `json:"booking_id" db:"booking_id"`
	EnvironmentID int64     `json:"environment_id" db:"environment_id"`
	ActorEmpCode  string    `json:"actor_emp_code" db:"actor_emp_code"`
	Note          string    `json:"note,omitempty" db:"note"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// GlobalPolicy is the process-wide assignment policy row.
type GlobalPolicy struct {
	Mode                 Mode    `json:"mode" db:"mode"`
	WFair                float64 `json:"w_fair" db:"w_fair"`
	WUrgency             float64 `json:"w_urgency" db:"w_urgency"`
	WLRS                 float64 `json:"w_lrs" db:"w_lrs"`
	FairnessWindowDays   int     `json:"fairness_window_days" db:"fairness_window_days"`
	MaxGapHours          float64 `json:"max_gap_hours" db:"max_gap_hours"`
	DRConsecutivePenalty float64 `json:"dr_consecutive_penalty" db:"dr_consecutive_penalty"`
}

// MeetingTypePriority holds the per-type thresholds used to place a booking
// in the urgent or general band.
type MeetingTypePriority struct {
	MeetingType          MeetingType `json:"meeting_type" db:"meeting_type"`
	Priority             int         `json:"priority" db:"priority"`
	UrgentThresholdDays  int         `json:"urgent_threshold_days" db:"urgent_threshold_days"`
	GeneralThresholdDays int         `json:"general_threshold_days" db:"general_threshold_days"`
}

// ModeThresholdOverride adjusts thresholds for one environment and mode.
type ModeThresholdOverride struct {
	EnvironmentID        int64       `json:"environment_id" db:"environment_id"`
	Mode                 Mode        `json:"mode" db:"mode"`
	MeetingType          MeetingType `json:"meeting_type" db:"meeting_type"`
	UrgentThresholdDays  int         `json:"urgent_threshold_days" db:"urgent_threshold_days"`
	GeneralThresholdDays int         `json:"general_threshold_days" db:"general_threshold_days"`
}

// AutoAssignConfig is the per-environment policy overlay. Nil fields inherit
// the global value.
type AutoAssignConfig struct {
	EnvironmentID        int64    `json:"environment_id" db:"environment_id"`
	Enabled              bool     `json:"enabled" db:"enabled"`
	Mode                 *Mode    `json:"mode,omitempty" db:"mode"`
	WFair                *float64 `json:"w_fair,omitempty" db:"w_fair"`
	WUrgency             *float64 `json:"w_urgency,omitempty" db:"w_urgency"`
	WLRS                 *float64 `json:"w_lrs,omitempty" db:"w_lrs"`
	FairnessWindowDays   *int     `json:"fairness_window_days,omitempty" db:"fairness_window_days"`
	MaxGapHours          *float64 `json:"max_gap_hours,omitempty" db:"max_gap_hours"`
	DRConsecutivePenalty *float64 `json:"dr_consecutive_penalty,omitempty" db:"dr_consecutive_penalty"`
}

// Assignment log outcomes.
const (
	LogAssigned  = "assigned"
	LogEscalated = "escalated"
	LogRejected  = "rejected"
	LogSkipped   = "skipped"
	LogForwarded = "forwarded"
)

// AssignmentLog is the immutable record of one assignment decision.
type AssignmentLog struct {
	ID                 int64              `json:"log_id" db:"log_id"`
	BookingID          int64              `json:"booking_id" db:"booking_id"`
	EnvironmentID      *int64             `json:"environment_id,omitempty" db:"environment_id"`
	MeetingType        MeetingType        `json:"meeting_type" db:"meeting_type"`
	InterpreterEmpCode string             `json:"interpreter_emp_code,omitempty" db:"interpreter_emp_code"`
	Status             string             `json:"status" db:"status"`
	Reason             string             `json:"reason,omitempty" db:"reason"`
	PreHoursSnapshot   map[string]float64 `json:"pre_hours_snapshot,omitempty" db:"pre_hours_snapshot"`
	PostHoursSnapshot  map[string]float64 `json:"post_hours_snapshot,omitempty" db:"post_hours_snapshot"`
	Breakdown          json.RawMessage    `json:"breakdown,omitempty" db:"breakdown"`
	CorrelationID      string             `json:"correlation_id,omitempty" db:"correlation_id"`
	CreatedAt          time.Time          `json:"created_at" db:"created_at"`
}
