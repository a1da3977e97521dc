// Package policy loads and merges assignment policy: the global policy row,
// per-environment overlays, meeting-type thresholds, and mode semantics.
package policy

import (
	"context"
	"fmt"

	"github.com/sssNYz/interpreter-booking/observability"
	"github.com/sssNYz/interpreter-booking/store"
)

// Effective is the merged policy value every engine component consumes.
// Components never read raw policy rows.
type Effective struct {
	EnvironmentID        *int64     `json:"environment_id,omitempty"`
	Mode                 store.Mode `json:"mode"`
	WFair                float64    `json:"w_fair"`
	WUrgency             float64    `json:"w_urgency"`
	WLRS                 float64    `json:"w_lrs"`
	FairnessWindowDays   int        `json:"fairness_window_days"`
	MaxGapHours          float64    `json:"max_gap_hours"`
	DRConsecutivePenalty float64    `json:"dr_consecutive_penalty"`
	AutoAssignEnabled    bool       `json:"auto_assign_enabled"`
}

// Thresholds are the resolved urgent/general bands for one meeting type.
type Thresholds struct {
	MeetingType          store.MeetingType `json:"meeting_type"`
	UrgentThresholdDays  int               `json:"urgent_threshold_days"`
	GeneralThresholdDays int               `json:"general_threshold_days"`
}

// modeDefaults returns the locked parameters for a non-CUSTOM mode.
func modeDefaults(mode store.Mode) (wFair, wUrgency, wLRS, drPenalty float64, ok bool) {
	switch mode {
	case store.ModeNormal:
		return 1.0, 1.0, 1.0, -0.5, true
	case store.ModeBalance:
		return 2.0, 0.8, 1.2, -1.0, true
	case store.ModeUrgent:
		return 0.8, 2.0, 0.5, -0.2, true
	default:
		return 0, 0, 0, 0, false
	}
}

// defaultGlobal is used when no global_policy row exists yet.
func defaultGlobal() *store.GlobalPolicy {
	return &store.GlobalPolicy{
		Mode:                 store.ModeNormal,
		WFair:                1.0,
		WUrgency:             1.0,
		WLRS:                 1.0,
		FairnessWindowDays:   30,
		MaxGapHours:          10,
		DRConsecutivePenalty: -0.5,
	}
}

// Validate rejects out-of-range policy parameters.
func Validate(p *store.GlobalPolicy) error {
	if p.WFair < 0 || p.WUrgency < 0 || p.WLRS < 0 {
		return store.NewError(store.CodeBadRequest, "weights must be non-negative")
	}
	if p.DRConsecutivePenalty > 0 {
		return store.NewError(store.CodeBadRequest, "dr consecutive penalty must be <= 0")
	}
	if p.FairnessWindowDays < 7 || p.FairnessWindowDays > 90 {
		return store.NewError(store.CodeBadRequest, "fairness window days must be in [7, 90]")
	}
	if p.MaxGapHours < 1 || p.MaxGapHours > 100 {
		return store.NewError(store.CodeBadRequest, "max gap hours must be in [1, 100]")
	}
	switch p.Mode {
	case store.ModeBalance, store.ModeUrgent, store.ModeNormal, store.ModeCustom:
	default:
		return store.NewError(store.CodeBadRequest, "unknown mode %q", p.Mode)
	}
	return nil
}

// applyParameterLock forces mode-locked fields back to their mode defaults.
// Only CUSTOM mode exposes every parameter to the administrator.
func applyParameterLock(p *store.GlobalPolicy) {
	if wf, wu, wl, dp, ok := modeDefaults(p.Mode); ok {
		p.WFair, p.WUrgency, p.WLRS, p.DRConsecutivePenalty = wf, wu, wl, dp
	}
}

// Store loads and merges policy rows, optionally through a cache.
type Store struct {
	db    store.Store
	cache *Cache
}

// NewStore builds a policy store. cache may be nil.
func NewStore(db store.Store, cache *Cache) *Store {
	return &Store{db: db, cache: cache}
}

// Save validates, applies the parameter lock, persists the global policy,
// and invalidates the cache.
func (s *Store) Save(ctx context.Context, p *store.GlobalPolicy) error {
	if err := Validate(p); err != nil {
		return err
	}
	applyParameterLock(p)
	if err := s.db.SaveGlobalPolicy(ctx, p); err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.InvalidateAll(ctx)
	}
	return nil
}

// SaveOverlay persists a per-environment overlay and invalidates its cache
// entry.
func (s *Store) SaveOverlay(ctx context.Context, c *store.AutoAssignConfig) error {
	if err := s.db.SaveAutoAssignConfig(ctx, c); err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.Invalidate(ctx, &c.EnvironmentID)
	}
	return nil
}

// Effective merges global policy with the environment overlay. A nil envID
// yields the global policy with auto-assign enabled.
func (s *Store) Effective(ctx context.Context, envID *int64) (*Effective, error) {
	if s.cache != nil {
		if e, ok := s.cache.Get(ctx, envID); ok {
			observability.PolicyCacheHits.WithLabelValues("hit").Inc()
			return e, nil
		}
		observability.PolicyCacheHits.WithLabelValues("miss").Inc()
	}

	global, err := s.db.GetGlobalPolicy(ctx)
	if err != nil {
		return nil, fmt.Errorf("load global policy: %w", err)
	}
	if global == nil {
		global = defaultGlobal()
	}
	applyParameterLock(global)

	eff := &Effective{
		EnvironmentID:        envID,
		Mode:                 global.Mode,
		WFair:                global.WFair,
		WUrgency:             global.WUrgency,
		WLRS:                 global.WLRS,
		FairnessWindowDays:   global.FairnessWindowDays,
		MaxGapHours:          global.MaxGapHours,
		DRConsecutivePenalty: global.DRConsecutivePenalty,
		AutoAssignEnabled:    true,
	}

	if envID != nil {
		overlay, err := s.db.GetAutoAssignConfig(ctx, *envID)
		if err != nil {
			return nil, fmt.Errorf("load env overlay: %w", err)
		}
		if overlay != nil {
			eff.AutoAssignEnabled = overlay.Enabled
			if overlay.Mode != nil {
				eff.Mode = *overlay.Mode
			}
			if overlay.WFair != nil {
				eff.WFair = *overlay.WFair
			}
			if overlay.WUrgency != nil {
				eff.WUrgency = *overlay.WUrgency
			}
			if overlay.WLRS != nil {
				eff.WLRS = *overlay.WLRS
			}
			if overlay.FairnessWindowDays != nil {
				eff.FairnessWindowDays = *overlay.FairnessWindowDays
			}
			if overlay.MaxGapHours != nil {
				eff.MaxGapHours = *overlay.MaxGapHours
			}
			if overlay.DRConsecutivePenalty != nil {
				eff.DRConsecutivePenalty = *overlay.DRConsecutivePenalty
			}
			// An overlay that changes the mode re-locks the mode-bound
			// parameters unless it is CUSTOM.
			if overlay.Mode != nil {
				if wf, wu, wl, dp, ok := modeDefaults(eff.Mode); ok {
					if overlay.WFair == nil {
						eff.WFair = wf
					}
					if overlay.WUrgency == nil {
						eff.WUrgency = wu
					}
					if overlay.WLRS == nil {
						eff.WLRS = wl
					}
					if overlay.DRConsecutivePenalty == nil {
						eff.DRConsecutivePenalty = dp
					}
				}
			}
		}
	}

	if s.cache != nil {
		s.cache.Put(ctx, envID, eff)
	}
	return eff, nil
}

// defaultThresholds covers meeting types without a priority row.
var defaultThresholds = map[store.MeetingType]Thresholds{
	store.MeetingDR:        {MeetingType: store.MeetingDR, UrgentThresholdDays: 3, GeneralThresholdDays: 14},
	store.MeetingVIP:       {MeetingType: store.MeetingVIP, UrgentThresholdDays: 3, GeneralThresholdDays: 14},
	store.MeetingWeekly:    {MeetingType: store.MeetingWeekly, UrgentThresholdDays: 2, GeneralThresholdDays: 7},
	store.MeetingGeneral:   {MeetingType: store.MeetingGeneral, UrgentThresholdDays: 2, GeneralThresholdDays: 14},
	store.MeetingUrgent:    {MeetingType: store.MeetingUrgent, UrgentThresholdDays: 1, GeneralThresholdDays: 3},
	store.MeetingPresident: {MeetingType: store.MeetingPresident, UrgentThresholdDays: 5, GeneralThresholdDays: 21},
	store.MeetingOther:     {MeetingType: store.MeetingOther, UrgentThresholdDays: 2, GeneralThresholdDays: 14},
}

// ResolveThresholds resolves the urgent/general bands for a booking: the
// meeting-type priority row, adjusted by mode, then overridden by the
// environment's threshold row when present.
func (s *Store) ResolveThresholds(ctx context.Context, envID *int64, mt store.MeetingType, mode store.Mode) (Thresholds, error) {
	th, ok := defaultThresholds[mt]
	if !ok {
		th = defaultThresholds[store.MeetingOther]
		th.MeetingType = mt
	}

	row, err := s.db.GetMeetingTypePriority(ctx, mt)
	if err != nil {
		return th, fmt.Errorf("load meeting type priority: %w", err)
	}
	if row != nil {
		th.UrgentThresholdDays = row.UrgentThresholdDays
		th.GeneralThresholdDays = row.GeneralThresholdDays
	}

	switch mode {
	case store.ModeUrgent:
		// Urgent mode shrinks the pool window so bookings fire sooner.
		th.UrgentThresholdDays = maxInt(1, th.UrgentThresholdDays/2)
	case store.ModeBalance:
		th.GeneralThresholdDays = th.GeneralThresholdDays * 3 / 2
	}

	if envID != nil {
		ovr, err := s.db.GetModeThresholdOverride(ctx, *envID, mode, mt)
		if err != nil {
			return th, fmt.Errorf("load threshold override: %w", err)
		}
		if ovr != nil {
			th.UrgentThresholdDays = ovr.UrgentThresholdDays
			th.GeneralThresholdDays = ovr.GeneralThresholdDays
		}
	}
	return th, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
