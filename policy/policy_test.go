package policy

import (
	"context"
	"testing"

	"github.com/sssNYz/interpreter-booking/store"
)

func validPolicy() *store.GlobalPolicy {
	return &store.GlobalPolicy{
		Mode:                 store.ModeCustom,
		WFair:                1.5,
		WUrgency:             0.7,
		WLRS:                 1.0,
		FairnessWindowDays:   30,
		MaxGapHours:          10,
		DRConsecutivePenalty: -0.7,
	}
}

func TestValidateRanges(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*store.GlobalPolicy)
		wantOK bool
	}{
		{"valid", func(p *store.GlobalPolicy) {}, true},
		{"negative weight", func(p *store.GlobalPolicy) { p.WFair = -0.1 }, false},
		{"positive penalty", func(p *store.GlobalPolicy) { p.DRConsecutivePenalty = 0.5 }, false},
		{"window too small", func(p *store.GlobalPolicy) { p.FairnessWindowDays = 6 }, false},
		{"window lower bound", func(p *store.GlobalPolicy) { p.FairnessWindowDays = 7 }, true},
		{"window upper bound", func(p *store.GlobalPolicy) { p.FairnessWindowDays = 90 }, true},
		{"window too large", func(p *store.GlobalPolicy) { p.FairnessWindowDays = 91 }, false},
		{"gap too small", func(p *store.GlobalPolicy) { p.MaxGapHours = 0.5 }, false},
		{"gap too large", func(p *store.GlobalPolicy) { p.MaxGapHours = 101 }, false},
		{"unknown mode", func(p *store.GlobalPolicy) { p.Mode = "TURBO" }, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			p := validPolicy()
			c.mutate(p)
			err := Validate(p)
			if c.wantOK && err != nil {
				t.Errorf("Validate returned %v, want nil", err)
			}
			if !c.wantOK {
				if err == nil {
					t.Fatal("Validate returned nil, want error")
				}
				if !store.IsCode(err, store.CodeBadRequest) {
					t.Errorf("error code = %s, want BAD_REQUEST", store.CodeOf(err))
				}
			}
		})
	}
}

func TestParameterLockOnSave(t *testing.T) {
	ctx := context.Background()
	db := store.NewMemoryStore()
	s := NewStore(db, nil)

	p := validPolicy()
	p.Mode = store.ModeBalance
	p.WFair = 9.9 // must be overridden by the mode lock
	if err := s.Save(ctx, p); err != nil {
		t.Fatalf("Save: %v", err)
	}

	eff, err := s.Effective(ctx, nil)
	if err != nil {
		t.Fatalf("Effective: %v", err)
	}
	if eff.WFair != 2.0 || eff.WUrgency != 0.8 || eff.WLRS != 1.2 {
		t.Errorf("BALANCE weights = (%v, %v, %v), want (2.0, 0.8, 1.2)", eff.WFair, eff.WUrgency, eff.WLRS)
	}
	if eff.DRConsecutivePenalty != -1.0 {
		t.Errorf("BALANCE penalty = %v, want -1.0", eff.DRConsecutivePenalty)
	}
}

func TestCustomModeKeepsAdminParameters(t *testing.T) {
	ctx := context.Background()
	db := store.NewMemoryStore()
	s := NewStore(db, nil)

	p := validPolicy()
	if err := s.Save(ctx, p); err != nil {
		t.Fatalf("Save: %v", err)
	}
	eff, err := s.Effective(ctx, nil)
	if err != nil {
		t.Fatalf("Effective: %v", err)
	}
	if eff.WFair != 1.5 || eff.DRConsecutivePenalty != -0.7 {
		t.Errorf("CUSTOM parameters were rewritten: %+v", eff)
	}
}

func TestEffectiveDefaultsWithoutRow(t *testing.T) {
	ctx := context.Background()
	s := NewStore(store.NewMemoryStore(), nil)

	eff, err := s.Effective(ctx, nil)
	if err != nil {
		t.Fatalf("Effective: %v", err)
	}
	if eff.Mode != store.ModeNormal {
		t.Errorf("default mode = %s, want NORMAL", eff.Mode)
	}
	if !eff.AutoAssignEnabled {
		t.Error("auto assign should be enabled by default")
	}
	if eff.FairnessWindowDays != 30 || eff.MaxGapHours != 10 {
		t.Errorf("default window/gap = %d/%v", eff.FairnessWindowDays, eff.MaxGapHours)
	}
}

func TestOverlayMerge(t *testing.T) {
	ctx := context.Background()
	db := store.NewMemoryStore()
	s := NewStore(db, nil)

	if err := s.Save(ctx, &store.GlobalPolicy{
		Mode: store.ModeNormal, WFair: 1, WUrgency: 1, WLRS: 1,
		FairnessWindowDays: 30, MaxGapHours: 10, DRConsecutivePenalty: -0.5,
	}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	envID := int64(7)
	window := 14
	gap := 6.0
	if err := s.SaveOverlay(ctx, &store.AutoAssignConfig{
		EnvironmentID:      envID,
		Enabled:            true,
		FairnessWindowDays: &window,
		MaxGapHours:        &gap,
	}); err != nil {
		t.Fatalf("SaveOverlay: %v", err)
	}

	eff, err := s.Effective(ctx, &envID)
	if err != nil {
		t.Fatalf("Effective: %v", err)
	}
	if eff.FairnessWindowDays != 14 || eff.MaxGapHours != 6 {
		t.Errorf("overlay did not win: window=%d gap=%v", eff.FairnessWindowDays, eff.MaxGapHours)
	}
	if eff.Mode != store.ModeNormal || eff.WFair != 1 {
		t.Errorf("unset overlay fields must inherit global: %+v", eff)
	}

	// A different environment sees the unmodified global policy.
	other := int64(8)
	eff, err = s.Effective(ctx, &other)
	if err != nil {
		t.Fatalf("Effective: %v", err)
	}
	if eff.FairnessWindowDays != 30 {
		t.Errorf("unrelated env window = %d, want 30", eff.FairnessWindowDays)
	}
}

func TestOverlayModeChangeRelocks(t *testing.T) {
	ctx := context.Background()
	db := store.NewMemoryStore()
	s := NewStore(db, nil)

	envID := int64(3)
	mode := store.ModeUrgent
	if err := s.SaveOverlay(ctx, &store.AutoAssignConfig{
		EnvironmentID: envID,
		Enabled:       true,
		Mode:          &mode,
	}); err != nil {
		t.Fatalf("SaveOverlay: %v", err)
	}

	eff, err := s.Effective(ctx, &envID)
	if err != nil {
		t.Fatalf("Effective: %v", err)
	}
	if eff.Mode != store.ModeUrgent {
		t.Fatalf("mode = %s, want URGENT", eff.Mode)
	}
	if eff.WFair != 0.8 || eff.WUrgency != 2.0 || eff.WLRS != 0.5 {
		t.Errorf("URGENT weights = (%v, %v, %v), want (0.8, 2.0, 0.5)", eff.WFair, eff.WUrgency, eff.WLRS)
	}
}

func TestResolveThresholdsModeAdjust(t *testing.T) {
	ctx := context.Background()
	db := store.NewMemoryStore()
	s := NewStore(db, nil)

	db.PutMeetingTypePriority(&store.MeetingTypePriority{
		MeetingType:          store.MeetingGeneral,
		UrgentThresholdDays:  2,
		GeneralThresholdDays: 14,
	})

	th, err := s.ResolveThresholds(ctx, nil, store.MeetingGeneral, store.ModeNormal)
	if err != nil {
		t.Fatalf("ResolveThresholds: %v", err)
	}
	if th.UrgentThresholdDays != 2 || th.GeneralThresholdDays != 14 {
		t.Errorf("NORMAL thresholds = %+v", th)
	}

	th, err = s.ResolveThresholds(ctx, nil, store.MeetingGeneral, store.ModeUrgent)
	if err != nil {
		t.Fatalf("ResolveThresholds: %v", err)
	}
	if th.UrgentThresholdDays != 1 {
		t.Errorf("URGENT halves the urgent band: got %d, want 1", th.UrgentThresholdDays)
	}

	th, err = s.ResolveThresholds(ctx, nil, store.MeetingGeneral, store.ModeBalance)
	if err != nil {
		t.Fatalf("ResolveThresholds: %v", err)
	}
	if th.GeneralThresholdDays != 21 {
		t.Errorf("BALANCE widens the general band: got %d, want 21", th.GeneralThresholdDays)
	}
}

func TestResolveThresholdsEnvOverrideWins(t *testing.T) {
	ctx := context.Background()
	db := store.NewMemoryStore()
	s := NewStore(db, nil)

	envID := int64(5)
	db.PutModeThresholdOverride(&store.ModeThresholdOverride{
		EnvironmentID:        envID,
		Mode:                 store.ModeNormal,
		MeetingType:          store.MeetingDR,
		UrgentThresholdDays:  7,
		GeneralThresholdDays: 30,
	})

	th, err := s.ResolveThresholds(ctx, &envID, store.MeetingDR, store.ModeNormal)
	if err != nil {
		t.Fatalf("ResolveThresholds: %v", err)
	}
	if th.UrgentThresholdDays != 7 || th.GeneralThresholdDays != 30 {
		t.Errorf("env override not applied: %+v", th)
	}
}

func TestUrgentHalvingFloorsAtOne(t *testing.T) {
	ctx := context.Background()
	s := NewStore(store.NewMemoryStore(), nil)

	// Urgent meetings already have a one-day urgent band.
	th, err := s.ResolveThresholds(ctx, nil, store.MeetingUrgent, store.ModeUrgent)
	if err != nil {
		t.Fatalf("ResolveThresholds: %v", err)
	}
	if th.UrgentThresholdDays != 1 {
		t.Errorf("urgent threshold = %d, want floor of 1", th.UrgentThresholdDays)
	}
}
