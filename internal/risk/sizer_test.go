package risk

import "testing"

type outcome struct {
	win        bool
	wantBefore float64
	wantAfter  float64
}

func TestSizerProgressions(t *testing.T) {
	cases := []struct {
		name string
		cfg  SizerConfig
		seq  []outcome
	}{
		{
			name: "martingale doubles on loss and resets on win",
			cfg:  SizerConfig{Mode: SizingMartingale},
			seq: []outcome{
				{false, 1, 2},
				{false, 2, 4},
				{true, 4, 1},
			},
		},
		{
			name: "martingale recovery sequence",
			cfg:  SizerConfig{Mode: SizingMartingale, MaxSteps: 5},
			seq: []outcome{
				{false, 1, 2},
				{false, 2, 4},
				{false, 4, 8},
				{true, 8, 1},
				{false, 1, 2},
				{true, 2, 1},
			},
		},
		{
			name: "martingale capped by max steps",
			cfg:  SizerConfig{Mode: SizingMartingale, MaxSteps: 3},
			seq: []outcome{
				{false, 1, 2},
				{false, 2, 4},
				{false, 4, 8},
				{false, 8, 8},
				{false, 8, 8},
			},
		},
		{
			name: "anti-martingale grows on win and resets on loss",
			cfg:  SizerConfig{Mode: SizingAntiMartingale, MaxSteps: 3},
			seq: []outcome{
				{true, 1, 2},
				{true, 2, 4},
				{true, 4, 8},
				{true, 8, 8},
				{false, 8, 1},
				{true, 1, 2},
			},
		},
		{
			name: "fixed never changes",
			cfg:  SizerConfig{Mode: SizingFixed},
			seq: []outcome{
				{true, 1, 1},
				{false, 1, 1},
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := NewSizer(10, tc.cfg)
			for i, o := range tc.seq {
				if got := s.Multiplier("R_100:pullback"); got != o.wantBefore {
					t.Fatalf("trade %d: multiplier before %v, want %v", i+1, got, o.wantBefore)
				}
				if got := s.Stake("R_100:pullback"); got != 10*o.wantBefore {
					t.Fatalf("trade %d: stake %v, want %v", i+1, got, 10*o.wantBefore)
				}
				s.Report("R_100:pullback", o.win)
				if got := s.Multiplier("R_100:pullback"); got != o.wantAfter {
					t.Fatalf("trade %d: multiplier after %v, want %v", i+1, got, o.wantAfter)
				}
			}
		})
	}
}

func TestSizerKeysAndBounds(t *testing.T) {
	s := NewSizer(10, SizerConfig{Mode: SizingMartingale, MaxStake: 25, MinStake: 5})
	s.Report("A", false)
	s.Report("A", false)
	if got := s.Stake("A"); got != 25 {
		t.Fatalf("expected stake clamped to 25, got %v", got)
	}
	if got := s.Stake("B"); got != 10 {
		t.Fatalf("keys must size independently, got %v", got)
	}

	small := NewSizer(2, SizerConfig{MinStake: 5})
	if got := small.Stake("A"); got != 5 {
		t.Fatalf("expected min stake 5, got %v", got)
	}
	if small.Mode() != SizingFixed {
		t.Fatalf("empty mode should be fixed, got %q", small.Mode())
	}
}

func TestSizerConfigValidate(t *testing.T) {
	if err := (SizerConfig{Mode: "double_down"}).Validate(); err == nil {
		t.Fatalf("expected unknown mode to fail")
	}
	if err := (SizerConfig{MinStake: 50, MaxStake: 10}).Validate(); err == nil {
		t.Fatalf("expected min above max to fail")
	}
	if err := (SizerConfig{Mode: SizingAntiMartingale, Factor: 1.5, MaxSteps: 2}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
