package risk

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

var day0 = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

func TestCooldownEscalation(t *testing.T) {
	th := NewThrottle(ThrottleConfig{Tiers: DefaultTiers()}, zerolog.Nop())
	t0 := day0
	t1 := day0.Add(2 * time.Minute)

	th.Report("X", -1, false, t0)
	if st := th.State("X", t0); st.CooldownUntil != t0.Add(time.Minute) {
		t.Fatalf("expected tier-1 cooldown, got %v", st.CooldownUntil)
	}
	th.Report("X", -1, false, t1)
	st := th.State("X", t1)
	if st.ConsecutiveLosses != 2 || st.CooldownUntil != t1.Add(5*time.Minute) {
		t.Fatalf("expected tier-2 cooldown from t1, got %+v", st)
	}
	if ok, reason := th.Check("X", t1.Add(time.Minute)); ok || reason != ReasonCooldown {
		t.Fatalf("expected cooldown rejection, got %v %s", ok, reason)
	}

	t2 := t1.Add(10 * time.Minute)
	th.Report("X", 2, true, t2)
	if st := th.State("X", t2); st.ConsecutiveLosses != 0 || !st.CooldownUntil.IsZero() {
		t.Fatalf("win must clear cooldown, got %+v", st)
	}

	t3 := t2.Add(time.Minute)
	th.Report("X", -1, false, t3)
	if st := th.State("X", t3); st.ConsecutiveLosses != 1 || st.CooldownUntil != t3.Add(time.Minute) {
		t.Fatalf("expected escalation restart at tier 1, got %+v", st)
	}
	if ok, _ := th.Check("X", t3.Add(61*time.Second)); !ok {
		t.Fatalf("cooldown should have expired")
	}
}

func TestHighestTierCapsEscalation(t *testing.T) {
	th := NewThrottle(ThrottleConfig{Tiers: DefaultTiers()}, zerolog.Nop())
	if th.CooldownFor(0) != 0 || th.CooldownFor(7) != time.Hour {
		t.Fatalf("unexpected tier lookup")
	}
	unsorted := NewThrottle(ThrottleConfig{Tiers: []Tier{{Losses: 3, Cooldown: time.Hour}, {Losses: 2, Cooldown: time.Minute}}}, zerolog.Nop())
	if unsorted.CooldownFor(2) != time.Minute || unsorted.CooldownFor(3) != time.Hour {
		t.Fatalf("tiers must be sorted")
	}
}

func TestDailyLossLimitHaltsUntilNextDay(t *testing.T) {
	th := NewThrottle(ThrottleConfig{DailyLossLimitPct: 0.05, Capital: 1000}, zerolog.Nop())
	th.Report("X", -30, false, day0)
	if ok, _ := th.Check("X", day0); !ok {
		t.Fatalf("not yet at limit")
	}
	th.Report("X", -20, false, day0.Add(time.Hour))
	if ok, reason := th.Check("X", day0.Add(2*time.Hour)); ok || reason != ReasonDailyLossLimit {
		t.Fatalf("expected daily limit, got %v %s", ok, reason)
	}
	th.Report("X", 100, true, day0.Add(3*time.Hour))
	if ok, _ := th.Check("X", day0.Add(3*time.Hour)); ok {
		t.Fatalf("halt holds for the rest of the day regardless of wins")
	}
	if ok, _ := th.Check("Y", day0.Add(3*time.Hour)); !ok {
		t.Fatalf("other keys are unaffected")
	}
	next := time.Date(2024, 3, 5, 0, 0, 1, 0, time.UTC)
	if ok, _ := th.Check("X", next); !ok {
		t.Fatalf("expected reset at UTC day boundary")
	}
	if st := th.State("X", next); st.DailyPnL != 0 || st.TradingDay != "2024-03-05" {
		t.Fatalf("unexpected state after rollover %+v", st)
	}
}
