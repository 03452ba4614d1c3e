package ratelimit

import (
	"testing"
	"time"

	"github.com/vantagesec/vantage/pkg/models"
)

func testLimiter(freeLimit int, window time.Duration) (*Limiter, *time.Time) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := NewLimiter(Config{FreeLimit: freeLimit, PremiumLimit: freeLimit * 10, Window: window, Enabled: true})
	l.now = func() time.Time { return now }
	return l, &now
}

func TestCheckConsumesQuota(t *testing.T) {
	l, _ := testLimiter(2, time.Hour)

	for i := 0; i < 2; i++ {
		d := l.Check("u1", "chat", models.TierFree)
		if !d.Allowed {
			t.Fatalf("request %d unexpectedly denied", i)
		}
	}
	d := l.Check("u1", "chat", models.TierFree)
	if d.Allowed {
		t.Fatal("third request should be denied at limit 2")
	}
	if d.Info.Remaining != 0 {
		t.Errorf("remaining = %d, want 0", d.Info.Remaining)
	}
	if d.Info.Limit != 2 {
		t.Errorf("limit = %d, want 2", d.Info.Limit)
	}
}

func TestResourceKeysAreIndependent(t *testing.T) {
	l, _ := testLimiter(1, time.Hour)

	if d := l.Check("u1", "chat", models.TierFree); !d.Allowed {
		t.Fatal("first chat request denied")
	}
	if d := l.Check("u1", "chat", models.TierFree); d.Allowed {
		t.Fatal("second chat request should be denied")
	}
	if d := l.Check("u1", "agent", models.TierFree); !d.Allowed {
		t.Fatal("agent resource must have its own window")
	}
}

func TestWindowResets(t *testing.T) {
	l, now := testLimiter(1, time.Hour)

	if d := l.Check("u1", "chat", models.TierFree); !d.Allowed {
		t.Fatal("first request denied")
	}
	if d := l.Check("u1", "chat", models.TierFree); d.Allowed {
		t.Fatal("quota should be exhausted")
	}

	*now = now.Add(2 * time.Hour)
	if d := l.Check("u1", "chat", models.TierFree); !d.Allowed {
		t.Fatal("request after window reset denied")
	}
}

func TestPremiumTierQuota(t *testing.T) {
	l, _ := testLimiter(1, time.Hour)

	if d := l.Check("u1", "chat", models.TierFree); !d.Allowed {
		t.Fatal("free request denied")
	}
	d := l.Check("u2", "chat", models.TierPremium)
	if !d.Allowed {
		t.Fatal("premium request denied")
	}
	if !d.Info.IsPremiumUser {
		t.Error("premium flag missing from quota info")
	}
	if d.Info.Limit != 10 {
		t.Errorf("premium limit = %d, want 10", d.Info.Limit)
	}
}

func TestDisabledLimiterAlwaysAllows(t *testing.T) {
	l := NewLimiter(Config{FreeLimit: 1, Window: time.Hour, Enabled: false})
	for i := 0; i < 5; i++ {
		if d := l.Check("u1", "chat", models.TierFree); !d.Allowed {
			t.Fatal("disabled limiter must allow everything")
		}
	}
}
