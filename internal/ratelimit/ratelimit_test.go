package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestCheck_FixedWindow(t *testing.T) {
	c := &clock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	l := New(c.now)
	key := Key("admin-verify", "10.0.0.1")

	for i := 1; i <= 5; i++ {
		res := l.Check(key, 5, 15*time.Minute)
		if !res.Allowed {
			t.Fatalf("attempt %d denied", i)
		}
		if res.Remaining != 5-i {
			t.Errorf("attempt %d remaining = %d, want %d", i, res.Remaining, 5-i)
		}
	}

	res := l.Check(key, 5, 15*time.Minute)
	if res.Allowed {
		t.Fatal("6th attempt allowed")
	}
	wantReset := c.t.Add(15 * time.Minute)
	if !res.ResetAt.Equal(wantReset) {
		t.Errorf("ResetAt = %v, want %v", res.ResetAt, wantReset)
	}
	if got := res.RetryAfter(c.t); got != 900 {
		t.Errorf("RetryAfter = %d, want 900", got)
	}

	c.t = c.t.Add(15 * time.Minute)
	res = l.Check(key, 5, 15*time.Minute)
	if !res.Allowed || res.Remaining != 4 {
		t.Errorf("after window: %+v, want allowed with 4 remaining", res)
	}
}

func TestCheck_KeysAreIndependent(t *testing.T) {
	l := New(nil)
	for i := 0; i < 3; i++ {
		l.Check(Key("setup", "a"), 3, time.Hour)
	}
	if l.Check(Key("setup", "a"), 3, time.Hour).Allowed {
		t.Error("client a not limited")
	}
	if !l.Check(Key("setup", "b"), 3, time.Hour).Allowed {
		t.Error("client b limited by client a")
	}
	if !l.Check(Key("login", "a"), 3, time.Hour).Allowed {
		t.Error("login action limited by setup action")
	}
}

func TestResetAndSweep(t *testing.T) {
	c := &clock{t: time.Now()}
	l := New(c.now)
	l.Check("a", 1, time.Minute)
	l.Check("b", 1, time.Hour)

	c.t = c.t.Add(2 * time.Minute)
	if n := l.Sweep(); n != 1 {
		t.Errorf("Sweep() = %d, want 1", n)
	}

	l.Check("b", 1, time.Hour)
	l.Reset()
	if !l.Check("b", 1, time.Hour).Allowed {
		t.Error("Reset() did not clear counters")
	}
}

func TestCheck_Concurrent(t *testing.T) {
	l := New(nil)
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Check("k", 10, time.Minute).Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if allowed != 10 {
		t.Errorf("allowed = %d, want 10", allowed)
	}
}

func TestClientID(t *testing.T) {
	tests := []struct {
		name   string
		header map[string]string
		remote string
		want   string
	}{
		{"forwarded", map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.1"}, "10.0.0.1:1234", "203.0.113.5"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.7"}, "10.0.0.1:1234", "198.51.100.7"},
		{"remote addr", nil, "192.0.2.9:5555", "192.0.2.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.header {
				r.Header.Set(k, v)
			}
			if got := ClientID(r); got != tt.want {
				t.Errorf("ClientID() = %q, want %q", got, tt.want)
			}
		})
	}
}
