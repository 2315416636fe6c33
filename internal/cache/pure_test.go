package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/penshort/insights/internal/model"
)

func TestRefreshKey(t *testing.T) {
	t.Parallel()

	if got := refreshKey("user-42"); got != "refresh:user:user-42" {
		t.Errorf("refreshKey() = %q", got)
	}
}

func TestClientOptions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		opts     Options
		wantPool int
		wantIdle int
		wantDial time.Duration
	}{
		{"defaults", Options{}, 10, 2, 5 * time.Second},
		{"configured", Options{PoolSize: 20, DialTimeout: time.Second}, 20, 2, time.Second},
		{"tiny pool", Options{PoolSize: 1}, 1, 1, 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			opt, err := clientOptions("redis://localhost:6379/2", tt.opts)
			if err != nil {
				t.Fatalf("clientOptions() error = %v", err)
			}
			if opt.PoolSize != tt.wantPool || opt.MinIdleConns != tt.wantIdle || opt.DialTimeout != tt.wantDial {
				t.Errorf("pool = %d, idle = %d, dial = %v", opt.PoolSize, opt.MinIdleConns, opt.DialTimeout)
			}
			if opt.DB != 2 {
				t.Errorf("DB = %d, want 2 from URL", opt.DB)
			}
		})
	}

	if _, err := clientOptions("http://not-redis", Options{}); err == nil {
		t.Error("expected error for non-redis URL")
	}
}

func TestEventChannel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		userID string
		want   string
	}{
		{"user-1", "insights:events:user-1"},
		{"01HXYZ", "insights:events:01HXYZ"},
	}

	for _, tt := range tests {
		t.Run(tt.userID, func(t *testing.T) {
			t.Parallel()

			if got := EventChannel(tt.userID); got != tt.want {
				t.Errorf("EventChannel(%q) = %q, want %q", tt.userID, got, tt.want)
			}
		})
	}
}

func TestDecodeEvent(t *testing.T) {
	t.Parallel()

	msg := &redis.Message{
		Channel: EventChannel("user-1"),
		Payload: `{"user_id":"user-1","period":"30d","version":"v1","status":"completed","outcome":"completed","inputs_hash":"abc","at":"2024-03-10T12:00:00Z"}`,
	}

	ev, err := DecodeEvent(msg)
	if err != nil {
		t.Fatalf("DecodeEvent() error = %v", err)
	}
	if ev.UserID != "user-1" || ev.Period != model.Period30Days || ev.Status != model.CacheStatusCompleted {
		t.Errorf("unexpected event %+v", ev)
	}

	if _, err := DecodeEvent(&redis.Message{Payload: "not json"}); err == nil {
		t.Error("expected error for malformed payload")
	}
}

func TestCheckRefreshLimit_Disabled(t *testing.T) {
	t.Parallel()

	// No Redis round trip happens when the limit is disabled.
	c := NewFromClient(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}))
	defer c.Close()

	res := c.CheckRefreshLimit(context.Background(), "user-1", 0, 3)
	if !res.Allowed || res.Degraded {
		t.Errorf("disabled limit result = %+v", res)
	}
}

func TestCheckRefreshLimit_FailsOpen(t *testing.T) {
	t.Parallel()

	c := NewFromClient(redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	}))
	defer c.Close()

	res := c.CheckRefreshLimit(context.Background(), "user-1", 6, 3)
	if !res.Allowed {
		t.Error("expected fail-open when Redis is unreachable")
	}
	if !res.Degraded {
		t.Error("expected Degraded to be set")
	}
}
