package ratelimit

import (
	"testing"
	"time"

	"github.com/wallpaperd/wallpaperd/internal/clock"
)

func TestNewRedisClock(t *testing.T) {
	clk := clock.NewManual(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	l := NewRedis(nil, Config{Max: 10, Window: time.Minute}, clk)
	if got := l.clock.Now(); !got.Equal(clk.Now()) {
		t.Errorf("limiter clock reads %v, want the injected clock's %v", got, clk.Now())
	}

	if l := NewRedis(nil, Config{}, nil); l.clock == nil {
		t.Error("nil clock should default to the system clock")
	}
}

func TestParseWindowReply(t *testing.T) {
	t.Run("allowed reply", func(t *testing.T) {
		allowed, count, ttlMs, err := parseWindowReply([]any{int64(1), int64(3), int64(45000)})
		if err != nil {
			t.Fatalf("parseWindowReply: %v", err)
		}
		if !allowed || count != 3 || ttlMs != 45000 {
			t.Errorf("got allowed=%v count=%d ttl=%d", allowed, count, ttlMs)
		}
	})

	t.Run("rejected reply", func(t *testing.T) {
		allowed, _, _, err := parseWindowReply([]any{int64(0), int64(10), int64(1200)})
		if err != nil {
			t.Fatalf("parseWindowReply: %v", err)
		}
		if allowed {
			t.Error("reply with leading 0 should not be allowed")
		}
	})

	t.Run("wrong length", func(t *testing.T) {
		if _, _, _, err := parseWindowReply([]any{int64(1)}); err == nil {
			t.Error("expected error for short reply")
		}
	})

	t.Run("wrong types", func(t *testing.T) {
		if _, _, _, err := parseWindowReply([]any{"1", int64(3), int64(45000)}); err == nil {
			t.Error("expected error for string value")
		}
	})
}
