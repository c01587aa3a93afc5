package support

import (
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func TestGetRedisClientDisabledWithoutURL(t *testing.T) {
	t.Setenv("REDIS_URL", "")
	t.Cleanup(func() { _ = CloseRedisClient() })

	if _, err := GetRedisClient(); !errors.Is(err, ErrRedisDisabled) {
		t.Fatalf("GetRedisClient error = %v, want ErrRedisDisabled", err)
	}
}

func TestGetRedisClientConnects(t *testing.T) {
	srv := miniredis.RunT(t)
	t.Setenv("REDIS_URL", "redis://"+srv.Addr())
	t.Cleanup(func() { _ = CloseRedisClient() })

	first, err := GetRedisClient()
	if err != nil {
		t.Fatalf("GetRedisClient returned error: %v", err)
	}
	second, err := GetRedisClient()
	if err != nil {
		t.Fatalf("second GetRedisClient returned error: %v", err)
	}
	if first != second {
		t.Fatal("GetRedisClient did not reuse the cached client")
	}
}

func TestGetRedisClientRejectsBadURL(t *testing.T) {
	t.Setenv("REDIS_URL", "not a url")
	t.Cleanup(func() { _ = CloseRedisClient() })

	if _, err := GetRedisClient(); err == nil {
		t.Fatal("expected parse error, got nil")
	}
}
