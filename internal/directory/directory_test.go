package directory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/mossy-p/livecast/internal/logging"
	"github.com/redis/go-redis/v9"
)

func newRedisDirectory(t *testing.T, limit int) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedis(client, RedisOptions{Limit: limit, LoggerFactory: logging.Discard()}), mr
}

func exercise(t *testing.T, d Directory) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC)

	for i, id := range []string{"old", "mid", "new", "me"} {
		if err := d.SetLive(ctx, id, true, base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("SetLive(%s): %v", id, err)
		}
	}

	got, err := d.ListLive(ctx, "me")
	if err != nil {
		t.Fatalf("ListLive: %v", err)
	}
	if len(got) != 3 || got[0].ID != "new" || got[1].ID != "mid" || got[2].ID != "old" {
		t.Fatalf("ListLive = %+v", got)
	}
	if !got[0].LiveSince.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("LiveSince = %v", got[0].LiveSince)
	}

	if err := d.SetLive(ctx, "new", false, time.Time{}); err != nil {
		t.Fatalf("SetLive(false): %v", err)
	}
	if err := d.SetLive(ctx, "never-live", false, time.Time{}); err != nil {
		t.Fatalf("clearing an absent entry: %v", err)
	}
	got, _ = d.ListLive(ctx, "me")
	if len(got) != 2 || got[0].ID != "mid" {
		t.Errorf("after clear = %+v", got)
	}

	if err := d.SetLive(ctx, "", true, base); !errors.Is(err, ErrNoIdentity) {
		t.Errorf("empty id = %v", err)
	}
}

func TestRedis_ListAndSet(t *testing.T) {
	d, _ := newRedisDirectory(t, 0)
	exercise(t, d)
}

func TestMemory_ListAndSet(t *testing.T) {
	exercise(t, NewMemory(0))
}

func TestRedis_LimitAndCorruptRecords(t *testing.T) {
	d, mr := newRedisDirectory(t, 2)
	ctx := context.Background()
	base := time.Now()

	for i, id := range []string{"a", "b", "c"} {
		d.SetLive(ctx, id, true, base.Add(time.Duration(i)*time.Second))
	}
	mr.HSet(DefaultKey, "garbage", "\xc1")

	got, err := d.ListLive(ctx, "")
	if err != nil {
		t.Fatalf("ListLive: %v", err)
	}
	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "b" {
		t.Errorf("ListLive = %+v", got)
	}
}

func TestRedis_DisplayName(t *testing.T) {
	d, _ := newRedisDirectory(t, 0)
	ctx := context.Background()
	if err := d.SetLiveNamed(ctx, "s1", "Sam", true, time.Now()); err != nil {
		t.Fatalf("SetLiveNamed: %v", err)
	}
	got, _ := d.ListLive(ctx, "")
	if len(got) != 1 || got[0].DisplayName != "Sam" {
		t.Errorf("ListLive = %+v", got)
	}
}

func TestMemory_Fail(t *testing.T) {
	m := NewMemory(0)
	boom := errors.New("down")
	m.Fail(boom)
	if _, err := m.ListLive(context.Background(), ""); !errors.Is(err, boom) {
		t.Errorf("ListLive = %v", err)
	}
	m.Fail(nil)
	if _, err := m.ListLive(context.Background(), ""); err != nil {
		t.Errorf("ListLive after recovery = %v", err)
	}
}
