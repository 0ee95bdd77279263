package redis

import (
	"context"
	"net"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/mossy-p/livecast/config"
)

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)
	host, port, _ := net.SplitHostPort(mr.Addr())

	client, err := Connect(context.Background(), config.RedisConfig{Host: host, Port: port})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	if err := client.Set(context.Background(), "k", "v", 0).Err(); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got, _ := mr.Get("k"); got != "v" {
		t.Errorf("stored %q", got)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	host, port, _ := net.SplitHostPort(mr.Addr())
	mr.Close()

	if _, err := Connect(context.Background(), config.RedisConfig{Host: host, Port: port}); err == nil {
		t.Fatal("expected error for closed server")
	}
}
