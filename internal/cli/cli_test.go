package cli

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/mossy-p/livecast/internal/auth"
	"github.com/mossy-p/livecast/internal/directory"
	"github.com/mossy-p/livecast/internal/handlers"
	"github.com/mossy-p/livecast/internal/middleware"
	"github.com/mossy-p/livecast/internal/models"
	"github.com/mossy-p/livecast/internal/viewer"
)

func parsed(t *testing.T, args ...string) (*options, *cobra.Command) {
	t.Helper()
	o := &options{}
	root := &cobra.Command{Use: "livecast"}
	o.bind(root)
	child := &cobra.Command{Use: "child", Run: func(*cobra.Command, []string) {}}
	root.AddCommand(child)
	if err := child.ParseFlags(args); err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	return o, child
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCommand()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(io.Discard)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestOptions_FlagsOverrideEnv(t *testing.T) {
	t.Setenv("SIGNAL_TRANSPORT", "redis")
	t.Setenv("STUN_SERVER", "stun:env.test:3478")
	t.Setenv("SIGNAL_URL", "ws://env.test")

	o, cmd := parsed(t, "--transport", "ws", "--stun", "stun:flag.test:3478")
	cfg, err := o.config(cmd)
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if cfg.Signal.Transport != "ws" {
		t.Errorf("transport = %q", cfg.Signal.Transport)
	}
	if cfg.ICE.STUNServer != "stun:flag.test:3478" {
		t.Errorf("stun = %q", cfg.ICE.STUNServer)
	}
	// Unset flags leave the environment alone.
	if cfg.Signal.URL != "ws://env.test" {
		t.Errorf("signal url = %q", cfg.Signal.URL)
	}
}

func TestOptions_Rejects(t *testing.T) {
	t.Setenv("TURN_SERVER", "")

	o, cmd := parsed(t, "--transport", "carrier-pigeon")
	if _, err := o.config(cmd); err == nil {
		t.Error("unknown transport accepted")
	}

	o, cmd = parsed(t, "--relay")
	if _, err := o.config(cmd); err == nil {
		t.Error("relay without TURN accepted")
	}

	o, cmd = parsed(t, "--relay", "--turn", "turn:relay.test:3478")
	if _, err := o.config(cmd); err != nil {
		t.Errorf("relay with TURN: %v", err)
	}
}

func TestDiscover_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	host, port, _ := net.SplitHostPort(mr.Addr())
	t.Setenv("REDIS_HOST", host)
	t.Setenv("REDIS_PORT", port)
	t.Setenv("LOG_LEVEL", "off")

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	dir := directory.NewRedis(client, directory.RedisOptions{})
	ctx := context.Background()
	dir.SetLiveNamed(ctx, "sam", "Sam", true, time.Now().Add(-time.Minute))
	dir.SetLiveNamed(ctx, "kim", "Kim", true, time.Now())

	out, err := run(t, "discover", "--transport", "redis", "--self", "kim")
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	for _, want := range []string{"sam", "Sam", "live-sam"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "live-kim") {
		t.Errorf("self listed:\n%s", out)
	}

	out, err = run(t, "discover", "--transport", "redis", "--self", "sam", "--pick")
	if err != nil {
		t.Fatalf("discover --pick: %v", err)
	}
	if !strings.Contains(out, "Picked Kim (kim)") {
		t.Errorf("no pick in output:\n%s", out)
	}
}

func newAPIServer(t *testing.T, dir *directory.Memory) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/api/auth/login", handlers.Login("secret"))
	r.GET("/api/live", middleware.OptionalJWT("secret"), handlers.ListLive(dir))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestDiscover_Server(t *testing.T) {
	t.Setenv("LOG_LEVEL", "off")
	dir := directory.NewMemory(0)
	srv := newAPIServer(t, dir)

	out, err := run(t, "discover", "--transport", "ws", "--signal-url", srv.URL)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if !strings.Contains(out, "Nobody is live") {
		t.Errorf("empty directory output:\n%s", out)
	}

	dir.SetLive(context.Background(), "sam", true, time.Now())
	out, err = run(t, "discover", "--signal-url", "ws"+strings.TrimPrefix(srv.URL, "http"))
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if !strings.Contains(out, "live-sam") {
		t.Errorf("output:\n%s", out)
	}
}

func TestLogin(t *testing.T) {
	srv := newAPIServer(t, directory.NewMemory(0))

	token, err := login(context.Background(), http.DefaultClient, srv.URL, "sam", "Sam")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	claims, err := auth.Parse("secret", token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.UserID != "sam" || claims.DisplayName != "Sam" {
		t.Errorf("claims = %+v", claims)
	}

	if _, err := login(context.Background(), http.DefaultClient, srv.URL+"/missing", "sam", ""); err == nil {
		t.Error("login against a bad path succeeded")
	}
}

func TestRuntime_NamedWriter(t *testing.T) {
	dir := directory.NewMemory(0)
	rt := &runtime{dir: dir}

	if err := rt.writer("Sam").SetLive(context.Background(), "sam", true, time.Now()); err != nil {
		t.Fatalf("SetLive: %v", err)
	}
	entries, _ := dir.ListLive(context.Background(), "")
	if len(entries) != 1 || entries[0].DisplayName != "Sam" {
		t.Errorf("entries = %+v", entries)
	}
	if _, ok := rt.writer("").(*directory.Memory); !ok {
		t.Error("empty name should use the directory directly")
	}
}

func TestRenderLiveTable(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	renderLiveTable(&buf, []models.DirectoryEntry{
		{ID: "sam", DisplayName: "Sam", LiveSince: now.Add(-90 * time.Second)},
		{ID: "kim", LiveSince: now.Add(-time.Hour)},
	}, now)

	out := buf.String()
	for _, want := range []string{"sam", "Sam", "1m30s", "kim", "1h0m0s", "live-kim"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "sam") > strings.Index(out, "kim") {
		t.Errorf("order not kept:\n%s", out)
	}
}

func TestStream_RequiresID(t *testing.T) {
	if _, err := run(t, "stream"); err == nil {
		t.Fatal("stream without --id succeeded")
	}
}

func TestForwardStatus_KeepsTerminalStates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := make(chan viewer.Status, 1)
	forward := forwardStatus(ctx, out)

	forward(viewer.Status{State: viewer.StateConnecting})
	// full: transitional states are dropped without blocking
	forward(viewer.Status{State: viewer.StateReconnecting})

	delivered := make(chan struct{})
	go func() {
		forward(viewer.Status{State: viewer.StateError})
		close(delivered)
	}()

	if st := <-out; st.State != viewer.StateConnecting {
		t.Fatalf("first = %s", st.State)
	}
	select {
	case st := <-out:
		if st.State != viewer.StateError {
			t.Fatalf("second = %s, want error", st.State)
		}
	case <-time.After(time.Second):
		t.Fatal("error status lost")
	}
	<-delivered

	// full again, a closed status gives up only when ctx ends
	forward(viewer.Status{State: viewer.StateConnecting})
	done := make(chan struct{})
	go func() {
		forward(viewer.Status{State: viewer.StateClosed})
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("closed status dropped while waiting for room")
	case <-time.After(50 * time.Millisecond):
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("forward still blocked after cancel")
	}
}
