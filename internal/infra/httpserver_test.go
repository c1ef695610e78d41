package infra

import (
	"context"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"
)

func TestServeDrainsRequestsBeforeStopHooks(t *testing.T) {
	var (
		mu     sync.Mutex
		events []string
	)
	record := func(e string) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}

	entered := make(chan struct{})
	release := make(chan struct{})
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		record("request finished")
		_, _ = io.WriteString(w, "done")
	})

	srv := NewHTTPServer(&Config{ShutdownTimeout: 5 * time.Second}, handler, nil)
	srv.OnStop(func() { record("orchestrator closed") })
	srv.OnStop(func() { record("second hook") })

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx, ln) }()

	resp := make(chan string, 1)
	go func() {
		res, err := http.Get("http://" + ln.Addr().String())
		if err != nil {
			resp <- "error: " + err.Error()
			return
		}
		body, _ := io.ReadAll(res.Body)
		res.Body.Close()
		resp <- string(body)
	}()

	<-entered
	cancel()
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	early := len(events)
	mu.Unlock()
	if early != 0 {
		t.Fatalf("stop hooks ran before the in-flight request drained: %v", events)
	}
	close(release)

	if body := <-resp; body != "done" {
		t.Fatalf("body = %q, want done", body)
	}
	if err := <-served; err != nil {
		t.Fatalf("serve: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"request finished", "orchestrator closed", "second hook"}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events = %v, want %v", events, want)
		}
	}
}

func TestShutdownRunsHooksOnce(t *testing.T) {
	srv := NewHTTPServer(&Config{}, http.NotFoundHandler(), nil)
	calls := 0
	srv.OnStop(func() { calls++ })

	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}
