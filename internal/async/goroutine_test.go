package async

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

func TestGoRecoversPanics(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	var wg sync.WaitGroup

	Go(&logger, &wg, "boom", func() { panic("kaboom") })
	wg.Wait()

	if !strings.Contains(buf.String(), "kaboom") {
		t.Fatalf("expected panic to be logged, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), `"goroutine":"boom"`) {
		t.Fatalf("expected goroutine name in log, got %q", buf.String())
	}
}

func TestGoTracksCompletion(t *testing.T) {
	var wg sync.WaitGroup
	ran := make(chan struct{}, 1)
	Go(nil, &wg, "", func() { ran <- struct{}{} })
	wg.Wait()
	select {
	case <-ran:
	default:
		t.Fatalf("function did not run before Wait returned")
	}
}
