package httpstream_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/transloadr/transloader/pkg/errx"
	"github.com/transloadr/transloader/pkg/transfer/engine"
	"github.com/transloadr/transloader/pkg/transfer/engine/httpstream"
)

func waitTerminal(t *testing.T, eng *httpstream.Engine, h engine.Handle) engine.Status {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		status, err := eng.Poll(context.Background(), h)
		if err != nil {
			t.Fatalf("poll: %v", err)
		}
		if status.State.Terminal() {
			return status
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("fetch did not reach a terminal state in time")
	return engine.Status{}
}

func TestEngineDownloadsToStaging(t *testing.T) {
	payload := []byte("hello streaming world")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer server.Close()

	dir := t.TempDir()
	eng := httpstream.New(server.Client(), 0)

	h, err := eng.Begin(context.Background(), server.URL+"/f.bin", dir, "f.bin")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	status := waitTerminal(t, eng, h)
	if status.State != engine.StateComplete {
		t.Fatalf("expected complete, got %s (%s)", status.State, status.ErrMessage)
	}
	if status.CompletedBytes != int64(len(payload)) {
		t.Fatalf("expected %d bytes, got %d", len(payload), status.CompletedBytes)
	}

	data, err := os.ReadFile(filepath.Join(dir, "f.bin"))
	if err != nil {
		t.Fatalf("staged file: %v", err)
	}
	if string(data) != string(payload) {
		t.Fatal("staged content differs from the response body")
	}

	if err := eng.Cleanup(context.Background(), h); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
}

func TestEngineSupports(t *testing.T) {
	eng := httpstream.New(nil, 0)
	if !eng.Supports("https://example.com/a") || !eng.Supports("http://example.com/a") {
		t.Fatal("web urls must be supported")
	}
	if eng.Supports("magnet:?xt=urn:btih:abc") {
		t.Fatal("magnet links are the primary's business")
	}
}

func TestEngineRejectsDeclaredOversize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "4096")
		w.Write(make([]byte, 4096))
	}))
	defer server.Close()

	eng := httpstream.New(server.Client(), 1024)
	_, err := eng.Begin(context.Background(), server.URL, t.TempDir(), "big.bin")
	if !errx.IsCode(err, httpstream.ErrTooLarge) {
		t.Fatalf("expected too-large, got %v", err)
	}
}

func TestEngineEnforcesLimitMidStream(t *testing.T) {
	// No Content-Length; the limit can only trip while streaming.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for i := 0; i < 64; i++ {
			w.Write(make([]byte, 32<<10))
			flusher.Flush()
		}
	}))
	defer server.Close()

	eng := httpstream.New(server.Client(), 256<<10)
	h, err := eng.Begin(context.Background(), server.URL, t.TempDir(), "grow.bin")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	status := waitTerminal(t, eng, h)
	if status.State != engine.StateErrored {
		t.Fatalf("oversized stream must error, got %s", status.State)
	}
}

func TestEngineBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	eng := httpstream.New(server.Client(), 0)
	_, err := eng.Begin(context.Background(), server.URL, t.TempDir(), "missing.bin")
	if !errx.IsCode(err, httpstream.ErrBadStatus) {
		t.Fatalf("expected bad-status, got %v", err)
	}
}

func TestEngineCancelStopsStream(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Write(make([]byte, 8<<10))
		flusher.Flush()
		<-release
	}))
	defer server.Close()
	defer close(release)

	eng := httpstream.New(server.Client(), 0)
	h, err := eng.Begin(context.Background(), server.URL, t.TempDir(), "slow.bin")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	if err := eng.Cancel(context.Background(), h); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	status := waitTerminal(t, eng, h)
	if status.State != engine.StateRemoved {
		t.Fatalf("cancelled fetch should report removed, got %s", status.State)
	}
}

func TestEngineProbeNeverFails(t *testing.T) {
	eng := httpstream.New(nil, 0)
	if err := eng.Probe(context.Background()); err != nil {
		t.Fatalf("probe: %v", err)
	}
}

func TestEngineUnknownHandle(t *testing.T) {
	eng := httpstream.New(nil, 0)
	if _, err := eng.Poll(context.Background(), "nope"); !errx.IsCode(err, engine.ErrHandleNotFound) {
		t.Fatalf("expected handle-not-found, got %v", err)
	}
	if err := eng.Cancel(context.Background(), "nope"); err != nil {
		t.Fatalf("cancel of unknown handle is a no-op, got %v", err)
	}
}
