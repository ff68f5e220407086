package dialogue

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/synclabs/voiceturn/pkg/errorsx"
	"github.com/synclabs/voiceturn/pkg/resilience"
)

func TestHTTPClientTurn(t *testing.T) {
	var gotAuth, gotContentType string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{"response": "hi there"})
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPConfig{Endpoint: srv.URL, AuthToken: "secret"}, nil)
	resp, err := c.Turn(context.Background(), TurnRequest{
		Message:   "hello",
		History:   []Message{{Role: RoleUser, Content: "earlier"}},
		DemoToken: "demo",
		Language:  "en",
	})
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if resp.Reply() != "hi there" {
		t.Fatalf("reply: %q", resp.Reply())
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("authorization header: %q", gotAuth)
	}
	if gotContentType != "application/json" {
		t.Fatalf("content type: %q", gotContentType)
	}
	if gotBody["message"] != "hello" || gotBody["demoToken"] != "demo" {
		t.Fatalf("body: %v", gotBody)
	}
}

func TestHTTPClientSynthesizeBodyShape(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{"ttsUnavailable": true})
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPConfig{Endpoint: srv.URL}, nil)
	resp, err := c.Synthesize(context.Background(), SynthRequest{TTSOnly: true, TTSText: "Welcome!", Language: "es"})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if !resp.TTSUnavailable {
		t.Fatal("ttsUnavailable flag lost")
	}
	if gotBody["ttsOnly"] != true || gotBody["ttsText"] != "Welcome!" {
		t.Fatalf("body: %v", gotBody)
	}
}

func TestHTTPClientRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPConfig{Endpoint: srv.URL}, nil)
	_, err := c.Turn(context.Background(), TurnRequest{Message: "hi"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !resilience.IsRateLimit(err) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
}

func TestHTTPClientDecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPConfig{Endpoint: srv.URL}, nil)
	_, err := c.Turn(context.Background(), TurnRequest{Message: "hi"})
	if !errorsx.HasReason(err, errorsx.ReasonDialogueDecode) {
		t.Fatalf("expected decode reason, got %v", err)
	}
}

func TestHTTPClientTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c := NewHTTPClient(HTTPConfig{Endpoint: srv.URL, Timeout: 50 * time.Millisecond}, nil)
	_, err := c.Turn(context.Background(), TurnRequest{Message: "hi"})
	if !errorsx.HasReason(err, errorsx.ReasonDialogueTimeout) {
		t.Fatalf("expected timeout reason, got %v", err)
	}
}
