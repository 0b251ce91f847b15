package aigateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestStreamReturnsRawBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("auth = %q", r.Header.Get("Authorization"))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\ndata: [DONE]\n"))
	}))
	defer srv.Close()

	body, err := New(srv.URL, "sk-test", "gpt-4o-mini").Stream(context.Background(), []Message{{Role: "user", Content: "hola"}})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if len(raw) == 0 {
		t.Error("empty stream body")
	}
}

func TestStreamClientHasNoBodyDeadline(t *testing.T) {
	c := New("http://gateway", "sk-test", "m")

	// http.Client.Timeout keeps running while the body is read, so the
	// streaming client must not set one or long healthy streams get cut
	// mid-read and the truncated text would be persisted as complete.
	if d := c.stream.GetClient().Timeout; d != 0 {
		t.Errorf("stream client timeout = %v, want none", d)
	}
	if d := c.http.GetClient().Timeout; d != 2*time.Minute {
		t.Errorf("completion client timeout = %v, want 2m", d)
	}
}

func TestStreamStatusMapping(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrUnauthenticated},
		{http.StatusPaymentRequired, ErrPaymentRequired},
		{http.StatusTooManyRequests, ErrRateLimited},
		{http.StatusInternalServerError, ErrGateway},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			w.Write([]byte(`{"error":"nope"}`))
		}))
		_, err := New(srv.URL, "", "m").Stream(context.Background(), nil)
		srv.Close()
		if !errors.Is(err, tc.want) {
			t.Errorf("status %d: err = %v, want %v", tc.status, err, tc.want)
		}
	}
}

func TestComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"Resumen de laboratorio"}}]}`))
	}))
	defer srv.Close()

	text, err := New(srv.URL, "", "m").Complete(context.Background(), []Message{{Role: "user", Content: "titula esto"}})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if text != "Resumen de laboratorio" {
		t.Errorf("text = %q", text)
	}
}

func TestCompleteEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	if _, err := New(srv.URL, "", "m").Complete(context.Background(), nil); !errors.Is(err, ErrGateway) {
		t.Errorf("err = %v, want ErrGateway", err)
	}
}
