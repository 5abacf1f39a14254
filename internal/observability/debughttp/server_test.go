package debughttp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	logx "netcore/pkg/logx"
)

func TestCheckAddr(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{name: "default", cfg: Config{}, ok: true},
		{name: "loopback", cfg: Config{Addr: "127.0.0.1:0"}, ok: true},
		{name: "localhost", cfg: Config{Addr: "localhost:6060"}, ok: true},
		{name: "public without token", cfg: Config{Addr: "0.0.0.0:6060"}},
		{name: "all interfaces", cfg: Config{Addr: ":6060"}},
		{name: "public with token", cfg: Config{Addr: "0.0.0.0:6060", Token: "t"}, ok: true},
		{name: "public allowed", cfg: Config{Addr: "0.0.0.0:6060", AllowInsecure: true}, ok: true},
		{name: "garbage", cfg: Config{Addr: "nope"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := CheckAddr(tt.cfg); (err == nil) != tt.ok {
				t.Fatalf("CheckAddr(%+v) = %v", tt.cfg, err)
			}
		})
	}
}

func TestHandlerAuthAndStatus(t *testing.T) {
	t.Parallel()
	s := New(Config{Token: "s3cret"}, func(context.Context) any {
		return map[string]int{"connections": 2}
	}, logx.Nop())
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	get := func(path, auth string) (int, string) {
		req, _ := http.NewRequest(http.MethodGet, ts.URL+path, nil)
		if auth != "" {
			req.Header.Set("Authorization", "Bearer "+auth)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(b)
	}

	if code, _ := get("/healthz", ""); code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated healthz = %d", code)
	}
	if code, _ := get("/healthz?token=wrong", ""); code != http.StatusUnauthorized {
		t.Fatalf("wrong token = %d", code)
	}
	if code, body := get("/healthz?token=s3cret", ""); code != http.StatusOK || body != "ok" {
		t.Fatalf("healthz = %d %q", code, body)
	}
	code, body := get("/status", "s3cret")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	var doc map[string]int
	if err := json.Unmarshal([]byte(body), &doc); err != nil || doc["connections"] != 2 {
		t.Fatalf("status body = %q (%v)", body, err)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	t.Parallel()
	s := New(Config{Addr: "127.0.0.1:0"}, nil, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	var addr string
	select {
	case a := <-s.Ready():
		addr = a.String()
	case <-time.After(3 * time.Second):
		t.Fatalf("server not ready")
	}
	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("Serve did not return")
	}
}
