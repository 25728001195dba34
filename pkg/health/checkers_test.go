package health

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPChecker_HealthyEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	result := NewHTTPChecker(server.URL).Check(context.Background())
	if !result.Healthy {
		t.Errorf("expected healthy, got unhealthy: %s", result.Message)
	}
	if result.Duration <= 0 {
		t.Error("expected positive duration")
	}
}

func TestHTTPChecker_UnhealthyEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	result := NewHTTPChecker(server.URL).Check(context.Background())
	if result.Healthy {
		t.Errorf("expected unhealthy, got healthy: %s", result.Message)
	}
}

func TestHTTPChecker_WithMethod(t *testing.T) {
	var gotMethod string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	result := NewHTTPChecker(server.URL).WithMethod(http.MethodHead).Check(context.Background())
	if !result.Healthy {
		t.Errorf("expected healthy, got unhealthy: %s", result.Message)
	}
	if gotMethod != http.MethodHead {
		t.Errorf("expected HEAD request, server saw %s", gotMethod)
	}
}

func TestHTTPChecker_ContextDeadlineExceeded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	result := NewHTTPChecker(server.URL).Check(ctx)
	if result.Healthy {
		t.Errorf("expected unhealthy due to context deadline, got healthy: %s", result.Message)
	}
}

func TestHTTPChecker_Type(t *testing.T) {
	if got := NewHTTPChecker("http://example.com").Type(); got != CheckTypeHTTP {
		t.Errorf("expected type %s, got %s", CheckTypeHTTP, got)
	}
}

func TestTCPChecker_HealthyAddress(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Close()
	}()

	result := NewTCPChecker(ln.Addr().String()).Check(context.Background())
	if !result.Healthy {
		t.Errorf("expected healthy, got unhealthy: %s", result.Message)
	}
}

func TestTCPChecker_UnreachableAddress(t *testing.T) {
	result := NewTCPChecker("127.0.0.1:1").Check(context.Background())
	if result.Healthy {
		t.Error("expected unhealthy for an unreachable address")
	}
}

func TestTCPChecker_Type(t *testing.T) {
	if got := NewTCPChecker("127.0.0.1:1").Type(); got != CheckTypeTCP {
		t.Errorf("expected type %s, got %s", CheckTypeTCP, got)
	}
}
