package health

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"
)

// HTTPChecker probes a dependency by issuing an HTTP request and treating any
// 2xx/3xx response as healthy. Monitor always wraps Check in its own
// per-dependency context deadline (Config.Timeout), so the checker itself
// carries no timeout of its own — it just has to honor ctx.
type HTTPChecker struct {
	URL    string
	Method string
	Client *http.Client
}

// NewHTTPChecker creates an HTTP checker that GETs url.
func NewHTTPChecker(url string) *HTTPChecker {
	return &HTTPChecker{URL: url, Method: http.MethodGet, Client: http.DefaultClient}
}

// WithMethod overrides the request method, e.g. to HEAD the columnar store's
// insert endpoint instead of paying for a full GET.
func (h *HTTPChecker) WithMethod(method string) *HTTPChecker {
	h.Method = method
	return h
}

// Check issues the configured request and reports 2xx/3xx as healthy.
func (h *HTTPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, h.Method, h.URL, nil)
	if err != nil {
		return Result{Healthy: false, Message: fmt.Sprintf("build request: %v", err), CheckedAt: start, Duration: time.Since(start)}
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return Result{Healthy: false, Message: fmt.Sprintf("request failed: %v", err), CheckedAt: start, Duration: time.Since(start)}
	}
	defer resp.Body.Close()

	healthy := resp.StatusCode >= 200 && resp.StatusCode < 400
	message := fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	return Result{Healthy: healthy, Message: message, CheckedAt: start, Duration: time.Since(start)}
}

// Type returns the health check type.
func (h *HTTPChecker) Type() CheckType { return CheckTypeHTTP }

// TCPChecker probes a dependency by dialing a TCP address. Like HTTPChecker,
// it relies on Monitor's per-check context deadline rather than its own
// client-level timeout.
type TCPChecker struct {
	Address string
}

// NewTCPChecker creates a TCP checker for address (e.g. "redis:6379").
func NewTCPChecker(address string) *TCPChecker {
	return &TCPChecker{Address: address}
}

// Check dials Address and reports success on connect.
func (t *TCPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", t.Address)
	if err != nil {
		return Result{Healthy: false, Message: fmt.Sprintf("dial %s: %v", t.Address, err), CheckedAt: start, Duration: time.Since(start)}
	}
	conn.Close()

	return Result{Healthy: true, Message: fmt.Sprintf("connected to %s", t.Address), CheckedAt: start, Duration: time.Since(start)}
}

// Type returns the health check type.
func (t *TCPChecker) Type() CheckType { return CheckTypeTCP }

// Dependency pairs a name with the checker and policy used to monitor it.
type Dependency struct {
	Name    string
	Checker Checker
	Config  Config
}

// Monitor runs a set of dependency checkers on their own interval and
// reports status transitions through OnChange. It does not itself expose
// an HTTP surface; callers wire OnChange into whatever readiness reporting
// they use.
type Monitor struct {
	deps     []Dependency
	OnChange func(name string, status Status)

	stopCh chan struct{}
}

// NewMonitor creates a Monitor for the given dependencies.
func NewMonitor(deps []Dependency) *Monitor {
	return &Monitor{
		deps:   deps,
		stopCh: make(chan struct{}),
	}
}

// Start launches one polling goroutine per dependency. It returns
// immediately; call Stop to tear all of them down.
func (m *Monitor) Start(ctx context.Context) {
	for _, dep := range m.deps {
		go m.run(ctx, dep)
	}
}

// Stop signals every polling goroutine to exit.
func (m *Monitor) Stop() {
	close(m.stopCh)
}

func (m *Monitor) run(ctx context.Context, dep Dependency) {
	status := NewStatus()
	interval := dep.Config.Interval
	if interval <= 0 {
		interval = DefaultConfig().Interval
	}

	if dep.Config.StartPeriod > 0 {
		select {
		case <-time.After(dep.Config.StartPeriod):
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.check(ctx, dep, status)

	for {
		select {
		case <-ticker.C:
			m.check(ctx, dep, status)
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		}
	}
}

func (m *Monitor) check(ctx context.Context, dep Dependency, status *Status) {
	checkCtx, cancel := context.WithTimeout(ctx, dep.Config.Timeout)
	defer cancel()

	wasHealthy := status.Healthy
	firstCheck := status.LastCheck.IsZero()
	status.Update(dep.Checker.Check(checkCtx), dep.Config)

	if m.OnChange != nil && (firstCheck || status.Healthy != wasHealthy) {
		m.OnChange(dep.Name, *status)
	}
}
