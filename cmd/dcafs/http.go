package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/michieltjampens/dcafs-sub002/health"
	"github.com/michieltjampens/dcafs-sub002/natsclient"
	"github.com/michieltjampens/dcafs-sub002/pkg/tlsutil"
)

// maxCommandBody caps a POST /cmd request
const maxCommandBody = 64 << 10

// handler returns the admin mux: metrics, health, issues and commands
func (a *app) handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", a.metrics.Handler())
	mux.HandleFunc("GET /health", a.handleHealth)
	mux.HandleFunc("GET /healthz", handleLiveness)
	mux.HandleFunc("GET /issues", a.handleIssues)
	mux.HandleFunc("POST /cmd", a.handleCommand)
	return mux
}

// systemHealth aggregates raised issues, stream links and NATS connections
func (a *app) systemHealth() health.Status {
	subStatuses := []health.Status{a.issues.AggregateHealth("issues")}

	for _, s := range a.pool.Streams() {
		if s.IsConnectionValid() {
			subStatuses = append(subStatuses, health.NewHealthy(s.ID(), "connected"))
		} else {
			subStatuses = append(subStatuses, health.NewDegraded(s.ID(), "not connected"))
		}
	}

	for url, c := range a.clients {
		status := c.GetStatus()
		if status.Status == natsclient.StatusConnected {
			subStatuses = append(subStatuses, health.NewHealthy("nats",
				fmt.Sprintf("Connected to %s (RTT: %v)", url, status.RTT)))
		} else {
			subStatuses = append(subStatuses, health.NewUnhealthy("nats",
				fmt.Sprintf("%s: %s", url, status.Status.String())))
		}
	}

	return health.Aggregate(appName, subStatuses)
}

func (a *app) handleHealth(w http.ResponseWriter, _ *http.Request) {
	systemHealth := a.systemHealth()

	w.Header().Set("Content-Type", "application/json")
	if systemHealth.IsUnhealthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(systemHealth); err != nil {
		a.logger.Error("Failed to encode system health response", "error", err)
	}
}

func handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (a *app) handleIssues(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	issues := a.issues.ActiveIssues()
	if issues == nil {
		issues = []string{}
	}
	if err := json.NewEncoder(w).Encode(issues); err != nil {
		a.logger.Error("Failed to encode issues response", "error", err)
	}
}

// handleCommand runs every non-empty line of the body as an admin command
// and answers with the replies, one block per command.
func (a *app) handleCommand(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set("X-Request-ID", requestID)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBody+1))
	if err != nil {
		http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(body) > maxCommandBody {
		http.Error(w, "command too long", http.StatusRequestEntityTooLarge)
		return
	}

	var replies []string
	scanner := bufio.NewScanner(strings.NewReader(string(body)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		a.logger.Info("Admin command", "request_id", requestID, "command", line)
		replies = append(replies, a.pool.Handle(line))
	}
	if len(replies) == 0 {
		http.Error(w, "no command", http.StatusBadRequest)
		return
	}
	_, _ = io.WriteString(w, strings.Join(replies, "\n")+"\n")
}

// newHTTPServer builds the admin server for port, with TLS when enabled
func (a *app) newHTTPServer(port int) (*http.Server, error) {
	srv := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(port)),
		Handler:           a.handler(),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	if a.cfg.Settings.HTTPTLS.Enabled {
		tlsCfg, err := tlsutil.LoadServerTLSConfig(a.cfg.Settings.HTTPTLS)
		if err != nil {
			return nil, fmt.Errorf("load TLS config: %w", err)
		}
		srv.TLSConfig = tlsCfg
	}
	return srv, nil
}

// serveHTTP runs srv until ctx ends, then shuts it down within timeout
func serveHTTP(ctx context.Context, srv *http.Server, timeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if srv.TLSConfig != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
