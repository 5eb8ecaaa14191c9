// Package web serves the dashboard: deal lists as JSON, live deal progress
// and the deal event journal as server-sent events, and Prometheus metrics.
package web

import (
	"compress/gzip"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"github.com/vadiminshakov/dcaladder/internal/domain"
	"github.com/vadiminshakov/dcaladder/internal/storage/deals"
)

const (
	eventPollInterval = 2 * time.Second
	heartbeatInterval = 20 * time.Second
)

type dealReader interface {
	FindAll(filter deals.Filter) ([]domain.Deal, error)
}

type botLister interface {
	List() ([]domain.Bot, error)
}

type progressSource interface {
	Latest() []domain.DealProgress
	Subscribe() chan domain.DealProgress
	Unsubscribe(ch chan domain.DealProgress)
}

type eventReader interface {
	EventsAfter(index uint64) ([]domain.DealEventRecord, error)
}

// Server exposes the dashboard HTTP endpoints.
type Server struct {
	Addr     string
	l        *zap.Logger
	deals    dealReader
	bots     botLister
	progress progressSource
	events   eventReader
}

// NewServer creates a new web server instance.
func NewServer(l *zap.Logger, addr string, dealStore dealReader, bots botLister, progress progressSource, journal eventReader) *Server {
	return &Server{
		Addr:     addr,
		l:        l,
		deals:    dealStore,
		bots:     bots,
		progress: progress,
		events:   journal,
	}
}

// Handler returns the dashboard routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.Handle("/deals", gzipJSON(http.HandlerFunc(s.handleDeals)))
	mux.Handle("/deals/history", gzipJSON(http.HandlerFunc(s.handleHistory)))
	mux.HandleFunc("/deals/active", s.handleActive)
	mux.HandleFunc("/bots", s.handleBots)
	mux.HandleFunc("/progress/stream", s.handleProgressStream)
	mux.HandleFunc("/events/stream", s.handleEventStream)
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.l.Info("dashboard listening", zap.String("addr", s.Addr))

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StartWithAutoTLS runs an HTTPS server with automatic TLS certificates via ACME.
// It also starts an HTTP server on port 80 to handle ACME HTTP-01 challenges.
func (s *Server) StartWithAutoTLS(ctx context.Context, domains []string, cacheDir string) error {
	if len(domains) == 0 {
		return fmt.Errorf("no domains provided for automatic TLS")
	}
	if cacheDir == "" {
		cacheDir = "cert-cache"
	}

	manager := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(domains...),
		Cache:      autocert.DirCache(cacheDir),
	}

	// challenges and HTTP->HTTPS redirects
	httpSrv := &http.Server{
		Addr:              ":80",
		Handler:           manager.HTTPHandler(nil),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	tlsConfig := manager.TLSConfig()
	tlsConfig.MinVersion = tls.VersionTLS12

	httpsSrv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
		TLSConfig:         tlsConfig,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.l.Warn("http (acme) server shutdown error", zap.Error(err))
		}
		if err := httpsSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.l.Warn("https server shutdown error", zap.Error(err))
		}
	}()

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.l.Error("http (acme) server error", zap.Error(err))
		}
	}()

	s.l.Info("dashboard listening with automatic TLS",
		zap.String("addr", s.Addr),
		zap.Strings("domains", domains))

	if err := httpsSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, indexHTML)
}

// handleDeals lists deals filtered by the status, pair and bot_id query
// parameters.
func (s *Server) handleDeals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := deals.Filter{
		Status: domain.DealStatus(q.Get("status")),
		BotID:  q.Get("bot_id"),
	}
	if filter.Status != "" && filter.Status != domain.DealStatusOpen && filter.Status != domain.DealStatusClosed {
		http.Error(w, "status must be open or closed", http.StatusBadRequest)
		return
	}
	if pair := q.Get("pair"); pair != "" {
		parsed, err := domain.ParsePair(pair)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		filter.Pair = parsed
	}

	list, err := s.deals.FindAll(filter)
	if err != nil {
		s.internalError(w, "list deals", err)
		return
	}

	s.writeJSON(w, list)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	closed, err := s.deals.FindAll(deals.Filter{Status: domain.DealStatusClosed, BotID: r.URL.Query().Get("bot_id")})
	if err != nil {
		s.internalError(w, "list closed deals", err)
		return
	}

	s.writeJSON(w, domain.Summarize(closed))
}

func (s *Server) handleActive(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.progress.Latest())
}

func (s *Server) handleBots(w http.ResponseWriter, _ *http.Request) {
	list, err := s.bots.List()
	if err != nil {
		s.internalError(w, "list bots", err)
		return
	}

	s.writeJSON(w, list)
}

// handleProgressStream sends the latest progress of every running deal,
// then every new progress as it is observed.
func (s *Server) handleProgressStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := startStream(w)
	if !ok {
		return
	}

	ch := s.progress.Subscribe()
	defer s.progress.Unsubscribe(ch)

	for _, p := range s.progress.Latest() {
		if err := writeEvent(w, "", "progress", p); err != nil {
			s.l.Warn("progress stream write failed", zap.Error(err))
			return
		}
	}
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case p, ok := <-ch:
			if !ok {
				return
			}
			if err := writeEvent(w, "", "progress", p); err != nil {
				s.l.Warn("progress stream write failed", zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

// handleEventStream replays the deal event journal after the index given by
// Last-Event-ID (or ?last_event_id=) and follows it.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := startStream(w)
	if !ok {
		return
	}

	lastIndex := s.parseLastEventID(r.Header.Get("Last-Event-ID"), r.URL.Query().Get("last_event_id"))

	sendEvents := func() error {
		records, err := s.events.EventsAfter(lastIndex)
		if err != nil {
			return err
		}
		for _, record := range records {
			if err := writeEvent(w, strconv.FormatUint(record.Index, 10), "deal_event", record.Event); err != nil {
				return err
			}
			lastIndex = record.Index
		}
		if len(records) > 0 {
			flusher.Flush()
		}
		return nil
	}

	if err := sendEvents(); err != nil {
		s.l.Error("event stream initial load", zap.Error(err))
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	pollTicker := time.NewTicker(eventPollInterval)
	defer pollTicker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case <-pollTicker.C:
			if err := sendEvents(); err != nil {
				s.l.Warn("event stream poll err", zap.Error(err))
			}
		}
	}
}

func startStream(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return nil, false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return flusher, true
}

func writeEvent(w io.Writer, id, event string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if id != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", id); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)

	return err
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.l.Warn("failed to write response", zap.Error(err))
	}
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.l.Error(op, zap.Error(err))
	http.Error(w, op+" failed", http.StatusInternalServerError)
}

func (s *Server) parseLastEventID(headerVal, queryVal string) uint64 {
	idStr := strings.TrimSpace(headerVal)
	if idStr == "" {
		idStr = strings.TrimSpace(queryVal)
	}
	if idStr == "" {
		return 0
	}

	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		s.l.Warn("invalid last event id", zap.String("id", idStr), zap.Error(err))
		return 0
	}
	return id
}

type gzipResponseWriter struct {
	http.ResponseWriter
	writer io.Writer
}

func (g *gzipResponseWriter) Write(b []byte) (int, error) {
	return g.writer.Write(b)
}

// gzipJSON compresses responses for clients accepting gzip; deal lists grow
// with every closed deal.
func gzipJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("Vary", "Accept-Encoding")

		gz := gzip.NewWriter(w)
		defer gz.Close()

		next.ServeHTTP(&gzipResponseWriter{ResponseWriter: w, writer: gz}, r)
	})
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <title>dcaladder</title>
  <style>
    body { font-family: "Space Mono", monospace; margin: 2rem; color: #111; }
    table { border-collapse: collapse; width: 100%; margin-bottom: 2rem; }
    th, td { border-bottom: 1px solid #ddd; padding: .4rem .6rem; text-align: right; }
    th:first-child, td:first-child { text-align: left; }
    .degraded { color: #d7263d; }
    #events { font-size: .85rem; max-height: 20rem; overflow-y: auto; }
  </style>
</head>
<body>
  <h1>Running deals</h1>
  <table>
    <thead><tr><th>Deal</th><th>Bot</th><th>State</th><th>Price</th><th>Average</th><th>Target</th><th>Profit %</th><th>Safety</th><th>Deal #</th></tr></thead>
    <tbody id="deals"></tbody>
  </table>
  <h1>Events</h1>
  <div id="events"></div>
  <script>
    const rows = {};
    const body = document.getElementById('deals');
    function render() {
      body.innerHTML = '';
      Object.values(rows).sort((a, b) => a.deal_id.localeCompare(b.deal_id)).forEach(p => {
        const tr = document.createElement('tr');
        if (p.degraded) tr.className = 'degraded';
        const max = p.deal_max === 0 ? '∞' : p.deal_max;
        [p.deal_id, p.bot_name, p.state, p.last_price, p.average, p.target, p.profit_percent,
         p.safety_orders_used + '/' + p.safety_orders_max, p.deal_count + '/' + max].forEach(v => {
          const td = document.createElement('td');
          td.textContent = v;
          tr.appendChild(td);
        });
        body.appendChild(tr);
      });
    }
    const progress = new EventSource('/progress/stream');
    progress.addEventListener('progress', e => {
      const p = JSON.parse(e.data);
      if (p.state === 'closed') delete rows[p.deal_id]; else rows[p.deal_id] = p;
      render();
    });
    const events = new EventSource('/events/stream');
    events.addEventListener('deal_event', e => {
      const ev = JSON.parse(e.data);
      const div = document.createElement('div');
      div.textContent = ev.ts + ' ' + ev.pair + ' ' + ev.type + (ev.message ? ' ' + ev.message : '');
      const box = document.getElementById('events');
      box.prepend(div);
    });
  </script>
</body>
</html>
`
