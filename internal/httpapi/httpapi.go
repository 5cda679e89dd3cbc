// Package httpapi is the thin HTTP front end over the task manager and its
// downstream store: task submission, status queries, podcast/episode
// lookups, and the Prometheus exposition endpoint.
package httpapi

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"podcastcrawler/internal/hosthealth"
	"podcastcrawler/internal/metrics"
	"podcastcrawler/internal/store"
	"podcastcrawler/internal/taskmanager"
)

// Submitter is the subset of *taskmanager.TaskManager the API needs.
type Submitter interface {
	SubmitTask(rawURL string) (int64, error)
	SubmitBatch(urls []string) ([]int64, []taskmanager.SubmitError)
	GetTask(id int64) (taskmanager.Snapshot, bool)
	AllTasks() []taskmanager.Snapshot
}

// Server is the HTTP front end. Store and Hosts may be nil, in which case
// the routes that depend on them report a degraded/empty response rather
// than panicking.
type Server struct {
	tasks   Submitter
	store   *store.Store
	metrics *metrics.Metrics
	reg     *prometheus.Registry
	hosts   *hosthealth.Tracker
	cfg     Config
}

// Config tunes CORS and server timeouts.
type Config struct {
	Addr               string
	CORSAllowedOrigins string
	CORSAllowedMethods string
	CORSAllowedHeaders string
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	IdleTimeout        time.Duration
	MetricsPath        string
}

// New constructs a Server. reg may be nil to disable the /metrics route;
// s may be nil if no persistence layer is wired.
func New(tasks Submitter, s *store.Store, m *metrics.Metrics, reg *prometheus.Registry, hosts *hosthealth.Tracker, cfg Config) *Server {
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	return &Server{tasks: tasks, store: s, metrics: m, reg: reg, hosts: hosts, cfg: cfg}
}

// Handler builds the mux with CORS and metrics middleware applied to every
// route.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	cors := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", s.cfg.CORSAllowedOrigins)
			w.Header().Set("Access-Control-Allow-Methods", s.cfg.CORSAllowedMethods)
			w.Header().Set("Access-Control-Allow-Headers", s.cfg.CORSAllowedHeaders)
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}

	withRequestID := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-Id")
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set("X-Request-Id", id)
			next(w, r)
		}
	}

	wrap := func(h http.HandlerFunc) http.Handler {
		chained := withRequestID(cors(h))
		if s.metrics == nil {
			return chained
		}
		return s.metrics.HTTPMiddleware(chained)
	}

	mux.Handle("/add_task", wrap(s.addTask))
	mux.Handle("/add_batch", wrap(s.addBatch))
	mux.Handle("/tasks/", wrap(s.getTask))
	mux.Handle("/tasks", wrap(s.listTasks))
	mux.Handle("/feeds/episodes", wrap(s.listEpisodes))
	mux.Handle("/health", wrap(s.healthCheck))

	if s.reg != nil {
		mux.Handle(s.cfg.MetricsPath, metrics.Handler(s.reg))
	}

	return mux
}

type addTaskRequest struct {
	RSSURL string `json:"rss_url"`
}

type addTaskResponse struct {
	TaskID int64 `json:"task_id"`
}

// addTask implements POST /add_task: body {"rss_url": "<url>"} ->
// {"task_id": N}; 400 on invalid URL, 503 on shutdown in progress.
func (s *Server) addTask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req addTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	id, err := s.tasks.SubmitTask(req.RSSURL)
	if err != nil {
		writeSubmitError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, addTaskResponse{TaskID: id})
}

type addBatchRequest struct {
	RSSURLs []string `json:"rss_urls"`
}

// addBatch implements POST /add_batch: submits a host-distributed batch
// and reports per-url failures inline instead of failing the whole request.
// Each batch gets a batch_id so callers can correlate the submission with
// its task ids in the logs.
func (s *Server) addBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req addBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	batchID := uuid.NewString()
	ids, errs := s.tasks.SubmitBatch(req.RSSURLs)
	log.Printf("httpapi: batch %s submitted %d urls (%d failures)", batchID, len(ids), len(errs))

	failures := make([]map[string]string, 0, len(errs))
	for _, e := range errs {
		failures = append(failures, map[string]string{"url": e.URL, "error": e.Err.Error()})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"batch_id": batchID,
		"task_ids": ids,
		"failures": failures,
	})
}

// getTask implements GET /tasks/{id}.
func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	idStr := r.URL.Path[len("/tasks/"):]
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.Error(w, "invalid task id", http.StatusBadRequest)
		return
	}

	snap, ok := s.tasks.GetTask(id)
	if !ok {
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// listTasks implements GET /tasks.
func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tasks": s.tasks.AllTasks()})
}

// listEpisodes implements GET /feeds/episodes?feed_id=N&limit=&offset=.
func (s *Server) listEpisodes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.store == nil {
		http.Error(w, "persistence layer not configured", http.StatusServiceUnavailable)
		return
	}

	feedID, err := strconv.ParseInt(r.URL.Query().Get("feed_id"), 10, 64)
	if err != nil {
		http.Error(w, "feed_id is required", http.StatusBadRequest)
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}
	offset := 0
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	episodes, err := s.store.ListEpisodes(feedID, limit, offset)
	if err != nil {
		log.Printf("httpapi: list episodes: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"episodes": episodes,
		"count":    len(episodes),
		"limit":    limit,
		"offset":   offset,
	})
}

// HealthStatus is the /health payload.
type HealthStatus struct {
	Status    string                       `json:"status"`
	Timestamp string                       `json:"timestamp"`
	Hosts     map[string]hosthealth.Status `json:"hosts,omitempty"`
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	health := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now().Format(time.RFC3339),
	}

	if s.hosts != nil {
		health.Hosts = s.hosts.Snapshot()
		for _, st := range health.Hosts {
			if st.Level == hosthealth.LevelSuspended {
				health.Status = "degraded"
				break
			}
		}
	}

	statusCode := http.StatusOK
	if health.Status == "degraded" {
		statusCode = http.StatusPartialContent
	}
	writeJSON(w, statusCode, health)
}

func writeSubmitError(w http.ResponseWriter, err error) {
	type kinder interface{ Kind() taskmanager.ErrorKind }
	if ke, ok := err.(kinder); ok {
		switch ke.Kind() {
		case taskmanager.ErrShutdownInProgress:
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		case taskmanager.ErrQueueFull:
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		default:
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	http.Error(w, err.Error(), http.StatusBadRequest)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("httpapi: encode response: %v", err)
	}
}

// ListenAndServe starts the HTTP server, blocking until it exits.
func (s *Server) ListenAndServe() error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}
	log.Printf("httpapi: listening on %s", s.cfg.Addr)
	return srv.ListenAndServe()
}
