// Command taskengined wires the task execution substrate into a
// single-node daemon: an HTTP submission API in front of the
// Scheduler, a Prometheus scrape endpoint for the metrics collector,
// OTLP trace/metric export, alert evaluation, and an optional
// bbolt-backed snapshot store for crash recovery.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/swarmguard/taskcore/internal/admission"
	"github.com/swarmguard/taskcore/internal/alerting"
	"github.com/swarmguard/taskcore/internal/executor"
	"github.com/swarmguard/taskcore/internal/metrics"
	"github.com/swarmguard/taskcore/internal/obslog"
	"github.com/swarmguard/taskcore/internal/obsotel"
	"github.com/swarmguard/taskcore/internal/resourcemgr"
	"github.com/swarmguard/taskcore/internal/scheduler"
	"github.com/swarmguard/taskcore/internal/snapshot"
	"github.com/swarmguard/taskcore/internal/taskerr"
	"github.com/swarmguard/taskcore/internal/taskmodel"
	"github.com/swarmguard/taskcore/internal/taskqueue"
	"github.com/swarmguard/taskcore/internal/tracer"
)

type submitRequest struct {
	Work         string            `json:"work"`
	Args         []any             `json:"args"`
	Priority     string            `json:"priority,omitempty"`
	TimeoutMs    int64             `json:"timeout_ms"`
	Deadline     *time.Time        `json:"deadline,omitempty"`
	Dependencies []string          `json:"dependencies,omitempty"`
	Resources    []resourceRequest `json:"resources,omitempty"`
	Retry        *retryRequest     `json:"retry,omitempty"`
	Metadata     map[string]any    `json:"metadata,omitempty"`
}

type resourceRequest struct {
	Kind   string  `json:"kind"`
	Amount float64 `json:"amount"`
}

type retryRequest struct {
	MaxAttempts   int      `json:"max_attempts"`
	BaseDelayMs   int64    `json:"base_delay_ms"`
	MaxDelayMs    int64    `json:"max_delay_ms"`
	BackoffFactor float64  `json:"backoff_factor"`
	JitterFactor  float64  `json:"jitter_factor"`
	RetryOn       []string `json:"retry_on,omitempty"`
}

type taskStatusResponse struct {
	ID          string     `json:"id"`
	Work        string     `json:"work"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`
	Result      any        `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	Attempts    int        `json:"attempts"`
	PrevErrors  []string   `json:"previous_errors,omitempty"`
}

func toOptions(req submitRequest) scheduler.SubmitOptions {
	opts := scheduler.SubmitOptions{
		Priority:     taskmodel.PriorityMedium,
		Timeout:      time.Duration(req.TimeoutMs) * time.Millisecond,
		Dependencies: req.Dependencies,
		Metadata:     req.Metadata,
	}
	if req.Priority != "" {
		opts.Priority = taskmodel.Priority(req.Priority)
	}
	if req.Deadline != nil {
		opts.Deadline = *req.Deadline
	}
	for _, r := range req.Resources {
		opts.Resources = append(opts.Resources, taskmodel.ResourceRequest{Kind: r.Kind, Amount: r.Amount})
	}
	if req.Retry != nil {
		// Unset fields in a partial retry object keep their defaults.
		rp := taskmodel.DefaultRetryPolicy()
		if req.Retry.MaxAttempts > 0 {
			rp.MaxAttempts = req.Retry.MaxAttempts
		}
		if req.Retry.BaseDelayMs > 0 {
			rp.BaseDelay = time.Duration(req.Retry.BaseDelayMs) * time.Millisecond
		}
		if req.Retry.MaxDelayMs > 0 {
			rp.MaxDelay = time.Duration(req.Retry.MaxDelayMs) * time.Millisecond
		}
		if req.Retry.BackoffFactor >= 1 {
			rp.BackoffFactor = req.Retry.BackoffFactor
		}
		if req.Retry.JitterFactor > 0 && req.Retry.JitterFactor <= 1 {
			rp.JitterFactor = req.Retry.JitterFactor
		}
		if len(req.Retry.RetryOn) > 0 {
			rp.RetryOn = rp.RetryOn[:0]
			for _, c := range req.Retry.RetryOn {
				rp.RetryOn = append(rp.RetryOn, taskmodel.RetryCategory(c))
			}
		}
		opts.Retry = &rp
	}
	return opts
}

func toStatusResponse(t taskmodel.Task) taskStatusResponse {
	resp := taskStatusResponse{
		ID:        t.ID,
		Work:      string(t.Work),
		Status:    string(t.Status),
		Priority:  string(t.Priority),
		CreatedAt: t.CreatedAt,
		Result:    t.Result,
		Attempts:  t.RetryAttempt(),
	}
	if !t.StartedAt.IsZero() {
		resp.StartedAt = &t.StartedAt
	}
	if !t.CompletedAt.IsZero() {
		resp.CompletedAt = &t.CompletedAt
	}
	if !t.FailedAt.IsZero() {
		resp.FailedAt = &t.FailedAt
	}
	if t.Err != nil {
		resp.Error = t.Err.Error()
		resp.PrevErrors = t.PreviousErrors()
	}
	return resp
}

func submissionStatusCode(err error) int {
	switch {
	case errors.Is(err, taskerr.ErrQueueFull):
		return http.StatusTooManyRequests
	case errors.Is(err, taskerr.ErrTaskNotFound):
		return http.StatusNotFound
	default:
		return http.StatusBadRequest
	}
}

// poolFromEnv parses TASKCORE_POOL ("cpu=8,memory=4096") into pool
// totals, defaulting to a small general-purpose pool.
func poolFromEnv() map[string]float64 {
	totals := map[string]float64{"cpu": 8, "memory": 4096}
	raw := os.Getenv("TASKCORE_POOL")
	if raw == "" {
		return totals
	}
	parsed := make(map[string]float64)
	for _, pair := range strings.Split(raw, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		amount, err := strconv.ParseFloat(kv[1], 64)
		if err != nil || amount < 0 {
			slog.Warn("ignoring malformed pool entry", "entry", pair)
			continue
		}
		parsed[strings.TrimSpace(kv[0])] = amount
	}
	if len(parsed) > 0 {
		return parsed
	}
	return totals
}

func main() {
	service := "taskengined"
	obslog.Init(service)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	shutdownTrace := obsotel.InitTracer(ctx, service)
	shutdownMetrics := obsotel.InitMeter(ctx, service)
	meter := otel.GetMeterProvider().Meter(service)

	pool := resourcemgr.NewManager(poolFromEnv(), resourcemgr.StrategyFirstFit)

	handlers := executor.NewRegistry()
	handlers.Register("http", executor.NewHTTPHandler(nil))
	handlers.Register("shell", executor.NewShellHandler())

	sched := scheduler.New(service, pool, handlers, meter)
	if raw := os.Getenv("TASKCORE_ADMISSION_RATE"); raw != "" {
		if rps, err := strconv.ParseFloat(raw, 64); err == nil && rps > 0 {
			sched.SetAdmissionLimiter(admission.New(int64(rps*2), rps, time.Second, int64(rps*4), meter))
		} else {
			slog.Warn("ignoring malformed admission rate", "value", raw)
		}
	}
	go sched.Run(ctx)

	promExporter := metrics.NewPrometheusExporter()
	otelExporter := metrics.NewOTelBridgeExporter(meter)
	collector := metrics.New(promExporter, otelExporter)
	go collector.Run()
	defer collector.Stop()

	tr := tracer.New(tracer.DefaultConfig(), nil)
	tr.RegisterExporter(tracer.NewOTelBridgeExporter(otel.Tracer(service)))
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tr.SweepExpired()
			}
		}
	}()

	// Publish scheduler gauges into the collector so alert rules (and
	// the scrape endpoint) can see backlog and failure levels.
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m := sched.Metrics()
				collector.SetGauge("taskcore_running", float64(m.Running), nil)
				collector.SetGauge("taskcore_queued", float64(m.Queued), nil)
				collector.SetGauge("taskcore_waiting", float64(m.Waiting), nil)
				collector.SetGauge("taskcore_failed_total", float64(m.Failed), nil)
			}
		}
	}()

	alerts := alerting.New(collector, sched)
	alerts.AddRule(alerting.Rule{
		Name:      "queue-backlog",
		Metric:    "taskcore_queued",
		Condition: alerting.Above,
		Threshold: 1000,
		For:       time.Minute,
	})
	go alerts.Run()
	defer alerts.Stop()

	cronRunner := scheduler.NewCronRunner(sched)
	cronRunner.Start()
	defer cronRunner.Stop()

	// Snapshotting is opt-in: waiting/queued tasks are replayed through
	// Schedule on restart when a snapshot path is configured.
	var store *snapshot.Store
	if path := os.Getenv("TASKCORE_SNAPSHOT_PATH"); path != "" {
		var err error
		store, err = snapshot.Open(path, meter)
		if err != nil {
			slog.Error("snapshot store unavailable", "path", path, "error", err)
			os.Exit(1)
		}
		defer store.Close()
		restored, err := store.LoadAll(ctx)
		if err != nil {
			slog.Error("snapshot replay failed", "error", err)
		}
		for _, t := range restored {
			if t.Status.Terminal() {
				_ = store.Delete(t.ID)
				continue
			}
			if _, err := sched.Schedule(t.Work, t.Args, scheduler.SubmitOptions{
				Priority:     t.Priority,
				Timeout:      t.Timeout,
				Deadline:     t.Deadline,
				Dependencies: t.Dependencies,
				Resources:    t.Resources,
				Retry:        &t.Retry,
				Metadata:     t.Metadata,
			}); err != nil {
				slog.Warn("snapshot task not resubmitted", "task", t.ID, "error", err)
			}
			_ = store.Delete(t.ID)
		}
		if len(restored) > 0 {
			slog.Info("snapshot replay complete", "tasks", len(restored))
		}
	}

	// Bridge scheduler lifecycle events into the metrics collector, the
	// tracer (one trace per task run), and the snapshot store while
	// tasks are in flight.
	events := sched.Subscribe(256)
	go func() {
		taskTraces := make(map[string]string)
		for ev := range events {
			collector.IncCounter("taskcore_events_total", 1, map[string]string{"type": string(ev.Type)})
			id, _ := ev.Data["task_id"].(string)
			if id == "" {
				continue
			}
			switch ev.Type {
			case scheduler.EventTaskScheduled:
				if store != nil {
					if t, ok := sched.Status(id); ok {
						if err := store.Put(ctx, t.Snapshot()); err != nil {
							slog.Warn("snapshot write failed", "task", id, "error", err)
						}
					}
				}
			case scheduler.EventTaskStarted:
				if traceID, err := tr.StartTrace("task.execute", map[string]any{"task_id": id}); err == nil {
					taskTraces[id] = traceID
				}
			case scheduler.EventTaskCompleted, scheduler.EventTaskFailed, scheduler.EventTaskCancelled:
				if traceID, ok := taskTraces[id]; ok {
					delete(taskTraces, id)
					status := tracer.StatusOK
					if ev.Type == scheduler.EventTaskFailed {
						status = tracer.StatusError
					}
					if trace, ok := tr.Get(traceID); ok {
						_ = tr.FinishSpan(traceID, trace.RootSpanID, status, nil)
					}
				}
				if store != nil {
					_ = store.Delete(id)
				}
			}
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promExporter)

	mux.HandleFunc("/v1/tasks", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var req submitRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, "bad request", http.StatusBadRequest)
				return
			}
			id, err := sched.Schedule(taskmodel.WorkRef(req.Work), req.Args, toOptions(req))
			if err != nil {
				http.Error(w, err.Error(), submissionStatusCode(err))
				return
			}
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(map[string]string{"id": id})
		case http.MethodGet:
			id := r.URL.Query().Get("id")
			if id == "" {
				var statuses []taskmodel.Status
				if s := r.URL.Query().Get("status"); s != "" {
					statuses = append(statuses, taskmodel.Status(s))
				}
				tasks := sched.List(scheduler.ListFilter{Statuses: statuses})
				out := make([]taskStatusResponse, 0, len(tasks))
				for _, t := range tasks {
					out = append(out, toStatusResponse(t))
				}
				_ = json.NewEncoder(w).Encode(out)
				return
			}
			t, ok := sched.Status(id)
			if !ok {
				http.NotFound(w, r)
				return
			}
			_ = json.NewEncoder(w).Encode(toStatusResponse(t))
		case http.MethodDelete:
			id := r.URL.Query().Get("id")
			if err := sched.Cancel(id); err != nil {
				http.Error(w, err.Error(), submissionStatusCode(err))
				return
			}
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	control := func(action func(string) error) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			if err := action(r.URL.Query().Get("id")); err != nil {
				http.Error(w, err.Error(), submissionStatusCode(err))
				return
			}
			w.WriteHeader(http.StatusOK)
		}
	}
	mux.HandleFunc("/v1/tasks/pause", control(sched.Pause))
	mux.HandleFunc("/v1/tasks/resume", control(sched.Resume))

	mux.HandleFunc("/v1/scheduler/metrics", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_ = json.NewEncoder(w).Encode(sched.Metrics())
	})

	mux.HandleFunc("/v1/scheduler/strategy", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Strategy string `json:"strategy"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		sched.SetStrategy(taskqueue.Strategy(req.Strategy))
		w.WriteHeader(http.StatusOK)
	})

	addr := os.Getenv("TASKCORE_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()
	slog.Info("service started", "addr", addr)
	<-ctx.Done()
	slog.Info("shutdown initiated")
	ctxSd, c2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer c2()
	_ = srv.Shutdown(ctxSd)
	sched.Stop()
	obsotel.Flush(ctxSd, shutdownTrace)
	obsotel.Flush(ctxSd, shutdownMetrics)
	slog.Info("shutdown complete")
}
