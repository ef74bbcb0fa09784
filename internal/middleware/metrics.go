package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Message metrics
	messagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ami_bot_messages_received_total",
		Help: "Total number of messages received",
	}, []string{"chat_type"})

	messagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ami_bot_messages_processed_total",
		Help: "Total number of messages processed",
	}, []string{"status"})

	// Command metrics
	commandsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ami_bot_commands_executed_total",
		Help: "Total number of commands executed",
	}, []string{"command"})

	actionsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ami_bot_actions_total",
		Help: "Responses by action branch",
	}, []string{"action"})

	// Backend metrics
	backendRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ami_bot_backend_request_duration_seconds",
		Help:    "Duration of language model requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"status"})

	backendRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ami_bot_backend_requests_total",
		Help: "Total number of language model requests",
	}, []string{"status"})

	moodsClassified = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ami_bot_moods_total",
		Help: "Mood labels assigned to incoming messages",
	}, []string{"mood"})

	// Limit metrics
	dailyLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ami_bot_daily_limit_exceeded_total",
		Help: "Messages rejected by the daily limits",
	}, []string{"scope"})

	rateLimitExceeded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ami_bot_rate_limit_exceeded_total",
		Help: "Total number of rate limit exceeded events",
	})

	// Context store metrics
	contextBuckets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ami_bot_context_buckets",
		Help: "Number of conversation buckets held in memory",
	})

	sweepRemoved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ami_bot_context_sweep_removed_total",
		Help: "Buckets removed by the context sweep",
	}, []string{"reason"})

	backendSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ami_bot_backend_sessions",
		Help: "Chats with a live language model session",
	})

	// Active chats gauge
	activeChats = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ami_bot_active_chats",
		Help: "Number of active chats",
	})
)

// Metrics provides methods to record metrics
type Metrics struct{}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordMessageReceived records a received message
func (m *Metrics) RecordMessageReceived(chatType string) {
	messagesReceived.WithLabelValues(chatType).Inc()
}

// RecordMessageProcessed records a processed message
func (m *Metrics) RecordMessageProcessed(status string) {
	messagesProcessed.WithLabelValues(status).Inc()
}

// RecordCommandExecuted records an executed command
func (m *Metrics) RecordCommandExecuted(command string) {
	commandsExecuted.WithLabelValues(command).Inc()
}

// RecordAction records which response branch was taken
func (m *Metrics) RecordAction(action string) {
	if action == "" {
		action = "text"
	}
	actionsDispatched.WithLabelValues(action).Inc()
}

// RecordBackendRequest records a language model request
func (m *Metrics) RecordBackendRequest(status string, duration time.Duration) {
	backendRequestDuration.WithLabelValues(status).Observe(duration.Seconds())
	backendRequestsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordMood(mood string) {
	moodsClassified.WithLabelValues(mood).Inc()
}

func (m *Metrics) RecordDailyLimitExceeded(scope string) {
	dailyLimitExceeded.WithLabelValues(scope).Inc()
}

// RecordRateLimitExceeded records a rate limit exceeded event
func (m *Metrics) RecordRateLimitExceeded() {
	rateLimitExceeded.Inc()
}

func (m *Metrics) SetContextBuckets(count int) {
	contextBuckets.Set(float64(count))
}

// RecordSweep records buckets removed by one context sweep
func (m *Metrics) RecordSweep(expired, evicted int) {
	sweepRemoved.WithLabelValues("expired").Add(float64(expired))
	sweepRemoved.WithLabelValues("evicted").Add(float64(evicted))
}

func (m *Metrics) SetBackendSessions(count int) {
	backendSessions.Set(float64(count))
}

// SetActiveChats sets the number of active chats
func (m *Metrics) SetActiveChats(count int) {
	activeChats.Set(float64(count))
}

// NewMetricsServer builds the HTTP server exposing metrics and /health
func NewMetricsServer(port int, path string) *http.Server {
	router := mux.NewRouter()
	router.Handle(path, promhttp.Handler())

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}
