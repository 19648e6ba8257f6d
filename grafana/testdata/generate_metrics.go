// Sample metrics server for developing Grafana dashboards against the
// daemon's metric families without pointing Prometheus at a live deployment.
package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metric families as they appear after the OTel collector's Prometheus
// exporter rewrites the instrument names (dots become underscores).
var (
	// Pipeline metrics
	pipelineRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gated_pipeline_runs_total",
			Help: "Pipeline runs by terminal outcome",
		},
		[]string{"outcome", "tier"},
	)
	pipelineRunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gated_pipeline_run_duration_seconds",
			Help:    "Wall time of pipeline runs",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~8.5min
		},
	)
	gateEvaluations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gated_pipeline_gate_evaluations_total",
			Help: "Gate evaluations by stage and resulting status",
		},
		[]string{"stage", "status"},
	)
	lockRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gated_pipeline_lock_rejections_total",
			Help: "Run requests rejected because the unit's flow-lock was held",
		},
	)

	// HTTP server metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gated_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gated_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
	httpResponseSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gated_http_response_size_bytes",
			Help:    "HTTP response body size",
			Buckets: []float64{100, 500, 1000, 5000, 10000, 50000, 100000, 500000},
		},
		[]string{"method", "endpoint"},
	)
	httpActiveRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gated_http_active_requests",
			Help: "Number of currently active HTTP requests",
		},
	)
)

var (
	outcomes  = []string{"ready", "needs-rework", "blocked", "cancelled"}
	tiers     = []string{"pr-fast", "merge-gate", "nightly"}
	stages    = []string{"freshness", "lint", "secrets", "tests", "build", "benchmarks", "docs"}
	statuses  = []string{"pass", "fail", "skipped"}
	endpoints = []string{"/api/v1/runs", "/api/v1/runs/:id", "/api/v1/status", "/api/v1/policy", "/webhook/github", "/health"}
)

func init() {
	prometheus.MustRegister(
		pipelineRuns,
		pipelineRunDuration,
		gateEvaluations,
		lockRejections,
		httpRequestsTotal,
		httpRequestDuration,
		httpResponseSize,
		httpActiveRequests,
	)
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "9090"
	}

	generateSampleData()

	ctx, cancel := context.WithCancel(context.Background())
	go generateContinuousData(ctx)

	http.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: ":" + port}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		cancel()
		server.Shutdown(context.Background())
	}()

	fmt.Printf("Sample metrics server running on http://localhost:%s/metrics\n", port)
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println("\nTo use with Prometheus, add this to prometheus.yml:")
	fmt.Printf("  - job_name: 'gated-test'\n    static_configs:\n      - targets: ['localhost:%s']\n", port)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal(err)
	}
}

func generateSampleData() {
	// Terminal outcomes skew heavily toward ready on pr-fast.
	for i := 0; i < 120; i++ {
		tier := randomChoice(tiers)
		outcome := "ready"
		if rand.Float64() > 0.7 {
			outcome = randomChoice(outcomes)
		}
		pipelineRuns.WithLabelValues(outcome, tier).Inc()
		pipelineRunDuration.Observe(5 + rand.Float64()*180)
	}

	for i := 0; i < 400; i++ {
		stage := randomChoice(stages)
		status := "pass"
		if rand.Float64() > 0.8 {
			status = randomChoice(statuses)
		}
		gateEvaluations.WithLabelValues(stage, status).Inc()
	}

	for i := 0; i < 4; i++ {
		lockRejections.Inc()
	}

	for i := 0; i < 300; i++ {
		endpoint := randomChoice(endpoints)
		method := "GET"
		if endpoint == "/webhook/github" {
			method = "POST"
		}
		status := randomChoice([]string{"200", "200", "200", "404", "503"})
		httpRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
		httpRequestDuration.WithLabelValues(method, endpoint).Observe(rand.Float64() * 0.3)
		httpResponseSize.WithLabelValues(method, endpoint).Observe(float64(rand.Intn(40000) + 200))
	}
	httpActiveRequests.Set(float64(rand.Intn(4)))
}

func generateContinuousData(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if rand.Float64() > 0.5 {
				tier := randomChoice(tiers)
				outcome := "ready"
				if rand.Float64() > 0.7 {
					outcome = randomChoice(outcomes)
				}
				pipelineRuns.WithLabelValues(outcome, tier).Inc()
				pipelineRunDuration.Observe(5 + rand.Float64()*180)
				for j := 0; j < rand.Intn(6)+2; j++ {
					gateEvaluations.WithLabelValues(randomChoice(stages), randomChoice(statuses)).Inc()
				}
			}
			if rand.Float64() > 0.3 {
				endpoint := randomChoice(endpoints)
				method := "GET"
				if endpoint == "/webhook/github" {
					method = "POST"
				}
				httpRequestsTotal.WithLabelValues(method, endpoint, "200").Inc()
				httpRequestDuration.WithLabelValues(method, endpoint).Observe(rand.Float64() * 0.3)
				httpResponseSize.WithLabelValues(method, endpoint).Observe(float64(rand.Intn(40000) + 200))
			}
			if rand.Float64() > 0.95 {
				lockRejections.Inc()
			}
			httpActiveRequests.Set(float64(rand.Intn(4)))
		}
	}
}

func randomChoice(choices []string) string {
	return choices[rand.Intn(len(choices))]
}
