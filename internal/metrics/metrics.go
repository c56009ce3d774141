// Package metrics 批处理与远程调用的 Prometheus 指标
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	filesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sharedash_files_processed_total",
			Help: "Total number of files that reached a terminal processing state",
		},
		[]string{"status"},
	)

	remoteRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sharedash_remote_requests_total",
			Help: "Total number of remote store requests",
		},
		[]string{"op", "outcome"},
	)

	remoteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sharedash_remote_request_duration_seconds",
			Help:    "Remote store request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	tokenFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sharedash_token_fetches_total",
			Help: "Total number of bearer token acquisitions from the identity provider",
		},
		[]string{"outcome"},
	)
)

// Handler 返回 /metrics 处理器
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFile 记录一个文件到达终态
func ObserveFile(status string) {
	filesProcessed.WithLabelValues(status).Inc()
}

// ObserveRemote 记录一次远程调用的结果和耗时
func ObserveRemote(op string, duration time.Duration, err error) {
	remoteRequests.WithLabelValues(op, outcome(err)).Inc()
	remoteDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func ObserveTokenFetch(err error) {
	tokenFetches.WithLabelValues(outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// Serve 在 addr 上提供 /metrics，直到 ctx 取消；addr 为空时不启动
func Serve(ctx context.Context, addr string) error {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("metrics 服务已启动", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
