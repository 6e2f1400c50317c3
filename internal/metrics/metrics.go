// Package metrics wraps the Prometheus collectors the notifier exposes as
// a single Registry struct of collectors, plus its own small HTTP listener
// for scraping.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Registry holds every Prometheus collector the notifier updates.
type Registry struct {
	SubstringMatches  prometheus.Counter
	MentionMatches    prometheus.Counter
	DeliveriesOK      prometheus.Counter
	DeliveriesFailed  prometheus.Counter
	Evictions         prometheus.Counter
	FirehoseReconnect prometheus.Counter
	FirehoseDecodeErr prometheus.Counter
	SubscribersActive prometheus.Gauge
}

// NewRegistry creates and registers every collector against the default
// Prometheus registerer.
func NewRegistry() *Registry {
	return &Registry{
		SubstringMatches: promauto.NewCounter(prometheus.CounterOpts{
			Name: "notifier_substring_matches_total",
			Help: "Total number of subscriber matches found via phrase substring.",
		}),
		MentionMatches: promauto.NewCounter(prometheus.CounterOpts{
			Name: "notifier_mention_matches_total",
			Help: "Total number of subscriber matches found via DID mention.",
		}),
		DeliveriesOK: promauto.NewCounter(prometheus.CounterOpts{
			Name: "notifier_deliveries_ok_total",
			Help: "Total number of webhook deliveries that received a 2xx response.",
		}),
		DeliveriesFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "notifier_deliveries_failed_total",
			Help: "Total number of webhook deliveries that failed or errored.",
		}),
		Evictions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "notifier_evictions_total",
			Help: "Total number of subscribers evicted from the index and store.",
		}),
		FirehoseReconnect: promauto.NewCounter(prometheus.CounterOpts{
			Name: "notifier_firehose_reconnects_total",
			Help: "Total number of firehose reconnect attempts.",
		}),
		FirehoseDecodeErr: promauto.NewCounter(prometheus.CounterOpts{
			Name: "notifier_firehose_decode_errors_total",
			Help: "Total number of firehose frames or post records dropped due to decode failure.",
		}),
		SubscribersActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "notifier_subscribers_active",
			Help: "Number of subscribers loaded into the index at startup; not updated on reload or eviction.",
		}),
	}
}

// Handler returns the HTTP handler exposing the Prometheus metrics page.
func (r *Registry) Handler() http.Handler {
	return promhttp.Handler()
}

// Serve runs the metrics HTTP listener on addr, exposing endpoint, until ctx
// is cancelled. It is its own small server, separate from the admin router,
// so a scrape can never contend with the reload route.
func (r *Registry) Serve(ctx context.Context, addr, endpoint string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle(endpoint, r.Handler())

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics http server starting", zap.String("addr", addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics http server shutdown error", zap.Error(err))
		}
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}
