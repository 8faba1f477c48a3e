// Package metrics exposes Prometheus counters for the property cache.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const namespace = "mapi_bridge"

// Metrics groups the counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	nameLookups     *prometheus.CounterVec
	storeCalls      *prometheus.CounterVec
	collections     *prometheus.CounterVec
	invalidations   *prometheus.CounterVec
	streamFallbacks prometheus.Counter
}

// New creates the counters and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		nameLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "name_lookups_total",
			Help:      "Named property identifier lookups by cache result.",
		}, []string{"result"}),
		storeCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_calls_total",
			Help:      "Calls made into the property store by operation.",
		}, []string{"op"}),
		collections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collection_requests_total",
			Help:      "Lazy collection requests by collection and result.",
		}, []string{"collection", "result"}),
		invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collection_invalidations_total",
			Help:      "Cached collections discarded by collection and reason.",
		}, []string{"collection", "reason"}),
		streamFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_fallbacks_total",
			Help:      "Properties re-opened as streams after a bulk fetch reported them too large.",
		}),
	}
	reg.MustRegister(m.nameLookups, m.storeCalls, m.collections, m.invalidations, m.streamFallbacks)
	return m
}

// ObserveNameLookups implements mapi.LookupObserver.
func (m *Metrics) ObserveNameLookups(hits, misses int) {
	if m == nil {
		return
	}
	m.nameLookups.WithLabelValues("hit").Add(float64(hits))
	m.nameLookups.WithLabelValues("miss").Add(float64(misses))
}

// StoreCall counts one call into the store.
func (m *Metrics) StoreCall(op string) {
	if m == nil {
		return
	}
	m.storeCalls.WithLabelValues(op).Inc()
}

// CollectionHit counts a request served from cache.
func (m *Metrics) CollectionHit(collection string) {
	if m == nil {
		return
	}
	m.collections.WithLabelValues(collection, "hit").Inc()
}

// CollectionLoad counts a request that read the store.
func (m *Metrics) CollectionLoad(collection string) {
	if m == nil {
		return
	}
	m.collections.WithLabelValues(collection, "load").Inc()
}

// Invalidated counts a discarded collection.
func (m *Metrics) Invalidated(collection, reason string) {
	if m == nil {
		return
	}
	m.invalidations.WithLabelValues(collection, reason).Inc()
}

// StreamFallback counts properties opened as streams.
func (m *Metrics) StreamFallback(n int) {
	if m == nil || n == 0 {
		return
	}
	m.streamFallbacks.Add(float64(n))
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer, logger *logrus.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Failed to shut down metrics listener")
		}
	}()

	logger.WithField("addr", addr).Info("Serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
