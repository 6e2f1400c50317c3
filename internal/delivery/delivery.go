// Package delivery implements the webhook delivery worker and the
// eviction / endpoint-health logic that backs it.
package delivery

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/bskyhook/notifier/internal/identmap"
	"github.com/bskyhook/notifier/internal/index"
	"github.com/bskyhook/notifier/internal/metrics"
	"github.com/bskyhook/notifier/internal/subscriber"
)

// Store is the subset of internal/store.Store delivery needs, so tests can
// supply a fake without touching Postgres.
type Store interface {
	Delete(ctx context.Context, privateKeyHex string) error
}

// Worker signs and POSTs per-match payloads, interprets the response, and
// escalates to eviction when a subscriber's endpoint is unhealthy.
type Worker struct {
	client     *http.Client
	tree       *index.Tree
	idents     *identmap.Map
	store      Store
	logger     *zap.Logger
	metrics    *metrics.Registry
	evictAfter time.Duration
}

// New builds a delivery Worker.
func New(timeout time.Duration, evictAfter time.Duration, tree *index.Tree, idents *identmap.Map, st Store, logger *zap.Logger, m *metrics.Registry) *Worker {
	return &Worker{
		client:     &http.Client{Timeout: timeout},
		tree:       tree,
		idents:     idents,
		store:      st,
		logger:     logger,
		metrics:    m,
		evictAfter: evictAfter,
	}
}

// Deliver signs body with sub's key, POSTs it to sub's endpoint, and applies
// the response-handling/downtime-escalation policy below. tsSeconds is the
// Unix-seconds timestamp included in both the signature and the
// X-Signature-Timestamp header.
func (w *Worker) Deliver(ctx context.Context, sub *subscriber.Subscriber, body []byte, tsSeconds int64) {
	tsStr := strconv.FormatInt(tsSeconds, 10)

	signingKey := ed25519.NewKeyFromSeed(sub.Key[:])
	signed := append([]byte(tsStr), body...)
	signature := ed25519.Sign(signingKey, signed)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.Endpoint, bytes.NewReader(body))
	if err != nil {
		w.logger.Warn("delivery: building request failed", zap.Uint64("subscriber_id", sub.ID), zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature-Ed25519", hex.EncodeToString(signature))
	req.Header.Set("X-Signature-Timestamp", tsStr)

	resp, err := w.client.Do(req)
	if err != nil {
		w.metrics.DeliveriesFailed.Inc()
		w.onTransportError(ctx, sub, err)
		return
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		sub.SetDowntimeStart(0)
		w.metrics.DeliveriesOK.Inc()

	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests:
		w.metrics.DeliveriesFailed.Inc()
		w.evict(ctx, sub)

	default:
		w.metrics.DeliveriesFailed.Inc()
		nowMillis := time.Now().UnixMilli()
		start := sub.DowntimeStart()
		if start == 0 {
			sub.SetDowntimeStart(nowMillis)
			return
		}
		if time.Duration(nowMillis-start)*time.Millisecond > w.evictAfter {
			w.evict(ctx, sub)
		}
	}
}

// onTransportError runs an endpoint-health check and evicts if the host no
// longer resolves.
func (w *Worker) onTransportError(ctx context.Context, sub *subscriber.Subscriber, cause error) {
	w.logger.Debug("delivery: transport error", zap.Uint64("subscriber_id", sub.ID), zap.Error(cause))

	shouldEvict, err := endpointUnhealthy(ctx, sub.Endpoint)
	if err != nil {
		w.logger.Warn("delivery: endpoint health check failed",
			zap.Uint64("subscriber_id", sub.ID), zap.String("endpoint", sub.Endpoint), zap.Error(err))
		return
	}
	if shouldEvict {
		w.evict(ctx, sub)
	}
}

// endpointUnhealthy parses endpoint and returns whether it should be
// considered dead: a literal IP host is never evicted on transport failure
// alone; a hostname is evicted only if DNS resolution fails or returns no
// addresses.
func endpointUnhealthy(ctx context.Context, endpoint string) (bool, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		// An unparseable endpoint can never be healthy again.
		return true, nil
	}
	host := u.Hostname()
	if net.ParseIP(host) != nil {
		return false, nil
	}

	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return true, nil
	}
	return len(addrs) == 0, nil
}

// evict removes sub from the index, the identifier map, and the persistent
// store.
func (w *Worker) evict(ctx context.Context, sub *subscriber.Subscriber) {
	for _, phrase := range sub.Phrases {
		w.tree.Remove(phrase, sub)
	}
	if sub.HasDID() {
		w.idents.Remove(sub.DID)
	}

	privateKeyHex := hex.EncodeToString(sub.Key[:])
	if err := w.store.Delete(ctx, privateKeyHex); err != nil {
		w.logger.Warn("eviction: deleting from store failed",
			zap.Uint64("subscriber_id", sub.ID), zap.Error(err))
	}
	w.metrics.Evictions.Inc()
	w.logger.Info("subscriber evicted", zap.Uint64("subscriber_id", sub.ID), zap.String("did", sub.DID))
}
