// Package firehose is the ingestion loop: it dials the upstream
// repo-subscribe WSS endpoint, decodes commit frames, extracts post records,
// queries the index and identifier map, and dispatches delivery tasks.
//
// It is built on github.com/bluesky-social/indigo's events/repo packages,
// the AT Protocol client stack, layered on top of a
// github.com/gorilla/websocket client dial for the outbound WS connection.
package firehose

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	comatproto "github.com/bluesky-social/indigo/api/atproto"
	"github.com/bluesky-social/indigo/api/bsky"
	"github.com/bluesky-social/indigo/events"
	"github.com/bluesky-social/indigo/events/schedulers/sequential"
	"github.com/bluesky-social/indigo/repo"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/bskyhook/notifier/internal/identmap"
	"github.com/bskyhook/notifier/internal/index"
	"github.com/bskyhook/notifier/internal/metrics"
	"github.com/bskyhook/notifier/internal/subscriber"
)

const postPathPrefix = "app.bsky.feed.post/"

// DeliverFunc dispatches one delivery task. cmd/notifier binds this to
// delivery.Worker.Deliver.
type DeliverFunc func(ctx context.Context, sub *subscriber.Subscriber, body []byte, tsSeconds int64)

// Loop owns the upstream connection and reconnect policy.
type Loop struct {
	url     string
	backoff time.Duration
	tree    *index.Tree
	idents  *identmap.Map
	deliver DeliverFunc
	logger  *zap.Logger
	metrics *metrics.Registry
}

// New builds a firehose Loop.
func New(url string, backoff time.Duration, tree *index.Tree, idents *identmap.Map, deliver DeliverFunc, logger *zap.Logger, m *metrics.Registry) *Loop {
	return &Loop{
		url:     url,
		backoff: backoff,
		tree:    tree,
		idents:  idents,
		deliver: deliver,
		logger:  logger,
		metrics: m,
	}
}

// Run connects, ingests, and reconnects with a fixed back-off on any socket
// error, forever, until ctx is cancelled. There is no bounded retry cap:
// the upstream firehose is expected to come back, and giving up would mean
// silently stopping all matching until someone notices and restarts us.
func (l *Loop) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		if err := l.connectOnce(ctx); err != nil {
			l.logger.Warn("firehose: connection error, will reconnect", zap.Error(err))
		}
		l.metrics.FirehoseReconnect.Inc()

		select {
		case <-ctx.Done():
			return
		case <-time.After(l.backoff):
		}
	}
}

func (l *Loop) connectOnce(ctx context.Context) error {
	con, _, err := websocket.DefaultDialer.DialContext(ctx, l.url, nil)
	if err != nil {
		return fmt.Errorf("dial firehose: %w", err)
	}
	defer con.Close()

	l.logger.Info("firehose: connected")

	rsc := &events.RepoStreamCallbacks{
		RepoCommit: func(evt *comatproto.SyncSubscribeRepos_Commit) error {
			l.handleCommit(ctx, evt)
			return nil
		},
	}
	scheduler := sequential.NewScheduler(con.RemoteAddr().String(), rsc.EventHandler)
	return events.HandleRepoStream(ctx, con, scheduler)
}

// handleCommit decodes each operation in a commit: only operations whose path
// is under app.bsky.feed.post/ and that carry a content id are considered (the
// operation's action is not checked); record decode failures are
// logged and the operation is skipped without dropping the rest of the
// frame.
func (l *Loop) handleCommit(ctx context.Context, evt *comatproto.SyncSubscribeRepos_Commit) {
	rr, err := repo.ReadRepoFromCar(ctx, bytes.NewReader(evt.Blocks))
	if err != nil {
		l.metrics.FirehoseDecodeErr.Inc()
		l.logger.Debug("firehose: reading CAR blocks failed", zap.Error(err))
		return
	}

	for _, op := range evt.Ops {
		if op.Cid == nil {
			continue
		}
		if !strings.HasPrefix(op.Path, postPathPrefix) {
			continue
		}

		_, rec, err := rr.GetRecord(ctx, op.Path)
		if err != nil {
			l.metrics.FirehoseDecodeErr.Inc()
			l.logger.Debug("firehose: reading post record failed", zap.String("path", op.Path), zap.Error(err))
			continue
		}
		post, ok := rec.(*bsky.FeedPost)
		if !ok {
			continue
		}
		l.handlePost(ctx, evt.Repo, op.Path, post)
	}
}

// handlePost matches the post against the index and the identifier map and
// dispatches a delivery task per unique match. The substring pass runs
// first and seeds the within-post already-notified set the mention pass
// consults, so a subscriber matched both ways is notified exactly once.
func (l *Loop) handlePost(ctx context.Context, repoDID, path string, post *bsky.FeedPost) {
	tsSeconds := time.Now().Unix()
	textLower := []byte(strings.ToLower(post.Text))

	matched := l.tree.FindAllMatches(textLower)
	l.metrics.SubstringMatches.Add(float64(len(matched)))

	uri := fmt.Sprintf("at://%s/%s", repoDID, path)
	body, err := json.Marshal(map[string]any{"uri": uri, "post": post})
	if err != nil {
		l.logger.Warn("firehose: marshaling post payload failed", zap.Error(err))
		return
	}

	notified := make(map[uint64]struct{}, len(matched))
	for _, sub := range matched {
		notified[sub.ID] = struct{}{}
		go l.deliver(ctx, sub, body, tsSeconds)
	}

	for _, facet := range post.Facets {
		if facet == nil {
			continue
		}
		for _, feat := range facet.Features {
			if feat == nil || feat.RichtextFacet_Mention == nil {
				continue
			}
			did := feat.RichtextFacet_Mention.Did
			sub, ok := l.idents.Get(did)
			if !ok {
				continue
			}
			if _, already := notified[sub.ID]; already {
				continue
			}
			notified[sub.ID] = struct{}{}
			l.metrics.MentionMatches.Inc()
			go l.deliver(ctx, sub, body, tsSeconds)
		}
	}
}
