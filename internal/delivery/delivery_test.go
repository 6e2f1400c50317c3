package delivery

import (
	"context"
	"crypto/ed25519"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/bskyhook/notifier/internal/identmap"
	"github.com/bskyhook/notifier/internal/index"
	"github.com/bskyhook/notifier/internal/metrics"
	"github.com/bskyhook/notifier/internal/subscriber"
)

type fakeStore struct {
	deleted []string
}

func (f *fakeStore) Delete(ctx context.Context, privateKeyHex string) error {
	f.deleted = append(f.deleted, privateKeyHex)
	return nil
}

func newTestWorker(t *testing.T, st Store) (*Worker, *index.Tree, *identmap.Map) {
	t.Helper()
	tree := index.New()
	idents := identmap.New()
	logger := zap.NewNop()
	reg := metrics.NewRegistry()
	w := New(2*time.Second, 2*time.Hour, tree, idents, st, logger, reg)
	return w, tree, idents
}

func testSubscriber(t *testing.T, did, endpoint string) *subscriber.Subscriber {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	var seed [32]byte
	copy(seed[:], priv.Seed())
	return subscriber.New(did, endpoint, seed, []string{"hello"})
}

func TestDeliver_SuccessResetsDowntime(t *testing.T) {
	var gotSig, gotTS string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Signature-Ed25519")
		gotTS = r.Header.Get("X-Signature-Timestamp")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	fs := &fakeStore{}
	w, _, _ := newTestWorker(t, fs)
	sub := testSubscriber(t, "did:example:1", srv.URL)
	sub.SetDowntimeStart(12345)

	w.Deliver(context.Background(), sub, []byte(`{"a":1}`), 1000)

	if gotSig == "" || gotTS != "1000" {
		t.Fatalf("expected signature headers set, got sig=%q ts=%q", gotSig, gotTS)
	}
	if sub.DowntimeStart() != 0 {
		t.Fatalf("expected downtime reset to 0, got %d", sub.DowntimeStart())
	}
}

func TestDeliver_403EvictsImmediately(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	fs := &fakeStore{}
	w, tree, idents := newTestWorker(t, fs)
	sub := testSubscriber(t, "did:example:1", srv.URL)
	tree.Add("hello", sub)
	idents.Insert(sub.DID, sub)

	w.Deliver(context.Background(), sub, []byte(`{}`), 1000)

	if len(fs.deleted) != 1 {
		t.Fatalf("expected one store delete, got %d", len(fs.deleted))
	}
	if _, ok := idents.Get(sub.DID); ok {
		t.Fatal("expected subscriber removed from identifier map")
	}
	if got := tree.FindAllMatches([]byte("hello")); len(got) != 0 {
		t.Fatal("expected subscriber removed from index")
	}
}

func TestDeliver_OtherFailureTracksDowntimeThenEvicts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	fs := &fakeStore{}
	w, _, _ := newTestWorker(t, fs)
	w.evictAfter = 1 * time.Millisecond
	sub := testSubscriber(t, "did:example:1", srv.URL)

	w.Deliver(context.Background(), sub, []byte(`{}`), 1000)
	if sub.DowntimeStart() == 0 {
		t.Fatal("expected downtime-start to be set after first failure")
	}
	if len(fs.deleted) != 0 {
		t.Fatal("should not evict on first failure")
	}

	time.Sleep(5 * time.Millisecond)
	w.Deliver(context.Background(), sub, []byte(`{}`), 1001)
	if len(fs.deleted) != 1 {
		t.Fatalf("expected eviction after downtime exceeds threshold, got %d deletes", len(fs.deleted))
	}
}

func TestEndpointUnhealthy_LiteralIPNeverEvicted(t *testing.T) {
	evict, err := endpointUnhealthy(context.Background(), "http://127.0.0.1:9999/hook")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if evict {
		t.Fatal("literal IP endpoints must not be evicted on transport error alone")
	}
}
