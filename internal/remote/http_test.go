package remote_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/steveyegge/clusterconfig/internal/remote"
	"github.com/steveyegge/clusterconfig/internal/wire"
)

func setupTransport(t *testing.T, cluster remote.Cluster) *remote.HTTPTransport {
	t.Helper()
	cfg := remote.DefaultHTTPConfig()
	cfg.Timeout = 5 * time.Second
	cfg.RetryDelay = time.Millisecond
	cfg.Logger = quietLogger()
	transport, err := remote.NewHTTPTransport(cluster, cfg)
	if err != nil {
		t.Fatalf("Failed to create transport: %v", err)
	}
	return transport
}

func TestHTTPTransportRetriesCriticalRequests(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	transport := setupTransport(t, remote.StaticCluster{srv.URL})

	res, err := transport.Send(context.Background(), &remote.Request{Method: http.MethodGet, Path: "/_v2/zone", Critical: true})
	if err != nil {
		t.Fatalf("Send() failed: %v", err)
	}
	if res.Status != remote.StatusReplicasExhausted {
		t.Errorf("Status = %v, want ReplicasExhausted", res.Status)
	}
	if got := hits.Load(); got != 3 {
		t.Errorf("critical request hit server %d times, want 3", got)
	}

	hits.Store(0)
	if _, err := transport.Send(context.Background(), &remote.Request{Method: http.MethodGet, Path: "/_v2/zone"}); err != nil {
		t.Fatalf("Send() failed: %v", err)
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("ordinary request hit server %d times, want 1", got)
	}
}

func TestHTTPTransportFallsBackToHealthyReplica(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get(remote.QueryZone) != "z" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer good.Close()

	transport := setupTransport(t, remote.StaticCluster{bad.URL, good.URL})
	res, err := transport.Send(context.Background(), &remote.Request{
		Method: http.MethodGet,
		Path:   "/_v2/zone",
		Query:  url.Values{remote.QueryZone: []string{"z"}},
	})
	if err != nil {
		t.Fatalf("Send() failed: %v", err)
	}
	if res.Status != remote.StatusSuccess || res.Replica != good.URL {
		t.Fatalf("Send() = %v from %q, want success from %q", res.Status, res.Replica, good.URL)
	}
	if string(res.Response.Body) != "ok" {
		t.Errorf("Body = %q, want ok", res.Response.Body)
	}
}

func TestHTTPTransportDecodesGzip(t *testing.T) {
	payload := []byte("compressed settings payload")
	packed, err := wire.Compress(payload)
	if err != nil {
		t.Fatalf("Compress() failed: %v", err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept-Encoding") != "gzip" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Encoding", "gzip")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(packed)
	}))
	defer srv.Close()

	transport := setupTransport(t, remote.StaticCluster{srv.URL})
	res, err := transport.Send(context.Background(), &remote.Request{Method: http.MethodGet, Path: "/"})
	if err != nil {
		t.Fatalf("Send() failed: %v", err)
	}
	if diff := cmp.Diff(payload, res.Response.Body); diff != "" {
		t.Errorf("Body mismatch (-want +got):\n%s", diff)
	}
}

func TestStaticClusterNormalizesReplicas(t *testing.T) {
	got, err := remote.StaticCluster{"10.0.0.1:9000", " https://cfg.local/ ", ""}.Replicas(context.Background())
	if err != nil {
		t.Fatalf("Replicas() failed: %v", err)
	}
	want := []string{"http://10.0.0.1:9000", "https://cfg.local"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Replicas() mismatch (-want +got):\n%s", diff)
	}
}
