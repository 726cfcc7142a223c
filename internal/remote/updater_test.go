package remote_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/steveyegge/clusterconfig/internal/remote"
	"github.com/steveyegge/clusterconfig/internal/remotetest"
	"github.com/steveyegge/clusterconfig/internal/state"
	"github.com/steveyegge/clusterconfig/settings"
)

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func treeV(n string) *settings.Node {
	return settings.NewObject("",
		settings.NewObject("app", settings.NewValue("version", n), settings.NewValue("owner", "infra")),
		settings.NewValue("stable", "yes"),
	)
}

func setupUpdater(t *testing.T, srv *remotetest.Server, assumeDeployed bool) *remote.Updater {
	t.Helper()
	cfg := remote.DefaultHTTPConfig()
	cfg.Timeout = 5 * time.Second
	cfg.RetryDelay = time.Millisecond
	cfg.Logger = quietLogger()
	transport, err := remote.NewHTTPTransport(srv.Cluster(), cfg)
	if err != nil {
		t.Fatalf("Failed to create transport: %v", err)
	}
	u, err := remote.NewUpdater(remote.UpdaterConfig{
		Enabled:        true,
		Zone:           "default",
		Transport:      transport,
		AssumeDeployed: assumeDeployed,
		Logger:         quietLogger(),
	})
	if err != nil {
		t.Fatalf("Failed to create updater: %v", err)
	}
	return u
}

func mustTree(t *testing.T, r *remote.UpdateResult) *settings.Node {
	t.Helper()
	if r.Tree == nil {
		t.Fatal("result has no tree")
	}
	node, err := r.Tree.Settings(settings.Root)
	if err != nil {
		t.Fatalf("Failed to decode tree: %v", err)
	}
	return node
}

func TestUpdateFullThenPatch(t *testing.T) {
	srv := remotetest.NewServer("default")
	defer srv.Close()
	u := setupUpdater(t, srv, false)
	ctx := context.Background()

	srv.SetTree(treeV("1"), time.Unix(1000, 0))
	first, err := u.Update(ctx, nil, remote.V2, nil)
	if err != nil {
		t.Fatalf("first Update() failed: %v", err)
	}
	if !first.Changed || !settings.Equal(mustTree(t, first), treeV("1")) {
		t.Fatalf("first Update() = %+v, want changed tree v1", first)
	}

	srv.SetTree(treeV("2"), time.Unix(2000, 0))
	second, err := u.Update(ctx, nil, remote.V2, first)
	if err != nil {
		t.Fatalf("second Update() failed: %v", err)
	}
	if !second.Changed || !settings.Equal(mustTree(t, second), treeV("2")) {
		t.Fatalf("second Update() did not apply the patch")
	}
	if !second.Version.Equal(time.Unix(2000, 0)) {
		t.Errorf("Version = %v, want %v", second.Version, time.Unix(2000, 0))
	}

	reqs := srv.Requests()
	if reqs[1].IfModifiedSince == "" {
		t.Error("second request should be conditional")
	}

	third, err := u.Update(ctx, nil, remote.V2, second)
	if err != nil {
		t.Fatalf("third Update() failed: %v", err)
	}
	if third.Changed || third.Tree != second.Tree {
		t.Error("not-modified response should keep the held tree")
	}
}

func TestUpdatePatchFailures(t *testing.T) {
	tests := []struct {
		name        string
		breakServer func(*remotetest.Server)
		want        remote.PatchFailure
	}{
		{"hash mismatch", func(s *remotetest.Server) { s.SendWrongHash(true) }, remote.PatchHashMismatch},
		{"corrupt patch", func(s *remotetest.Server) { s.CorruptPatches(true) }, remote.PatchApplyFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := remotetest.NewServer("default")
			defer srv.Close()
			u := setupUpdater(t, srv, false)
			ctx := context.Background()

			srv.SetTree(treeV("1"), time.Unix(1000, 0))
			first, err := u.Update(ctx, nil, remote.V2, nil)
			if err != nil {
				t.Fatalf("Update() failed: %v", err)
			}

			tt.breakServer(srv)
			srv.SetTree(treeV("2"), time.Unix(2000, 0))
			failed, err := u.Update(ctx, nil, remote.V2, first)
			if err != nil {
				t.Fatalf("Update() with bad patch failed: %v", err)
			}
			if failed.Changed || failed.PatchFailure != tt.want {
				t.Fatalf("Update() = changed %v, failure %q; want unchanged, %q", failed.Changed, failed.PatchFailure, tt.want)
			}
			if failed.Tree != first.Tree {
				t.Error("failed patch should keep the previous tree")
			}

			recovered, err := u.Update(ctx, nil, remote.V2, failed)
			if err != nil {
				t.Fatalf("recovery Update() failed: %v", err)
			}
			if !recovered.Changed || !settings.Equal(mustTree(t, recovered), treeV("2")) {
				t.Error("recovery should fetch the full zone")
			}
			reqs := srv.Requests()
			if got := reqs[len(reqs)-1].ForceFull; got != string(tt.want) {
				t.Errorf("forceFull = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUpdateMissingZone(t *testing.T) {
	srv := remotetest.NewServer("default")
	defer srv.Close()
	u := setupUpdater(t, srv, false)
	ctx := context.Background()

	first, err := u.Update(ctx, nil, remote.V2, nil)
	if err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	if !first.Changed || first.Tree != nil {
		t.Errorf("missing zone should give a changed empty result, got %+v", first)
	}
	second, err := u.Update(ctx, nil, remote.V2, first)
	if err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	if second.Changed {
		t.Error("repeated missing zone should not count as a change")
	}

	srv.SetTree(treeV("1"), time.Unix(1000, 0))
	third, err := u.Update(ctx, nil, remote.V2, second)
	if err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	if !third.Changed || third.Tree == nil {
		t.Error("zone appearing should be a change")
	}

	srv.DeleteZone()
	fourth, err := u.Update(ctx, nil, remote.V2, third)
	if err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	if !fourth.Changed || fourth.Tree != nil {
		t.Error("zone disappearing should be a change to an empty result")
	}
}

func TestUpdateDisabled(t *testing.T) {
	u, err := remote.NewUpdater(remote.UpdaterConfig{Enabled: false, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("NewUpdater() failed: %v", err)
	}
	first, err := u.Update(context.Background(), nil, remote.V2, nil)
	if err != nil || !first.Changed || !first.IsEmpty() {
		t.Fatalf("first disabled Update() = %+v, %v; want changed empty", first, err)
	}
	second, _ := u.Update(context.Background(), nil, remote.V2, first)
	if second.Changed {
		t.Error("second disabled Update() should be unchanged")
	}
}

func TestUpdateReplicasNotFound(t *testing.T) {
	transport, err := remote.NewHTTPTransport(remote.StaticCluster{}, nil)
	if err != nil {
		t.Fatalf("NewHTTPTransport() failed: %v", err)
	}

	relaxed, _ := remote.NewUpdater(remote.UpdaterConfig{Enabled: true, Zone: "z", Transport: transport, Logger: quietLogger()})
	res, err := relaxed.Update(context.Background(), nil, remote.V2, nil)
	if err != nil || !res.IsEmpty() {
		t.Errorf("Update() = %+v, %v; want empty result", res, err)
	}

	strict, _ := remote.NewUpdater(remote.UpdaterConfig{Enabled: true, Zone: "z", Transport: transport, AssumeDeployed: true, Logger: quietLogger()})
	_, err = strict.Update(context.Background(), nil, remote.V2, nil)
	var updateErr *remote.UpdateError
	if !errors.As(err, &updateErr) || !errors.Is(err, remote.ErrNoAcceptableResponse) {
		t.Errorf("Update() error = %v, want UpdateError wrapping ErrNoAcceptableResponse", err)
	}
}

func TestUpdateSubtrees(t *testing.T) {
	for _, protocol := range []remote.ProtocolVersion{remote.V3, remote.V3_1} {
		t.Run(protocol.String(), func(t *testing.T) {
			srv := remotetest.NewServer("default")
			defer srv.Close()
			srv.CompressSubtrees(true)
			u := setupUpdater(t, srv, false)
			ctx := context.Background()

			srv.SetTree(treeV("1"), time.Unix(1000, 0))
			paths := []remote.SubtreeRequest{
				{Path: settings.ParsePath("app")},
				{Path: settings.ParsePath("missing")},
			}
			first, err := u.Update(ctx, paths, protocol, nil)
			if err != nil {
				t.Fatalf("Update() failed: %v", err)
			}
			if !first.Changed || first.Subtrees == nil {
				t.Fatalf("Update() = %+v, want changed subtrees", first)
			}
			if st, _ := first.Subtrees.Lookup(settings.ParsePath("app")); st != state.SubtreePresent {
				t.Errorf("app state = %v, want present", st)
			}
			if st, _ := first.Subtrees.Lookup(settings.ParsePath("missing")); st != state.SubtreeAbsent {
				t.Errorf("missing state = %v, want absent", st)
			}
			got, err := first.Subtrees.Settings(settings.ParsePath("app/version"))
			if err != nil || got.Value() != "1" {
				t.Errorf("app/version = %v, %v; want 1", got, err)
			}

			versioned := []remote.SubtreeRequest{
				{Path: settings.ParsePath("app"), LastVersion: first.Version},
				{Path: settings.ParsePath("missing"), LastVersion: first.Version},
			}
			second, err := u.Update(ctx, versioned, protocol, first)
			if err != nil {
				t.Fatalf("second Update() failed: %v", err)
			}
			if second.Changed {
				t.Error("unmodified subtrees should not be a change")
			}
			if st, _ := second.Subtrees.Lookup(settings.ParsePath("app")); st != state.SubtreePresent {
				t.Errorf("unmodified app should carry over, state = %v", st)
			}
		})
	}
}

func TestUpdateProtocolSwitchForcesFull(t *testing.T) {
	srv := remotetest.NewServer("default")
	defer srv.Close()
	srv.RecommendProtocol(remote.V3)
	u := setupUpdater(t, srv, false)
	ctx := context.Background()

	srv.SetTree(treeV("1"), time.Unix(1000, 0))
	first, err := u.Update(ctx, nil, remote.V2, nil)
	if err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	if first.RecommendedProtocol != remote.V3 {
		t.Fatalf("RecommendedProtocol = %v, want V3", first.RecommendedProtocol)
	}

	paths := []remote.SubtreeRequest{{Path: settings.Root}}
	second, err := u.Update(ctx, paths, remote.V3, first)
	if err != nil {
		t.Fatalf("Update() after switch failed: %v", err)
	}
	if !second.Changed || second.Protocol != remote.V3 {
		t.Errorf("Update() after switch = %+v, want changed V3 result", second)
	}
	reqs := srv.Requests()
	if got := reqs[len(reqs)-1].ForceFull; got != remote.ForceFullProtocolChanged {
		t.Errorf("forceFull = %q, want %q", got, remote.ForceFullProtocolChanged)
	}
}

// fakeTransport replays canned results.
type fakeTransport struct {
	results []*remote.Result
}

func (f *fakeTransport) Send(ctx context.Context, req *remote.Request) (*remote.Result, error) {
	r := f.results[0]
	f.results = f.results[1:]
	return r, nil
}

func response(code int, header http.Header, body []byte) *remote.Result {
	if header == nil {
		header = http.Header{}
	}
	return &remote.Result{
		Status:   remote.StatusSuccess,
		Replica:  "fake",
		Response: &remote.Response{StatusCode: code, Header: header, Body: body},
	}
}

func TestUpdateProtocolErrors(t *testing.T) {
	dated := http.Header{}
	dated.Set("Last-Modified", time.Unix(1000, 0).UTC().Format(http.TimeFormat))

	tests := []struct {
		name   string
		result *remote.Result
		want   error
	}{
		{"not modified without previous", response(http.StatusNotModified, nil, nil), remote.ErrUnexpectedNotModified},
		{"missing version", response(http.StatusOK, nil, []byte{3, 0}), remote.ErrMissingVersion},
		{"patch without base", response(http.StatusPartialContent, dated, []byte{0}), remote.ErrUnexpectedPatch},
		{"unexpected status", response(http.StatusTeapot, nil, nil), remote.ErrUnexpectedStatus},
		{"empty body", response(http.StatusOK, dated, nil), remote.ErrMalformedResponse},
		{"exhausted", &remote.Result{Status: remote.StatusReplicasExhausted}, remote.ErrNoAcceptableResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, _ := remote.NewUpdater(remote.UpdaterConfig{
				Enabled:   true,
				Zone:      "z",
				Transport: &fakeTransport{results: []*remote.Result{tt.result}},
				Logger:    quietLogger(),
			})
			_, err := u.Update(context.Background(), nil, remote.V2, nil)
			if !errors.Is(err, tt.want) {
				t.Errorf("Update() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestUpdateIgnoresStaleResponse(t *testing.T) {
	newer := http.Header{}
	newer.Set("Last-Modified", time.Unix(2000, 0).UTC().Format(http.TimeFormat))
	older := http.Header{}
	older.Set("Last-Modified", time.Unix(1000, 0).UTC().Format(http.TimeFormat))

	body := []byte{3, 1, 'x'}
	u, _ := remote.NewUpdater(remote.UpdaterConfig{
		Enabled: true,
		Zone:    "z",
		Transport: &fakeTransport{results: []*remote.Result{
			response(http.StatusOK, newer, body),
			response(http.StatusOK, older, []byte{3, 1, 'y'}),
		}},
		Logger: quietLogger(),
	})

	first, err := u.Update(context.Background(), nil, remote.V2, nil)
	if err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	second, err := u.Update(context.Background(), nil, remote.V2, first)
	if err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	if second.Changed || second.Tree != first.Tree || !second.Version.Equal(first.Version) {
		t.Error("older response should be ignored")
	}
}

func TestUpdateZoneNotFoundAmongReplicas(t *testing.T) {
	notFound := &remote.Result{
		Status: remote.StatusReplicasExhausted,
		Replicas: []remote.ReplicaResult{
			{Replica: "a", Response: &remote.Response{StatusCode: http.StatusServiceUnavailable}},
			{Replica: "b", Response: &remote.Response{StatusCode: http.StatusNotFound}},
		},
	}
	u, _ := remote.NewUpdater(remote.UpdaterConfig{
		Enabled:   true,
		Zone:      "z",
		Transport: &fakeTransport{results: []*remote.Result{notFound}},
		Logger:    quietLogger(),
	})
	res, err := u.Update(context.Background(), nil, remote.V2, nil)
	if err != nil || !res.IsEmpty() || !res.Changed {
		t.Errorf("Update() = %+v, %v; want changed empty result", res, err)
	}
}

func TestParseProtocolVersion(t *testing.T) {
	tests := []struct {
		in      string
		want    remote.ProtocolVersion
		wantErr bool
	}{
		{"V1", remote.V1, false},
		{"v2", remote.V2, false},
		{"3", remote.V3, false},
		{"V3_1", remote.V3_1, false},
		{"3.1", remote.V3_1, false},
		{"V9", 0, true},
	}
	for _, tt := range tests {
		got, err := remote.ParseProtocolVersion(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseProtocolVersion(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseProtocolVersion(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
