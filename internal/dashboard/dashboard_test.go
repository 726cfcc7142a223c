package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"

	"github.com/steveyegge/clusterconfig"
	"github.com/steveyegge/clusterconfig/internal/remote"
	"github.com/steveyegge/clusterconfig/internal/remotetest"
	"github.com/steveyegge/clusterconfig/settings"
)

type fakeValue struct {
	node    *settings.Node
	version int64
	err     error
}

type fakeWatcher struct {
	values chan fakeValue
	closed chan struct{}
	once   sync.Once
}

func (w *fakeWatcher) Next(ctx context.Context) (*settings.Node, int64, error) {
	select {
	case v := <-w.values:
		return v.node, v.version, v.err
	case <-w.closed:
		return nil, 0, errors.New("closed")
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	}
}

func (w *fakeWatcher) Close() {
	w.once.Do(func() { close(w.closed) })
}

type fakeSource struct {
	zone string

	mu      sync.Mutex
	paths   []string
	watcher *fakeWatcher
}

func newFakeSource() *fakeSource {
	return &fakeSource{zone: "test-zone", watcher: &fakeWatcher{
		values: make(chan fakeValue, 10),
		closed: make(chan struct{}),
	}}
}

func (s *fakeSource) Watch(path string) Watcher {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paths = append(s.paths, path)
	return s.watcher
}

func (s *fakeSource) Zone() string         { return s.zone }
func (s *fakeSource) Version() int64       { return 42 }
func (s *fakeSource) HasInitialized() bool { return true }

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func startServer(t *testing.T, src Source) *Server {
	t.Helper()
	server, err := NewServer(src, &Config{Addr: "127.0.0.1:0", Logger: quietLogger()})
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop() })
	return server
}

func readMessage(t *testing.T, ctx context.Context, conn *websocket.Conn) Message {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	return msg
}

func TestNewServerRequiresSource(t *testing.T) {
	if _, err := NewServer(nil, nil); err == nil {
		t.Fatal("Expected error for nil source")
	}
}

func TestServerStartStop(t *testing.T) {
	server, err := NewServer(newFakeSource(), &Config{Addr: "127.0.0.1:0", Logger: quietLogger()})
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	if server.Addr() == "127.0.0.1:0" {
		t.Fatal("Expected a resolved listening address")
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestWebSocketStreamsSettings(t *testing.T) {
	src := newFakeSource()
	server := startServer(t, src)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.Addr()+"/ws?path=app/db", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	src.watcher.values <- fakeValue{
		node:    settings.NewObject("db", settings.NewValue("host", "primary")),
		version: 7,
	}

	msg := readMessage(t, ctx, conn)
	if msg.Type != MessageTypeSettings {
		t.Fatalf("Expected settings message, got %s", msg.Type)
	}
	var data SettingsData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatalf("Failed to unmarshal settings data: %v", err)
	}
	if data.Path != "app/db" || data.Version != 7 {
		t.Errorf("Unexpected settings data: %+v", data)
	}
	var got map[string]any
	if err := json.Unmarshal(data.Settings, &got); err != nil {
		t.Fatalf("Failed to unmarshal settings: %v", err)
	}
	if diff := cmp.Diff(map[string]any{"host": "primary"}, got); diff != "" {
		t.Errorf("Settings mismatch (-want +got):\n%s", diff)
	}

	if count := server.ClientCount(); count != 1 {
		t.Errorf("Expected 1 client, got %d", count)
	}

	src.mu.Lock()
	paths := append([]string(nil), src.paths...)
	src.mu.Unlock()
	if diff := cmp.Diff([]string{"app/db"}, paths); diff != "" {
		t.Errorf("Watched paths mismatch (-want +got):\n%s", diff)
	}
}

func TestWebSocketReportsWatchError(t *testing.T) {
	src := newFakeSource()
	server := startServer(t, src)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	src.watcher.values <- fakeValue{err: errors.New("client disposed")}

	msg := readMessage(t, ctx, conn)
	if msg.Type != MessageTypeError {
		t.Fatalf("Expected error message, got %s", msg.Type)
	}
	var data ErrorData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatalf("Failed to unmarshal error data: %v", err)
	}
	if data.Error != "client disposed" {
		t.Errorf("Expected 'client disposed', got %q", data.Error)
	}

	deadline := time.Now().Add(2 * time.Second)
	for server.ClientCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if count := server.ClientCount(); count != 0 {
		t.Errorf("Expected 0 clients after error, got %d", count)
	}
}

func TestRemoteUpdateBroadcast(t *testing.T) {
	server := startServer(t, newFakeSource())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Registration happens after the upgrade completes.
	deadline := time.Now().Add(2 * time.Second)
	for server.ClientCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	version := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	server.OnRemoteUpdate(remote.UpdateEvent{
		Zone:       "test-zone",
		Replica:    "replica-1",
		Protocol:   remote.V3,
		Version:    version,
		Patch:      true,
		Subtrees:   2,
		Size:       128,
		ReceivedAt: version.Add(time.Second),
	})

	msg := readMessage(t, ctx, conn)
	if msg.Type != MessageTypeRemoteUpdate {
		t.Fatalf("Expected remote update message, got %s", msg.Type)
	}
	var data RemoteUpdateData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatalf("Failed to unmarshal remote update: %v", err)
	}
	want := RemoteUpdateData{
		Zone:     "test-zone",
		Replica:  "replica-1",
		Protocol: remote.V3.String(),
		Version:  version,
		Patch:    true,
		Subtrees: 2,
		Size:     128,
	}
	if diff := cmp.Diff(want, data); diff != "" {
		t.Errorf("Remote update mismatch (-want +got):\n%s", diff)
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := startServer(t, newFakeSource())

	resp, err := http.Get("http://" + server.Addr() + "/health")
	if err != nil {
		t.Fatalf("Failed to get health: %v", err)
	}
	defer resp.Body.Close()

	var health map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("Failed to decode health response: %v", err)
	}
	if health["status"] != "ok" {
		t.Errorf("Expected status 'ok', got %v", health["status"])
	}
	if health["zone"] != "test-zone" {
		t.Errorf("Expected zone 'test-zone', got %v", health["zone"])
	}
	if health["version"] != float64(42) {
		t.Errorf("Expected version 42, got %v", health["version"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	server := startServer(t, newFakeSource())

	resp, err := http.Get("http://" + server.Addr() + "/metrics")
	if err != nil {
		t.Fatalf("Failed to get metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
}

func TestFromClientStreamsZone(t *testing.T) {
	srv := remotetest.NewServer("default")
	defer srv.Close()
	srv.SetTree(settings.NewObject("",
		settings.NewObject("app", settings.NewValue("mode", "blue")),
	), time.Unix(1000, 0))

	s := clusterconfig.DefaultSettings()
	s.LocalFolder = t.TempDir()
	s.EnableLocalSettings = false
	s.Cluster = srv.Cluster()
	s.UpdatePeriod = 50 * time.Millisecond
	s.Logger = quietLogger()
	client, err := clusterconfig.NewWithSettings(s)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	defer client.Dispose()

	server := startServer(t, FromClient(client))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.Addr()+"/ws?path=app", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	msg := readMessage(t, ctx, conn)
	if msg.Type != MessageTypeSettings {
		t.Fatalf("Expected settings message, got %s", msg.Type)
	}
	var data SettingsData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatalf("Failed to unmarshal settings data: %v", err)
	}
	if data.Version != time.Unix(1000, 0).UnixNano() {
		t.Errorf("Expected version of the zone, got %d", data.Version)
	}
	var got map[string]any
	if err := json.Unmarshal(data.Settings, &got); err != nil {
		t.Fatalf("Failed to unmarshal settings: %v", err)
	}
	if diff := cmp.Diff(map[string]any{"mode": "blue"}, got); diff != "" {
		t.Errorf("Settings mismatch (-want +got):\n%s", diff)
	}

	srv.SetTree(settings.NewObject("",
		settings.NewObject("app", settings.NewValue("mode", "green")),
	), time.Unix(2000, 0))

	msg = readMessage(t, ctx, conn)
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatalf("Failed to unmarshal settings data: %v", err)
	}
	if err := json.Unmarshal(data.Settings, &got); err != nil {
		t.Fatalf("Failed to unmarshal settings: %v", err)
	}
	if got["mode"] != "green" {
		t.Errorf("Expected mode green after update, got %v", got["mode"])
	}
}

func TestRootPageEscapesZone(t *testing.T) {
	src := newFakeSource()
	src.zone = `<script>alert("x")</script>`
	server := startServer(t, src)

	resp, err := http.Get("http://" + server.Addr() + "/")
	if err != nil {
		t.Fatalf("Failed to get root page: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read root page: %v", err)
	}

	page := string(body)
	if strings.Contains(page, "<script>") {
		t.Errorf("Zone name was written unescaped:\n%s", page)
	}
	if !strings.Contains(page, "&lt;script&gt;") {
		t.Errorf("Expected the escaped zone name in the page:\n%s", page)
	}
}
