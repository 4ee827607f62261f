package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/lightlink-core/internal/auth"
	"github.com/nerrad567/lightlink-core/internal/infrastructure/config"
	"github.com/nerrad567/lightlink-core/internal/infrastructure/database"
	"github.com/nerrad567/lightlink-core/internal/infrastructure/logging"
	"github.com/nerrad567/lightlink-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/lightlink-core/internal/journal"
	"github.com/nerrad567/lightlink-core/internal/lighting"
	"github.com/nerrad567/lightlink-core/migrations"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

// fakeConn stands in for the MQTT client.
type fakeConn struct {
	mu     sync.Mutex
	state  mqtt.ConnectionState
	forced int
}

func (f *fakeConn) State() mqtt.ConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeConn) Stats() mqtt.Stats {
	return mqtt.Stats{
		State:         f.State(),
		Connects:      3,
		TotalAttempts: 5,
		MessagesIn:    42,
		Subscriptions: 6,
		LastAttempt:   time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
	}
}

func (f *fakeConn) ClientID() string { return "lightlink-test" }

func (f *fakeConn) ForceReconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forced++
	f.state = mqtt.StateReconnecting
}

func (f *fakeConn) HealthCheck(context.Context) error {
	if f.State() != mqtt.StateConnected {
		return errors.New("not connected")
	}
	return nil
}

// fakeLights records level commands.
type fakeLights struct {
	mu     sync.Mutex
	levels map[lighting.Channel]int
	fail   error
}

func (f *fakeLights) Snapshot() lighting.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	levels := make(map[lighting.Channel]int, len(f.levels))
	for k, v := range f.levels {
		levels[k] = v
	}
	return lighting.Snapshot{Connected: true, Mode: lighting.ModeManual, Levels: levels}
}

func (f *fakeLights) SetLevel(ch lighting.Channel, level int) error {
	if err := lighting.ValidateLevel(level); err != nil {
		return err
	}
	if f.fail != nil {
		return f.fail
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.levels[ch] = level
	return nil
}

type testEnv struct {
	srv     *Server
	conn    *fakeConn
	lights  *fakeLights
	journal *journal.Journal
	handler http.Handler
}

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stderr"}, "test")
}

// newTestEnv creates a Server over fakes and a real in-memory journal.
func newTestEnv(t *testing.T, secret string) *testEnv {
	t.Helper()

	db, err := database.Open(database.Config{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("database.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	env := &testEnv{
		conn:    &fakeConn{state: mqtt.StateConnected},
		lights:  &fakeLights{levels: make(map[lighting.Channel]int)},
		journal: journal.New(db.DB, 100),
	}

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
			Auth:     config.APIAuthConfig{TokenSecret: secret},
		},
		Logger:  testLogger(),
		MQTT:    env.conn,
		Lights:  env.lights,
		Journal: env.journal,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, "# metrics\n")
		}),
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	env.srv = srv
	env.handler = srv.Handler()
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{MQTT: &fakeConn{}}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: testLogger()}); err == nil {
		t.Error("New() without mqtt should fail")
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(t, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decode[map[string]string](t, rec)
	if body["status"] != "ok" || body["mqtt"] != "connected" || body["version"] != "test" {
		t.Errorf("body = %v", body)
	}

	env.conn.state = mqtt.StateReconnecting
	body = decode[map[string]string](t, env.do(t, http.MethodGet, "/api/v1/health", ""))
	if body["mqtt"] != mqtt.StateReconnecting.String() {
		t.Errorf("mqtt = %q, want %q", body["mqtt"], mqtt.StateReconnecting.String())
	}
}

func TestRequestIDHeader(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(t, http.MethodGet, "/api/v1/health", "")
	if len(rec.Header().Get("X-Request-ID")) != 36 {
		t.Errorf("generated request id = %q", rec.Header().Get("X-Request-ID"))
	}

	rec = env.do(t, http.MethodGet, "/api/v1/health", "", "X-Request-ID", "abc-123")
	if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("request id = %q, want abc-123", got)
	}
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t, "")
	if _, err := env.journal.Append(context.Background(), journal.Entry{Kind: journal.KindConnected}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	rec := env.do(t, http.MethodGet, "/api/v1/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decode[StatusResponse](t, rec)

	if resp.Connection.ClientID != "lightlink-test" {
		t.Errorf("client id = %q", resp.Connection.ClientID)
	}
	if resp.Connection.State != mqtt.StateConnected.String() {
		t.Errorf("state = %q", resp.Connection.State)
	}
	if resp.Connection.Connects != 3 || resp.Connection.MessagesIn != 42 || resp.Connection.Subscriptions != 6 {
		t.Errorf("connection = %+v", resp.Connection)
	}
	if resp.Connection.LastAttempt != "2026-03-01T08:00:00Z" {
		t.Errorf("last attempt = %q", resp.Connection.LastAttempt)
	}
	if resp.Connection.LastResponse != "" {
		t.Errorf("zero last response should be omitted, got %q", resp.Connection.LastResponse)
	}
	if resp.Lighting == nil || resp.Lighting.Mode != lighting.ModeManual {
		t.Errorf("lighting = %+v", resp.Lighting)
	}
	if resp.JournalSize == nil || *resp.JournalSize != 1 {
		t.Errorf("journal entries = %v, want 1", resp.JournalSize)
	}
}

func TestSetLight(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(t, http.MethodPost, "/api/v1/lights/warm", `{"level":60}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}
	if got := env.lights.levels[lighting.ChannelWarm]; got != 60 {
		t.Errorf("warm level = %d, want 60", got)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/lights", "")
	snap := decode[lighting.Snapshot](t, rec)
	if snap.Levels[lighting.ChannelWarm] != 60 {
		t.Errorf("snapshot levels = %v", snap.Levels)
	}
}

func TestSetLight_Errors(t *testing.T) {
	env := newTestEnv(t, "")

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"unknown channel", "/api/v1/lights/green", `{"level":10}`, http.StatusNotFound},
		{"bad json", "/api/v1/lights/cold", `{level`, http.StatusBadRequest},
		{"missing level", "/api/v1/lights/cold", `{}`, http.StatusUnprocessableEntity},
		{"out of range", "/api/v1/lights/cold", `{"level":150}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, tt.path, tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}

	env.lights.fail = mqtt.ErrNotConnected
	rec := env.do(t, http.MethodPost, "/api/v1/lights/red", `{"level":10}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if e := decode[Error](t, rec); e.Code != ErrCodeUnavailable {
		t.Errorf("code = %q", e.Code)
	}
}

func TestJournalRoutes(t *testing.T) {
	env := newTestEnv(t, "")
	ctx := context.Background()
	for i := range 5 {
		if _, err := env.journal.Append(ctx, journal.Entry{Kind: journal.KindMessage, Topic: "alarm", Detail: fmt.Sprint(i)}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	rec := env.do(t, http.MethodGet, "/api/v1/journal?limit=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode[struct {
		Entries []journal.Entry `json:"entries"`
		Count   int             `json:"count"`
	}](t, rec)
	if body.Count != 2 || body.Entries[0].Detail != "4" {
		t.Errorf("body = %+v", body)
	}

	if rec := env.do(t, http.MethodGet, "/api/v1/journal?limit=zero", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", rec.Code)
	}

	if rec := env.do(t, http.MethodDelete, "/api/v1/journal", `{"confirm":"yes"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("unconfirmed clear status = %d, want 400", rec.Code)
	}
	if rec := env.do(t, http.MethodDelete, "/api/v1/journal", `{"confirm":"CLEAR JOURNAL"}`); rec.Code != http.StatusOK {
		t.Fatalf("clear status = %d, want 200", rec.Code)
	}
	n, err := env.journal.Count(ctx)
	if err != nil || n != 0 {
		t.Errorf("Count() = %d, %v; want 0", n, err)
	}
}

func TestOptionalDepsUnavailable(t *testing.T) {
	srv, err := New(Deps{Logger: testLogger(), MQTT: &fakeConn{}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h := srv.Handler()
	for _, path := range []string{"/api/v1/lights", "/api/v1/journal"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("GET %s = %d, want 503", path, rec.Code)
		}
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET /metrics without registry = %d, want 404", rec.Code)
	}
}

func TestReconnect(t *testing.T) {
	env := newTestEnv(t, "")
	rec := env.do(t, http.MethodPost, "/api/v1/reconnect", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if env.conn.forced != 1 {
		t.Errorf("ForceReconnect calls = %d, want 1", env.conn.forced)
	}
}

func TestMetricsRoute(t *testing.T) {
	env := newTestEnv(t, "")
	rec := env.do(t, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "# metrics") {
		t.Errorf("GET /metrics = %d %q", rec.Code, rec.Body.String())
	}
}

func TestAuthMiddleware(t *testing.T) {
	env := newTestEnv(t, testSecret)

	good, err := auth.GenerateAPIToken("operator", testSecret, time.Minute)
	if err != nil {
		t.Fatalf("GenerateAPIToken: %v", err)
	}
	broker, err := auth.GenerateBrokerToken("lightlink-test", testSecret, time.Minute)
	if err != nil {
		t.Fatalf("GenerateBrokerToken: %v", err)
	}

	tests := []struct {
		name   string
		header []string
		path   string
		want   int
	}{
		{"health is open", nil, "/api/v1/health", http.StatusOK},
		{"no token", nil, "/api/v1/status", http.StatusUnauthorized},
		{"garbage", []string{"Authorization", "Bearer nope"}, "/api/v1/status", http.StatusUnauthorized},
		{"wrong scheme", []string{"Authorization", "Basic " + good}, "/api/v1/status", http.StatusUnauthorized},
		{"broker scope", []string{"Authorization", "Bearer " + broker}, "/api/v1/status", http.StatusUnauthorized},
		{"valid", []string{"Authorization", "Bearer " + good}, "/api/v1/status", http.StatusOK},
		{"query token", nil, "/api/v1/status?token=" + good, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, tt.path, "", tt.header...)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	env := newTestEnv(t, "")
	h := env.srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestStartAndClose(t *testing.T) {
	env := newTestEnv(t, "")
	if err := env.srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck before Start should fail")
	}
	if err := env.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := env.srv.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}
	if err := env.srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck: %v", err)
	}

	resp, err := http.Get("http://" + env.srv.Addr() + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	if err := env.srv.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := env.srv.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestEventsStream(t *testing.T) {
	env := newTestEnv(t, "")
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/events?channels=message"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	hub := env.srv.Hub()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("stream never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Not following connection events.
	hub.OnConnected()
	hub.OnMessageReceived("sensor/data", []byte(`{"temperature":21}`))

	//nolint:errcheck // Test deadline
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Kind    string       `json:"kind"`
		Channel string       `json:"channel"`
		Data    MessageEvent `json:"data"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if msg.Kind != FrameEvent || msg.Channel != ChannelMessage {
		t.Errorf("frame = %+v", msg)
	}
	if msg.Data.Topic != "sensor/data" || msg.Data.Payload != `{"temperature":21}` {
		t.Errorf("data = %+v", msg.Data)
	}

	if err := conn.WriteJSON(Frame{Kind: FramePing, ID: "p1"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	var pong Frame
	if err := conn.ReadJSON(&pong); err != nil {
		t.Fatalf("ReadJSON pong: %v", err)
	}
	if pong.Kind != FramePong || pong.ID != "p1" {
		t.Errorf("pong = %+v", pong)
	}

	if err := conn.WriteJSON(Frame{Kind: FrameFollow, ID: "f1", Channels: []string{ChannelConnection}}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	var ack Frame
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("ReadJSON ack: %v", err)
	}
	if ack.Kind != FrameAck || len(ack.Channels) != 2 {
		t.Errorf("ack = %+v", ack)
	}

	if err := conn.WriteJSON(Frame{Kind: FrameIgnore, ID: "i1", Channels: []string{"lights"}}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	var rejected Frame
	if err := conn.ReadJSON(&rejected); err != nil {
		t.Fatalf("ReadJSON error: %v", err)
	}
	if rejected.Kind != FrameError || rejected.ID != "i1" {
		t.Errorf("error frame = %+v", rejected)
	}
}

func TestEventsStream_UnknownChannel(t *testing.T) {
	env := newTestEnv(t, "")
	rec := env.do(t, http.MethodGet, "/api/v1/events?channels=message,lights", "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}
}

func TestHub_BinaryPayload(t *testing.T) {
	hub := NewHub(testLogger())
	st := newStream(nil, maskMessage)
	hub.add(st)

	hub.OnConnected()
	hub.OnMessageReceived("raw", []byte{0xff, 0xfe})

	var msg struct {
		Channel string       `json:"channel"`
		Data    MessageEvent `json:"data"`
	}
	if err := json.Unmarshal(<-st.queue, &msg); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if msg.Channel != ChannelMessage || msg.Data.Payload != "" || len(msg.Data.Binary) != 2 {
		t.Errorf("frame = %+v", msg)
	}

	hub.remove(st)
	if hub.ClientCount() != 0 {
		t.Error("stream still registered")
	}
	if st.offer([]byte("late")) {
		t.Error("closed stream accepted a frame")
	}
}

func TestParseChannels(t *testing.T) {
	mask, unknown := parseChannels([]string{" connection", "", "message", "lights"})
	if mask != maskAll {
		t.Errorf("mask = %b, want %b", mask, maskAll)
	}
	if len(unknown) != 1 || unknown[0] != "lights" {
		t.Errorf("unknown = %v", unknown)
	}
	if got := followed(maskConnection); len(got) != 1 || got[0] != ChannelConnection {
		t.Errorf("followed = %v", got)
	}
}
