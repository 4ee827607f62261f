package lighting

import (
	"errors"
	"sync"
	"time"

	testingclock "k8s.io/utils/clock/testing"
)

var errOffline = errors.New("not connected")

type published struct {
	topic    string
	payload  string
	qos      byte
	retained bool
}

// fakeClient records publishes and subscriptions.
type fakeClient struct {
	mu        sync.Mutex
	connected bool
	fail      error
	pubs      []published
	subs      map[string]byte
}

func newFakeClient() *fakeClient {
	return &fakeClient{connected: true, subs: make(map[string]byte)}
}

func (f *fakeClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.pubs = append(f.pubs, published{topic, string(payload), qos, retained})
	return nil
}

func (f *fakeClient) Subscribe(topic string, qos byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.subs[topic] = qos
	return nil
}

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) ClientID() string { return "lightlink-test" }

func (f *fakeClient) setConnected(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = v
}

func (f *fakeClient) published() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.pubs...)
}

type fakeRecorder struct {
	mu   sync.Mutex
	pubs []string
	subs []string
}

func (r *fakeRecorder) Published(topic string, _ []byte, _ byte, _ bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pubs = append(r.pubs, topic)
}

func (r *fakeRecorder) Subscribed(topic string, _ byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, topic)
}

var epoch = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func newFakeClock() *testingclock.FakeClock {
	return testingclock.NewFakeClock(epoch)
}
