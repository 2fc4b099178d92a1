package application

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/example/session-timer/internal/cache"
	"github.com/example/session-timer/internal/persistence"
	"github.com/example/session-timer/internal/persistence/memory"
	"github.com/example/session-timer/internal/testfixtures"
)

type harness struct {
	clock   *testfixtures.Clock
	store   *memory.Store
	gateway *testfixtures.FlakyGateway
	cache   *cache.Memory
	metrics *recorderStub
	manager *CollectionManager
}

type harnessOption func(*CollectionOptions)

func withThreshold(d time.Duration) harnessOption {
	return func(o *CollectionOptions) { o.WarningThreshold = d }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	h := &harness{
		clock:   testfixtures.NewClock(time.Time{}),
		cache:   cache.NewMemory(),
		metrics: newRecorderStub(),
	}
	h.store = memory.New(
		memory.WithClock(h.clock.NowFunc()),
		memory.WithIDGenerator(testfixtures.NewIDGenerator("customer").NextFunc()),
	)
	h.gateway = testfixtures.NewFlakyGateway(h.store)

	options := CollectionOptions{
		Cache:   h.cache,
		Metrics: h.metrics,
		Now:     h.clock.NowFunc(),
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&options)
	}
	h.manager = NewCollectionManager(h.gateway, options)
	return h
}

type recorderStub struct {
	mu         sync.Mutex
	mutations  map[string]int
	extensions map[bool]int
	scans      int
	reloads    map[string]int
	gauges     map[string]int
}

func newRecorderStub() *recorderStub {
	return &recorderStub{
		mutations:  make(map[string]int),
		extensions: make(map[bool]int),
		reloads:    make(map[string]int),
		gauges:     make(map[string]int),
	}
}

func (r *recorderStub) ObserveMutation(event, outcome string) {
	r.mu.Lock()
	r.mutations[event+"/"+outcome]++
	r.mu.Unlock()
}

func (r *recorderStub) ObserveScan(expired, flagged int) {
	r.mu.Lock()
	r.scans++
	r.mu.Unlock()
}

func (r *recorderStub) ObserveExtension(granted bool) {
	r.mu.Lock()
	r.extensions[granted]++
	r.mu.Unlock()
}

func (r *recorderStub) ObserveReload(source string, ok bool) {
	r.mu.Lock()
	if ok {
		r.reloads[source+"/ok"]++
	} else {
		r.reloads[source+"/failed"]++
	}
	r.mu.Unlock()
}

func (r *recorderStub) SetSessions(status string, n int) {
	r.mu.Lock()
	r.gauges[status] = n
	r.mu.Unlock()
}

func (r *recorderStub) mutation(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mutations[key]
}

func (r *recorderStub) gauge(status string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gauges[status]
}

func testDraft(name string) persistence.Draft {
	return persistence.Draft{Name: name, Duration: 30}
}
