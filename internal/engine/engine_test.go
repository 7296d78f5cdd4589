package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"vlwatch/internal/config"
	"vlwatch/internal/metrics"
	"vlwatch/internal/model"
	"vlwatch/internal/seenset"
	"vlwatch/internal/storage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type recordingNotifier struct {
	mu      sync.Mutex
	batches [][]model.Record
	err     error
}

func (n *recordingNotifier) Deliver(_ context.Context, _ model.Kind, records []model.Record, _ config.NotificationConfig) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.batches = append(n.batches, records)
	return n.err
}

func (n *recordingNotifier) keys() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, b := range n.batches {
		for _, r := range b {
			out = append(out, r.Key())
		}
	}
	return out
}

// failingKV wraps a store and fails Set or Get on demand.
type failingKV struct {
	storage.Store
	failGet bool
	failSet bool
}

func (f *failingKV) Get(ctx context.Context, keys ...string) (map[string][]byte, error) {
	if f.failGet {
		return nil, errors.New("backend down")
	}
	return f.Store.Get(ctx, keys...)
}

func (f *failingKV) Set(ctx context.Context, values map[string][]byte) error {
	if f.failSet {
		return errors.New("backend down")
	}
	return f.Store.Set(ctx, values)
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	cfg.Notifications.Delay = 0
	return cfg
}

func newEngineForTest(kv storage.Store) (*Engine, *recordingNotifier, *fakeClock) {
	if kv == nil {
		kv = storage.NewMemory()
	}
	n := &recordingNotifier{}
	clock := &fakeClock{now: time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)}
	eng := NewEngine(testConfig(), nil, seenset.New(kv), n, clock, metrics.NewStore())
	return eng, n, clock
}

func trades(ids ...string) []model.Record {
	out := make([]model.Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.Trade{TradeID: model.TradeID(id), Ticker: "AAPL"})
	}
	return out
}

func ticker(s string) *string { return &s }

func keysOf(records []model.Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.Key())
	}
	return out
}

func equalKeys(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestFirstSnapshotSeedsWithoutReporting(t *testing.T) {
	eng, n, _ := newEngineForTest(nil)
	ctx := context.Background()
	fresh, err := eng.Process(ctx, model.KindTrades, trades("1", "2", "3"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(fresh) != 0 || len(n.keys()) != 0 {
		t.Fatalf("seeding pass reported %v", keysOf(fresh))
	}
	status, err := eng.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status[1].Initialized || status[1].Seen != 3 || status[1].Day != "2026-03-10" {
		t.Fatalf("unexpected trades status %+v", status[1])
	}
}

func TestIncrementalDetectionInSnapshotOrder(t *testing.T) {
	eng, n, _ := newEngineForTest(nil)
	ctx := context.Background()
	if _, err := eng.Process(ctx, model.KindTrades, trades("1", "2")); err != nil {
		t.Fatalf("seed: %v", err)
	}
	fresh, err := eng.Process(ctx, model.KindTrades, trades("5", "1", "4", "2", "5"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !equalKeys(keysOf(fresh), []string{"5", "4"}) {
		t.Fatalf("expected [5 4], got %v", keysOf(fresh))
	}
	if !equalKeys(n.keys(), []string{"5", "4"}) {
		t.Fatalf("notifier got %v", n.keys())
	}
}

func TestProcessIsIdempotent(t *testing.T) {
	eng, n, _ := newEngineForTest(nil)
	ctx := context.Background()
	_, _ = eng.Process(ctx, model.KindTrades, trades("1"))
	snap := trades("1", "2", "3")
	first, _ := eng.Process(ctx, model.KindTrades, snap)
	second, _ := eng.Process(ctx, model.KindTrades, snap)
	if len(first) != 2 || len(second) != 0 {
		t.Fatalf("expected 2 then 0, got %d then %d", len(first), len(second))
	}
	if len(n.batches) != 1 {
		t.Fatalf("expected one delivery, got %d", len(n.batches))
	}
}

func TestEmptySnapshotHasNoSideEffects(t *testing.T) {
	eng, _, _ := newEngineForTest(nil)
	ctx := context.Background()
	if _, err := eng.Process(ctx, model.KindTrades, nil); err != nil {
		t.Fatalf("process: %v", err)
	}
	status, _ := eng.Status(ctx)
	if status[1].Initialized {
		t.Fatalf("empty snapshot initialized the day")
	}
}

func TestConcurrentSnapshotsReportEachKeyOnce(t *testing.T) {
	eng, n, _ := newEngineForTest(nil)
	ctx := context.Background()
	_, _ = eng.Process(ctx, model.KindTrades, trades("seed"))

	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			ids := make([]string, 0, 20)
			for i := 0; i < 20; i++ {
				ids = append(ids, fmt.Sprintf("%d", (g*7+i)%40))
			}
			if _, err := eng.Process(ctx, model.KindTrades, trades(ids...)); err != nil {
				t.Errorf("process: %v", err)
			}
		}(g)
	}
	wg.Wait()

	seen := map[string]int{}
	for _, k := range n.keys() {
		seen[k]++
	}
	if len(seen) != 40 {
		t.Fatalf("expected 40 distinct keys reported, got %d", len(seen))
	}
	for k, c := range seen {
		if c != 1 {
			t.Fatalf("key %s reported %d times", k, c)
		}
	}
}

func TestKindsDoNotShareState(t *testing.T) {
	eng, _, _ := newEngineForTest(nil)
	ctx := context.Background()
	_, _ = eng.Process(ctx, model.KindTrades, trades("1"))
	touches := []model.Record{model.Touch{Ticker: ticker("SPY"), TradeLevelRank: "1", Date: "d"}}
	fresh, _ := eng.Process(ctx, model.KindTouches, touches)
	if len(fresh) != 0 {
		t.Fatalf("touches should seed independently of trades")
	}
}

func TestSingleEntityTouchesDiscarded(t *testing.T) {
	eng, n, _ := newEngineForTest(nil)
	ctx := context.Background()
	seed := []model.Record{model.Touch{Ticker: ticker("SPY"), TradeLevelRank: "1", Date: "a"}}
	_, _ = eng.Process(ctx, model.KindTouches, seed)

	single := []model.Record{
		model.Touch{TradeLevelRank: "2", Date: "b"},
		model.Touch{TradeLevelRank: "3", Date: "c"},
	}
	fresh, err := eng.Process(ctx, model.KindTouches, single)
	if err != nil || len(fresh) != 0 {
		t.Fatalf("expected discard, got %v %v", fresh, err)
	}
	status, _ := eng.Status(ctx)
	if status[0].Seen != 1 {
		t.Fatalf("single-entity snapshot changed state: %+v", status[0])
	}
	if len(n.batches) != 0 {
		t.Fatalf("single-entity snapshot notified")
	}
	if st, _ := eng.Metrics().Get(model.KindTouches); st.Discarded != 1 {
		t.Fatalf("discard not counted: %+v", st)
	}
}

func TestResetReseeds(t *testing.T) {
	eng, n, _ := newEngineForTest(nil)
	ctx := context.Background()
	_, _ = eng.Process(ctx, model.KindTrades, trades("1"))
	_, _ = eng.Process(ctx, model.KindTrades, trades("1", "2"))
	if err := eng.Reset(ctx, model.KindTrades); err != nil {
		t.Fatalf("reset: %v", err)
	}
	fresh, _ := eng.Process(ctx, model.KindTrades, trades("1", "2", "3"))
	if len(fresh) != 0 {
		t.Fatalf("post-reset snapshot should reseed, got %v", keysOf(fresh))
	}
	fresh, _ = eng.Process(ctx, model.KindTrades, trades("3", "4"))
	if !equalKeys(keysOf(fresh), []string{"4"}) {
		t.Fatalf("expected [4], got %v", keysOf(fresh))
	}
	if !equalKeys(n.keys(), []string{"2", "4"}) {
		t.Fatalf("notifier got %v", n.keys())
	}
}

func TestDayRolloverReseeds(t *testing.T) {
	eng, _, clock := newEngineForTest(nil)
	ctx := context.Background()
	_, _ = eng.Process(ctx, model.KindTrades, trades("1"))
	clock.Set(time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC))
	fresh, _ := eng.Process(ctx, model.KindTrades, trades("1", "2"))
	if len(fresh) != 0 {
		t.Fatalf("new day should seed, got %v", keysOf(fresh))
	}
}

func TestStorageFailureReleasesLock(t *testing.T) {
	kv := &failingKV{Store: storage.NewMemory(), failSet: true}
	eng, n, _ := newEngineForTest(kv)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := eng.Process(ctx, model.KindTrades, trades("1")); err == nil {
		t.Fatalf("expected storage error")
	}
	kv.failSet = false
	if _, err := eng.Process(ctx, model.KindTrades, trades("1")); err != nil {
		t.Fatalf("lock not released after failure: %v", err)
	}
	fresh, err := eng.Process(ctx, model.KindTrades, trades("1", "2"))
	if err != nil || !equalKeys(keysOf(fresh), []string{"2"}) {
		t.Fatalf("expected [2], got %v %v", keysOf(fresh), err)
	}

	kv.failGet = true
	if _, err := eng.Process(ctx, model.KindTrades, trades("3")); err == nil {
		t.Fatalf("expected read error")
	}
	kv.failGet = false
	if len(n.batches) != 1 {
		t.Fatalf("failed commits must not notify, got %d batches", len(n.batches))
	}
	if st, _ := eng.Metrics().Get(model.KindTrades); st.StoreErrors != 2 {
		t.Fatalf("store errors not counted: %+v", st)
	}
}

func TestDeliveryFailureKeepsCommit(t *testing.T) {
	eng, n, _ := newEngineForTest(nil)
	n.err = errors.New("sink down")
	ctx := context.Background()
	_, _ = eng.Process(ctx, model.KindTrades, trades("1"))
	fresh, err := eng.Process(ctx, model.KindTrades, trades("1", "2"))
	if err != nil || len(fresh) != 1 {
		t.Fatalf("delivery error leaked: %v %v", fresh, err)
	}
	again, _ := eng.Process(ctx, model.KindTrades, trades("2"))
	if len(again) != 0 {
		t.Fatalf("record re-reported after failed delivery")
	}
}

func TestCorruptEntryReseeds(t *testing.T) {
	kv := storage.NewMemory()
	eng, _, _ := newEngineForTest(kv)
	ctx := context.Background()
	_ = kv.Set(ctx, map[string][]byte{
		seenset.SeenKey(model.KindTrades, "2026-03-10"):        []byte(`{broken`),
		seenset.InitializedKey(model.KindTrades, "2026-03-10"): []byte(`true`),
	})
	fresh, err := eng.Process(ctx, model.KindTrades, trades("1", "2"))
	if err != nil || len(fresh) != 0 {
		t.Fatalf("expected reseed, got %v %v", keysOf(fresh), err)
	}
	fresh, _ = eng.Process(ctx, model.KindTrades, trades("2", "3"))
	if !equalKeys(keysOf(fresh), []string{"3"}) {
		t.Fatalf("expected [3], got %v", keysOf(fresh))
	}
}

func TestLockHonoursContext(t *testing.T) {
	eng, _, _ := newEngineForTest(nil)
	eng.locks[model.KindTrades] <- struct{}{}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := eng.Process(ctx, model.KindTrades, trades("1")); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	<-eng.locks[model.KindTrades]
}

func TestUnknownKind(t *testing.T) {
	eng, _, _ := newEngineForTest(nil)
	if _, err := eng.Process(context.Background(), model.KindUnknown, trades("1")); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}

func TestHandleRoutesCaptures(t *testing.T) {
	eng, n, _ := newEngineForTest(nil)
	ctx := context.Background()
	url := "https://www.volumeleaders.com/Trades/GetTrades?draw=1"
	seed := model.Capture{Event: model.EventResponse, URL: url, Body: `{"data":[{"TradeID":1,"Ticker":"AAPL"}]}`}
	next := model.Capture{Event: model.EventResponse, URL: url, Body: `{"data":[{"TradeID":1},{"TradeID":2,"Ticker":"MSFT"}]}`}
	for _, c := range []model.Capture{seed, next} {
		if err := eng.Handle(ctx, c); err != nil {
			t.Fatalf("handle: %v", err)
		}
	}
	if !equalKeys(n.keys(), []string{"2"}) {
		t.Fatalf("expected [2], got %v", n.keys())
	}

	if err := eng.Handle(ctx, model.Capture{Event: model.EventResponse, URL: url, Body: `<html>`}); err != nil {
		t.Fatalf("malformed body should be soft: %v", err)
	}
	if st, _ := eng.Metrics().Get(model.KindTrades); st.ParseErrors != 1 {
		t.Fatalf("parse error not counted: %+v", st)
	}
	if err := eng.Handle(ctx, model.Capture{Event: model.EventResponse, URL: "https://example.com/x", Body: "{}"}); err != nil {
		t.Fatalf("unwatched url: %v", err)
	}

	load := model.Capture{Event: model.EventPageLoad, URL: "https://www.volumeleaders.com/Trades"}
	if err := eng.Handle(ctx, load); err != nil {
		t.Fatalf("page load: %v", err)
	}
	status, _ := eng.Status(ctx)
	if status[1].Initialized {
		t.Fatalf("page load should reset trades")
	}
}

func TestStartDispatchesUntilClosed(t *testing.T) {
	eng, n, _ := newEngineForTest(nil)
	ctx := context.Background()
	_, _ = eng.Process(ctx, model.KindTrades, trades("0"))

	in := make(chan model.Capture)
	eng.Start(ctx, in)
	url := "https://www.volumeleaders.com/Trades/GetTrades"
	for i := 1; i <= 5; i++ {
		in <- model.Capture{Event: model.EventResponse, URL: url, Body: fmt.Sprintf(`{"data":[{"TradeID":%d}]}`, i)}
	}
	close(in)
	eng.Wait()
	if len(n.keys()) != 5 {
		t.Fatalf("expected 5 fresh records, got %v", n.keys())
	}
}
