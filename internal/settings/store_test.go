package settings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/curohealth/clinic-scheduler/pkg/logging"
)

const validSettings = `{"working_hours": {
	"0": {"morning": {"start": "09:00", "end": "13:00"}, "afternoon": {"start": "14:00", "end": "18:00"}},
	"1": {"morning": {"start": "09:00", "end": "13:00"}, "afternoon": {"start": "14:00", "end": "18:00"}},
	"2": {"morning": {"start": "09:00", "end": "13:00"}, "afternoon": {"start": "14:00", "end": "18:00"}},
	"3": {"morning": {"start": "09:00", "end": "13:00"}, "afternoon": {"start": "14:00", "end": "18:00"}},
	"4": {"morning": {"start": "09:00", "end": "13:00"}, "afternoon": {"start": "14:00", "end": "18:00"}},
	"5": {"morning": {"start": "09:00", "end": "13:00"}, "afternoon": {"start": "14:00", "end": "18:00"}},
	"6": {"morning": {"start": "09:00", "end": "13:00"}, "afternoon": {"start": "14:00", "end": "18:00"}}
}}`

type stubFetcher struct {
	payload []byte
	err     error
	calls   int
}

func (s *stubFetcher) FetchSettings(ctx context.Context) ([]byte, error) {
	s.calls++
	return s.payload, s.err
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func testLogger() *logging.Logger {
	return logging.NewWithWriter("error", discard{})
}

func newTestStore(t *testing.T, fetcher Fetcher) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewStore(fetcher, client, "c1", testLogger()), mr
}

func TestWorkingHoursFetchesAndCaches(t *testing.T) {
	fetcher := &stubFetcher{payload: []byte(validSettings)}
	store, mr := newTestStore(t, fetcher)

	week, err := store.WorkingHours(context.Background())
	if err != nil {
		t.Fatalf("WorkingHours returned error: %v", err)
	}
	if week.Day(time.Monday).MorningStart != 9*60 {
		t.Fatalf("monday hours mismatch: %+v", week.Day(time.Monday))
	}
	if fetcher.calls != 1 {
		t.Fatalf("expected one backend fetch, got %d", fetcher.calls)
	}
	if !mr.Exists("clinic:settings:c1") {
		t.Fatal("settings payload not cached")
	}

	// Second read is served from cache.
	if _, err := store.WorkingHours(context.Background()); err != nil {
		t.Fatalf("cached read returned error: %v", err)
	}
	if fetcher.calls != 1 {
		t.Fatalf("cached read must not refetch, got %d calls", fetcher.calls)
	}
}

func TestWorkingHoursCacheExpiryRefetches(t *testing.T) {
	fetcher := &stubFetcher{payload: []byte(validSettings)}
	store, mr := newTestStore(t, fetcher)

	if _, err := store.WorkingHours(context.Background()); err != nil {
		t.Fatal(err)
	}
	mr.FastForward(10 * time.Minute)

	if _, err := store.WorkingHours(context.Background()); err != nil {
		t.Fatal(err)
	}
	if fetcher.calls != 2 {
		t.Fatalf("expired cache must refetch, got %d calls", fetcher.calls)
	}
}

func TestWorkingHoursInvalidCachedPayloadRefetches(t *testing.T) {
	fetcher := &stubFetcher{payload: []byte(validSettings)}
	store, mr := newTestStore(t, fetcher)
	mr.Set("clinic:settings:c1", `{"working_hours": {"0": {}}}`)

	week, err := store.WorkingHours(context.Background())
	if err != nil {
		t.Fatalf("WorkingHours returned error: %v", err)
	}
	if week.Day(time.Sunday).AfternoonEnd != 18*60 {
		t.Fatalf("expected refetched settings, got %+v", week.Day(time.Sunday))
	}
	if fetcher.calls != 1 {
		t.Fatalf("expected backend fetch after bad cache entry, got %d", fetcher.calls)
	}
}

func TestWorkingHoursRedisDownDegradesToFetch(t *testing.T) {
	fetcher := &stubFetcher{payload: []byte(validSettings)}
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	store := NewStore(fetcher, client, "c1", testLogger())
	mr.Close()

	if _, err := store.WorkingHours(context.Background()); err != nil {
		t.Fatalf("redis outage must degrade to direct fetch, got %v", err)
	}
	if fetcher.calls != 1 {
		t.Fatalf("expected direct fetch, got %d calls", fetcher.calls)
	}
}

func TestWorkingHoursFetchErrorPropagates(t *testing.T) {
	fetcher := &stubFetcher{err: errors.New("backend down")}
	store, _ := newTestStore(t, fetcher)

	if _, err := store.WorkingHours(context.Background()); err == nil {
		t.Fatal("expected fetch error")
	}
}

func TestInvalidateDropsCache(t *testing.T) {
	fetcher := &stubFetcher{payload: []byte(validSettings)}
	store, mr := newTestStore(t, fetcher)

	if _, err := store.WorkingHours(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := store.Invalidate(context.Background()); err != nil {
		t.Fatalf("Invalidate returned error: %v", err)
	}
	if mr.Exists("clinic:settings:c1") {
		t.Fatal("cache entry should be gone")
	}
}
