package fn

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

// --- Result ---

func TestOkAndErr(t *testing.T) {
	r := Ok(42)
	if !r.IsOk() || r.IsErr() {
		t.Fatal("Ok should be ok")
	}
	v, err := r.Unwrap()
	if v != 42 || err != nil {
		t.Fatal("wrong unwrap")
	}

	e := Err[int](errors.New("fail"))
	if e.IsOk() || !e.IsErr() || e.Error() == nil {
		t.Fatal("Err should be err")
	}
}

func TestFromPair(t *testing.T) {
	if v, _ := FromPair(strconv.Atoi("42")).Unwrap(); v != 42 {
		t.Fatal("FromPair failed")
	}
	if FromPair(strconv.Atoi("nope")).IsOk() {
		t.Fatal("FromPair should fail")
	}
}

func TestPartition(t *testing.T) {
	a, b := errors.New("a"), errors.New("b")
	vals, errs := Partition([]Result[int]{Ok(1), Err[int](a), Ok(3), Err[int](b)})
	if len(vals) != 2 || vals[0] != 1 || vals[1] != 3 {
		t.Fatalf("vals = %v", vals)
	}
	if len(errs) != 2 || errs[0] != a || errs[1] != b {
		t.Fatalf("errs = %v", errs)
	}
}

// --- Slices ---

func TestMapFilter(t *testing.T) {
	got := Map([]int{1, 2, 3}, func(v int) string { return strconv.Itoa(v * 2) })
	if got[0] != "2" || got[2] != "6" {
		t.Fatalf("Map = %v", got)
	}
	even := Filter([]int{1, 2, 3, 4}, func(v int) bool { return v%2 == 0 })
	if len(even) != 2 || even[0] != 2 {
		t.Fatalf("Filter = %v", even)
	}
}

func TestUniqueBy(t *testing.T) {
	type item struct{ k, v string }
	got := UniqueBy([]item{{"a", "1"}, {"b", "2"}, {"a", "3"}}, func(i item) string { return i.k })
	if len(got) != 2 || got[0].v != "1" || got[1].v != "2" {
		t.Fatalf("UniqueBy = %v", got)
	}
}

func TestGroupOrdered(t *testing.T) {
	keys, groups := GroupOrdered([]string{"bb", "a", "cc", "d"}, func(s string) int { return len(s) })
	if len(keys) != 2 || keys[0] != 2 || keys[1] != 1 {
		t.Fatalf("keys = %v", keys)
	}
	if len(groups[2]) != 2 || groups[2][1] != "cc" {
		t.Fatalf("groups = %v", groups)
	}
}

// --- Parallel ---

func TestParMapCtxPreservesOrder(t *testing.T) {
	items := []int{5, 1, 4, 2, 3}
	res := ParMapCtx(context.Background(), items, 2, false, func(_ context.Context, v int) Result[int] {
		time.Sleep(time.Duration(v) * time.Millisecond)
		return Ok(v * 10)
	})
	for i, r := range res {
		if v, _ := r.Unwrap(); v != items[i]*10 {
			t.Fatalf("index %d: got %d", i, v)
		}
	}
}

func TestParMapCtxEmpty(t *testing.T) {
	if res := ParMapCtx(context.Background(), []int{}, 4, true, func(context.Context, int) Result[int] { return Ok(0) }); len(res) != 0 {
		t.Fatal("expected empty")
	}
}

func TestParMapCtxBoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	ParMapCtx(context.Background(), make([]int, 20), 3, false, func(context.Context, int) Result[int] {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		return Ok(0)
	})
	if peak.Load() > 3 {
		t.Fatalf("peak concurrency %d exceeds 3", peak.Load())
	}
}

func TestParMapCtxFailFastCancelsRest(t *testing.T) {
	boom := errors.New("boom")
	var started atomic.Int32
	res := ParMapCtx(context.Background(), []int{0, 1, 2, 3, 4, 5}, 1, true, func(ctx context.Context, v int) Result[int] {
		started.Add(1)
		if v == 1 {
			return Err[int](boom)
		}
		return Ok(v)
	})
	if _, err := res[1].Unwrap(); !errors.Is(err, boom) {
		t.Fatalf("expected boom at index 1, got %v", err)
	}
	for _, r := range res[2:] {
		if _, err := r.Unwrap(); !errors.Is(err, context.Canceled) {
			t.Fatalf("expected canceled, got %v", err)
		}
	}
	if started.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", started.Load())
	}
}

func TestParMapCtxIsolatesWithoutFailFast(t *testing.T) {
	res := ParMapCtx(context.Background(), []int{0, 1, 2}, 1, false, func(_ context.Context, v int) Result[int] {
		if v == 0 {
			return Err[int](errors.New("first"))
		}
		return Ok(v)
	})
	if res[0].IsOk() || !res[1].IsOk() || !res[2].IsOk() {
		t.Fatalf("unexpected results %+v", res)
	}
}

func TestParMapCtxParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := ParMapCtx(ctx, []int{1, 2}, 1, false, func(context.Context, int) Result[int] { return Ok(1) })
	for _, r := range res {
		if _, err := r.Unwrap(); !errors.Is(err, context.Canceled) {
			t.Fatalf("expected canceled, got %v", err)
		}
	}
}

// --- Stages ---

func TestTracedStage(t *testing.T) {
	s := TracedStage("double", Stage[int, int](func(_ context.Context, v int) Result[int] { return Ok(v * 2) }))
	if v, _ := s(context.Background(), 4).Unwrap(); v != 8 {
		t.Fatalf("got %d", v)
	}
	failing := TracedStage("fail", Stage[int, int](func(context.Context, int) Result[int] { return Err[int](errors.New("x")) }))
	if failing(context.Background(), 1).IsOk() {
		t.Fatal("expected error")
	}
}

// --- Retry ---

func TestRetrySuccess(t *testing.T) {
	calls := 0
	r := Retry(context.Background(), RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond}, func(context.Context) Result[int] {
		calls++
		if calls < 2 {
			return Err[int](errors.New("transient"))
		}
		return Ok(7)
	})
	if v, _ := r.Unwrap(); v != 7 || calls != 2 {
		t.Fatalf("v=%d calls=%d", v, calls)
	}
}

func TestRetryExhausted(t *testing.T) {
	calls := 0
	r := Retry(context.Background(), RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond}, func(context.Context) Result[int] {
		calls++
		return Err[int](errors.New("down"))
	})
	if r.IsOk() || calls != 3 {
		t.Fatalf("calls=%d", calls)
	}
}

func TestRetryNotRetryable(t *testing.T) {
	permanent := errors.New("bad request")
	calls := 0
	opts := RetryOpts{MaxAttempts: 5, InitialWait: time.Millisecond, Retryable: func(err error) bool { return !errors.Is(err, permanent) }}
	r := Retry(context.Background(), opts, func(context.Context) Result[int] {
		calls++
		return Err[int](permanent)
	})
	if _, err := r.Unwrap(); !errors.Is(err, permanent) || calls != 1 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestRetryContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := Retry(ctx, RetryOpts{MaxAttempts: 3, InitialWait: time.Second}, func(context.Context) Result[int] {
		return Err[int](errors.New("down"))
	})
	if _, err := r.Unwrap(); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
}
