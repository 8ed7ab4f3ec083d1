package cachettl

import (
	"errors"
	"testing"
	"time"
)

func TestGetMissingReturnsFalse(t *testing.T) {
	c := New[int](time.Minute)
	if _, ok := c.Get(); ok {
		t.Fatal("expected miss on empty cache")
	}
}

func TestSetThenGet(t *testing.T) {
	c := New[string](time.Minute)
	c.Set("hello")

	v, ok := c.Get()
	if !ok || v != "hello" {
		t.Fatalf("Get() = (%q, %v), want (\"hello\", true)", v, ok)
	}
}

func TestExpiry(t *testing.T) {
	c := New[int](10 * time.Millisecond)
	c.Set(42)

	time.Sleep(30 * time.Millisecond)

	if _, ok := c.Get(); ok {
		t.Fatal("expected cache entry to have expired")
	}
}

func TestGetOrCompute(t *testing.T) {
	c := New[int](time.Minute)
	calls := 0

	compute := func() (int, error) {
		calls++
		return 7, nil
	}

	v, err := c.GetOrCompute(compute)
	if err != nil || v != 7 {
		t.Fatalf("GetOrCompute() = (%d, %v)", v, err)
	}

	v, err = c.GetOrCompute(compute)
	if err != nil || v != 7 {
		t.Fatalf("GetOrCompute() second call = (%d, %v)", v, err)
	}
	if calls != 1 {
		t.Fatalf("compute called %d times, want 1", calls)
	}
}

func TestGetOrComputeErrorNotCached(t *testing.T) {
	c := New[int](time.Minute)
	wantErr := errors.New("boom")

	_, err := c.GetOrCompute(func() (int, error) { return 0, wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("error = %v, want %v", err, wantErr)
	}
	if _, ok := c.Get(); ok {
		t.Fatal("expected no value cached after compute error")
	}
}
