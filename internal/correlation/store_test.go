package correlation

import (
	"context"
	"errors"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

type fakeKV struct {
	data map[string]string
	ttls map[string]time.Duration
	err  error
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeKV) Get(_ context.Context, key string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	value, ok := f.data[key]
	if !ok {
		return "", goredis.Nil
	}
	return value, nil
}

func (f *fakeKV) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	if f.err != nil {
		return f.err
	}
	f.data[key] = value.(string)
	f.ttls[key] = ttl
	return nil
}

func (f *fakeKV) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	f.data[key] = value.(string)
	f.ttls[key] = ttl
	return true, nil
}

func (f *fakeKV) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.data, key)
	}
	return nil
}

func TestNewStoreRequiresKV(t *testing.T) {
	if _, err := NewStore(nil, time.Hour); err == nil {
		t.Fatal("expected error for nil kv")
	}
}

func TestMarkAndLookupOutcome(t *testing.T) {
	kv := newFakeKV()
	store, err := NewStore(kv, 3*time.Hour)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()

	if err := store.MarkCompleted(ctx, "ws_CO_1"); err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	if err := store.MarkFailed(ctx, "ws_CO_2"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	outcome, found, err := store.Lookup(ctx, "ws_CO_1")
	if err != nil || !found || outcome != OutcomeCompleted {
		t.Fatalf("lookup ws_CO_1 = %v, %v, %v", outcome, found, err)
	}
	outcome, found, err = store.Lookup(ctx, "ws_CO_2")
	if err != nil || !found || outcome != OutcomeFailed {
		t.Fatalf("lookup ws_CO_2 = %v, %v, %v", outcome, found, err)
	}

	if ttl := kv.ttls["campus:correlation:ws_CO_1"]; ttl != 3*time.Hour {
		t.Fatalf("expected 3h ttl, got %v", ttl)
	}
}

func TestLookupMissingOutcome(t *testing.T) {
	store, err := NewStore(newFakeKV(), time.Hour)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	outcome, found, err := store.Lookup(context.Background(), "ws_CO_missing")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if found || outcome != "" {
		t.Fatalf("expected no outcome, got %v found=%v", outcome, found)
	}
}

func TestLookupPropagatesStoreErrors(t *testing.T) {
	kv := newFakeKV()
	kv.err = errors.New("connection reset")
	store, err := NewStore(kv, time.Hour)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	if _, _, err := store.Lookup(context.Background(), "ws_CO_1"); err == nil {
		t.Fatal("expected error")
	}
	if err := store.MarkCompleted(context.Background(), "ws_CO_1"); err == nil {
		t.Fatal("expected error")
	}
}

func TestCheckoutIDRequired(t *testing.T) {
	store, err := NewStore(newFakeKV(), time.Hour)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := store.MarkCompleted(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty checkout id")
	}
	if _, _, err := store.Lookup(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty checkout id")
	}
}
