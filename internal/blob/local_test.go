package blob

import (
	"context"
	"testing"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := &LocalStore{BaseDir: t.TempDir()}

	if err := st.Put(ctx, "job-1", []byte("hello"), "text/plain"); err != nil {
		t.Fatalf("put: %v", err)
	}
	data, err := st.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("unexpected content %q", data)
	}
}

func TestLocalStoreSanitizesKeys(t *testing.T) {
	ctx := context.Background()
	st := &LocalStore{BaseDir: t.TempDir()}

	if err := st.Put(ctx, "../escape", []byte("x"), ""); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := st.Get(ctx, "../escape"); err != nil {
		t.Fatalf("get: %v", err)
	}
}

func TestLocalStoreGetMissing(t *testing.T) {
	st := &LocalStore{BaseDir: t.TempDir()}
	if _, err := st.Get(context.Background(), "nope"); err == nil {
		t.Fatal("expected error for missing key")
	}
}
