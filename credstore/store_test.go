package credstore

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newCredStoreTest(t *testing.T) (*RedisStore, *miniredis.Miniredis, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	c, err := NewXChaChaCipher(bytes.Repeat([]byte{7}, 32))
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}

	return NewRedisStore(rdb, "ac", c), mr, func() {
		_ = rdb.Close()
		mr.Close()
	}
}

func TestRedisStorePutGetDelete(t *testing.T) {
	store, mr, cleanup := newCredStoreTest(t)
	defer cleanup()
	ctx := context.Background()

	payload := []byte(`{"refresh_token":"abc"}`)
	if err := store.Put(ctx, 42, payload); err != nil {
		t.Fatalf("Put: %v", err)
	}

	raw, err := mr.Get("ac:cred:42")
	if err != nil {
		t.Fatalf("raw get: %v", err)
	}
	if bytes.Contains([]byte(raw), []byte("refresh_token")) {
		t.Fatal("payload stored in plaintext")
	}

	got, err := store.Get(ctx, 42)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("Get = %q, want %q", got, payload)
	}

	if err := store.Delete(ctx, 42); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete(ctx, 42); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	got, err = store.Get(ctx, 42)
	if err != nil || got != nil {
		t.Fatalf("Get after delete = %q, %v; want nil, nil", got, err)
	}
}

func TestRedisStoreRejectsSwappedCiphertext(t *testing.T) {
	store, mr, cleanup := newCredStoreTest(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.Put(ctx, 1, []byte("one")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	raw, _ := mr.Get("ac:cred:1")
	if err := mr.Set("ac:cred:2", raw); err != nil {
		t.Fatalf("raw set: %v", err)
	}

	if _, err := store.Get(ctx, 2); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("Get swapped = %v, want ErrDecrypt", err)
	}
}

func TestRedisStoreUnavailable(t *testing.T) {
	store, mr, cleanup := newCredStoreTest(t)
	defer cleanup()
	mr.Close()

	if err := store.Put(context.Background(), 1, []byte("x")); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("Put = %v, want ErrRedisUnavailable", err)
	}
}

func TestXChaChaCipher(t *testing.T) {
	if _, err := NewXChaChaCipher([]byte("short")); err == nil {
		t.Fatal("short key accepted")
	}

	c, err := NewXChaChaCipher(bytes.Repeat([]byte{1}, 32))
	if err != nil {
		t.Fatalf("NewXChaChaCipher: %v", err)
	}

	a, _ := c.Seal([]byte("secret"), []byte("k"))
	b, _ := c.Seal([]byte("secret"), []byte("k"))
	if bytes.Equal(a, b) {
		t.Fatal("two seals produced identical ciphertext")
	}

	if _, err := c.Open(a, []byte("other")); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("Open wrong aad = %v, want ErrDecrypt", err)
	}
	if _, err := c.Open([]byte("tiny"), nil); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("Open truncated = %v, want ErrDecrypt", err)
	}
	plain, err := c.Open(a, []byte("k"))
	if err != nil || string(plain) != "secret" {
		t.Fatalf("Open = %q, %v", plain, err)
	}
}
