package credential

import (
	"errors"
	"testing"

	"github.com/99designs/keyring"
)

func TestStore(t *testing.T) {
	store := NewStore(keyring.NewArrayKeyring(nil))
	key := Key("alice", "imap.example.com")
	if key != "imap:alice@imap.example.com" {
		t.Fatalf("Key() = %q", key)
	}

	if _, err := store.Get(key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() on empty store err = %v, want ErrNotFound", err)
	}

	if err := store.Set(key, "s3cret"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, err := store.Get(key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != "s3cret" {
		t.Errorf("Get() = %q, want s3cret", got)
	}

	if err := store.Delete(key); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(key); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after Delete() err = %v, want ErrNotFound", err)
	}
}
