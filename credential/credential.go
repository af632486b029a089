// Package credential keeps IMAP passwords in the OS keyring so they do not
// have to be passed on the command line.
package credential

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

const ServiceName = "mail-receiver"

// ErrNotFound is returned when no password is stored for a key.
var ErrNotFound = errors.New("credential not found")

type Store struct {
	ring keyring.Keyring
}

// Open returns a store backed by the first available OS keyring backend,
// falling back to an encrypted file below ~/.config/mail-receiver.
func Open() (*Store, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: ServiceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/mail-receiver/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("mail-receiver-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return &Store{ring: ring}, nil
}

// NewStore wraps an already opened keyring.
func NewStore(ring keyring.Keyring) *Store {
	return &Store{ring: ring}
}

// Key names the keyring entry of an IMAP account.
func Key(user, host string) string {
	return "imap:" + user + "@" + host
}

func (s *Store) Get(key string) (string, error) {
	item, err := s.ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}
	return string(item.Data), nil
}

func (s *Store) Set(key, value string) error {
	if err := s.ring.Set(keyring.Item{Key: key, Data: []byte(value), Label: ServiceName + " " + key}); err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(key string) error {
	err := s.ring.Remove(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}
	return nil
}

// Lookup opens the OS keyring and returns the IMAP password for user at
// host.
func Lookup(user, host string) (string, error) {
	store, err := Open()
	if err != nil {
		return "", err
	}
	return store.Get(Key(user, host))
}
