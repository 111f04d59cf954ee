package vault

import (
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"mentalia/pkg/domain"
)

func newTestCipher(t *testing.T) *Cipher {
	t.Helper()
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	c, err := NewCipher(key)
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	return c
}

func sampleEntry() domain.MoodEntry {
	ts := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	return domain.MoodEntry{
		ID:   1714555800000,
		Mood: 4.5,
		Feelings: []domain.Feeling{
			{Value: "grato", Category: "positive", Emoji: "🙏", Label: "Grato"},
			{Value: "ansioso", Category: "negative", Emoji: "😰", Label: "Ansioso"},
		},
		Diary:     "Dia bom no trabalho",
		Timestamp: ts,
		Date:      "2024-05-01",
		Version:   domain.SchemaVersion,
		CreatedAt: ts,
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	c := newTestCipher(t)
	entry := sampleEntry()

	blob, err := c.Seal(entry)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	var got domain.MoodEntry
	if err := c.Open(blob, &got); err != nil {
		t.Fatalf("open: %v", err)
	}
	if !reflect.DeepEqual(got, entry) {
		t.Fatalf("round trip mismatch:\n got  %+v\n want %+v", got, entry)
	}
}

func TestSealUsesFreshNonce(t *testing.T) {
	c := newTestCipher(t)
	a, _ := c.Seal("same")
	b, _ := c.Seal("same")
	if a == b {
		t.Fatalf("expected distinct ciphertexts for repeated seal")
	}
}

func TestOpenDetectsEveryBitFlip(t *testing.T) {
	c := newTestCipher(t)
	blob, err := c.Seal(map[string]float64{"mood": 3})
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	raw, _ := base64.StdEncoding.DecodeString(blob)
	for i := 0; i < len(raw)*8; i++ {
		tampered := append([]byte(nil), raw...)
		tampered[i/8] ^= 1 << (i % 8)
		var out map[string]float64
		err := c.Open(base64.StdEncoding.EncodeToString(tampered), &out)
		if !errors.Is(err, ErrDecryption) {
			t.Fatalf("bit %d: expected ErrDecryption, got %v", i, err)
		}
	}
}

func TestOpenRejectsMalformedInput(t *testing.T) {
	c := newTestCipher(t)
	var out any
	for _, blob := range []string{"", "!!not-base64!!", base64.StdEncoding.EncodeToString([]byte("short"))} {
		if err := c.Open(blob, &out); !errors.Is(err, ErrDecryption) {
			t.Fatalf("blob %q: expected ErrDecryption, got %v", blob, err)
		}
	}
}

func TestOpenWithWrongKey(t *testing.T) {
	blob, err := newTestCipher(t).Seal("secret")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	var out string
	if err := newTestCipher(t).Open(blob, &out); !errors.Is(err, ErrDecryption) {
		t.Fatalf("expected ErrDecryption with foreign key, got %v", err)
	}
}

func TestNewCipherRejectsShortKey(t *testing.T) {
	if _, err := NewCipher(make([]byte, 16)); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestLoadOrCreateKeyPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "mentalia.key")
	first, created, err := LoadOrCreateKey(path)
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	if !created {
		t.Fatalf("expected key to be created")
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat key file: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("key file perm = %o, want 600", perm)
	}
	second, created, err := LoadOrCreateKey(path)
	if err != nil {
		t.Fatalf("load key: %v", err)
	}
	if created {
		t.Fatalf("expected existing key to be reused")
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("reloaded key differs")
	}
}

func TestLoadOrCreateKeyConcurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mentalia.key")
	if _, _, err := LoadOrCreateKey(path); err != nil {
		t.Fatalf("seed key: %v", err)
	}
	var wg sync.WaitGroup
	keys := make([][]byte, 8)
	for i := range keys {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			k, _, err := LoadOrCreateKey(path)
			if err != nil {
				t.Errorf("load key: %v", err)
				return
			}
			keys[i] = k
		}(i)
	}
	wg.Wait()
	for i := 1; i < len(keys); i++ {
		if !reflect.DeepEqual(keys[0], keys[i]) {
			t.Fatalf("goroutine %d saw a different key", i)
		}
	}
}

func TestLoadOrCreateKeyRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mentalia.key")
	if err := os.WriteFile(path, []byte("not a key"), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	if _, _, err := LoadOrCreateKey(path); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestPassphraseRoundTrip(t *testing.T) {
	entry := sampleEntry()
	blob, err := SealWithPassphrase("correct horse", entry)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	var got domain.MoodEntry
	if err := OpenWithPassphrase("correct horse", blob, &got); err != nil {
		t.Fatalf("open: %v", err)
	}
	if !reflect.DeepEqual(got, entry) {
		t.Fatalf("round trip mismatch")
	}
	if err := OpenWithPassphrase("wrong", blob, &got); !errors.Is(err, ErrDecryption) {
		t.Fatalf("expected ErrDecryption for wrong passphrase, got %v", err)
	}
}

func TestSealWithPassphraseRequiresPassphrase(t *testing.T) {
	if _, err := SealWithPassphrase("", 1); !errors.Is(err, ErrPassphraseRequired) {
		t.Fatalf("expected ErrPassphraseRequired, got %v", err)
	}
}
