package license

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, hwID string) *Store {
	t.Helper()
	dir := t.TempDir()
	store, err := NewStore(
		filepath.Join(dir, "verification.bin"),
		filepath.Join(dir, "verification.json"),
		DeriveTrustKey(hwID),
		slog.Default(),
	)
	require.NoError(t, err)
	return store
}

func sampleRecord(hwID string) *CacheRecord {
	return &CacheRecord{
		HardwareID: hwID,
		SavedAt:    time.Now().Truncate(time.Second),
		Success:    true,
		Message:    "verification succeeded",
		BoundKey:   "CK-1234-ABCD",
		Entitlement: &Entitlement{
			Key:        "CK-1234-ABCD",
			CardType:   "monthly",
			ValidDays:  30,
			ExpiryTime: "2030-07-01 09:00:00",
		},
	}
}

func TestDeriveTrustKey(t *testing.T) {
	a := DeriveTrustKey("hw-a")
	b := DeriveTrustKey("hw-a")
	c := DeriveTrustKey("hw-b")

	assert.Equal(t, a, b, "same fingerprint derives the same key")
	assert.NotEqual(t, a, c, "different fingerprints derive different keys")
	assert.Len(t, a, 32)
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t, "hw-round-trip")
	rec := sampleRecord("hw-round-trip")

	require.NoError(t, store.Save(rec))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)

	assert.Equal(t, rec.HardwareID, loaded.HardwareID)
	assert.Equal(t, rec.BoundKey, loaded.BoundKey)
	assert.Equal(t, rec.Message, loaded.Message)
	require.NotNil(t, loaded.Entitlement)
	assert.Equal(t, rec.Entitlement.CardType, loaded.Entitlement.CardType)
	assert.Equal(t, rec.Entitlement.ExpiryTime, loaded.Entitlement.ExpiryTime)
}

func TestStoreEncryptsOnDisk(t *testing.T) {
	store := newTestStore(t, "hw-enc")
	require.NoError(t, store.Save(sampleRecord("hw-enc")))

	raw, err := os.ReadFile(store.path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "CK-1234-ABCD")
	assert.NotContains(t, string(raw), "hw-enc")
}

func TestStoreLoadMissing(t *testing.T) {
	store := newTestStore(t, "hw-missing")

	rec, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestStoreCorruptPrimaryDeletedAndIgnored(t *testing.T) {
	store := newTestStore(t, "hw-corrupt")
	require.NoError(t, os.WriteFile(store.path, []byte("not ciphertext at all"), 0o600))

	rec, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.NoFileExists(t, store.path, "corrupt cache file must be removed")
}

func TestStoreForeignMachineFileUnreadable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "verification.bin")
	legacy := filepath.Join(dir, "verification.json")

	theirs, err := NewStore(path, legacy, DeriveTrustKey("their-machine"), slog.Default())
	require.NoError(t, err)
	require.NoError(t, theirs.Save(sampleRecord("their-machine")))

	ours, err := NewStore(path, legacy, DeriveTrustKey("our-machine"), slog.Default())
	require.NoError(t, err)

	rec, err := ours.Load()
	require.NoError(t, err)
	assert.Nil(t, rec, "a foreign machine's cache must not decrypt here")
}

func TestStoreLegacyPlaintextFallback(t *testing.T) {
	store := newTestStore(t, "hw-legacy")
	rec := sampleRecord("hw-legacy")

	data, err := json.Marshal(rec)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(store.legacyPath, data, 0o600))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, rec.BoundKey, loaded.BoundKey)
}

func TestStoreCorruptLegacyDeleted(t *testing.T) {
	store := newTestStore(t, "hw-legacy-corrupt")
	require.NoError(t, os.WriteFile(store.legacyPath, []byte("{nope"), 0o600))

	rec, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.NoFileExists(t, store.legacyPath)
}

func TestStoreDelete(t *testing.T) {
	store := newTestStore(t, "hw-delete")
	require.NoError(t, store.Save(sampleRecord("hw-delete")))
	require.True(t, store.Exists())

	require.NoError(t, store.Delete())
	assert.False(t, store.Exists())

	// deleting again is fine
	require.NoError(t, store.Delete())
}

func TestStoreDebugInfo(t *testing.T) {
	store := newTestStore(t, "hw-debug")
	primary, legacy := store.DebugInfo()
	assert.False(t, primary.Exists)
	assert.False(t, legacy.Exists)

	require.NoError(t, store.Save(sampleRecord("hw-debug")))
	primary, _ = store.DebugInfo()
	assert.True(t, primary.Exists)
	assert.Positive(t, primary.Size)
}

func TestNewStoreValidation(t *testing.T) {
	_, err := NewStore("a.bin", "a.json", []byte("short"), slog.Default())
	assert.Error(t, err)

	_, err = NewStore("", "a.json", DeriveTrustKey("hw"), slog.Default())
	assert.Error(t, err)
}
