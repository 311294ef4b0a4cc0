package ledger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/labgate/labgate/internal/core"
)

func TestDecodeCount(t *testing.T) {
	tests := []struct {
		raw  string
		want int
	}{
		{`"0x0"`, 0},
		{`"0x1f"`, 31},
		{`"12"`, 12},
		{`5`, 5},
		{`null`, 0},
	}
	for _, tt := range tests {
		got, err := decodeCount(json.RawMessage(tt.raw))
		require.NoError(t, err, tt.raw)
		require.Equal(t, tt.want, got, tt.raw)
	}

	_, err := decodeCount(json.RawMessage(`"-3"`))
	require.ErrorIs(t, err, core.ErrDecodeFailure)

	_, err = decodeCount(json.RawMessage(`{"count":1}`))
	require.ErrorIs(t, err, core.ErrDecodeFailure)
}

func TestDecodeKey(t *testing.T) {
	key, err := decodeKey(json.RawMessage(`" 0xABCD "`))
	require.NoError(t, err)
	require.Equal(t, core.RecordKey("0xabcd"), key)

	_, err = decodeKey(json.RawMessage(`"0x0000"`))
	require.ErrorIs(t, err, core.ErrNotFound)

	_, err = decodeKey(json.RawMessage(`null`))
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestDecodeRecordRejectsEmptyOwner(t *testing.T) {
	_, err := decodeRecord(json.RawMessage(`["0x1", 1, "0x0000000000000000000000000000000000000000", 0, 0, 0]`), "0x1")
	require.ErrorIs(t, err, core.ErrNotFound)

	_, err = decodeRecord(json.RawMessage(`["0x1", 1]`), "0x1")
	require.ErrorIs(t, err, core.ErrDecodeFailure)

	_, err = decodeRecord(json.RawMessage(`"garbage"`), "0x1")
	require.ErrorIs(t, err, core.ErrDecodeFailure)
}

func TestDecodeRecordUnknownStatus(t *testing.T) {
	record, err := decodeRecord(json.RawMessage(`{"owner":"0xA","labId":"0x10","start":0,"status":9}`), "0xk")
	require.NoError(t, err)
	require.Equal(t, core.RecordKey("0xk"), record.Key)
	require.Equal(t, "16", record.LabID)
	require.True(t, record.StartTime.IsZero())
	require.Equal(t, core.StatusUnknown, record.Status)
}

func TestDecodeProvidersSkipsMalformedEntries(t *testing.T) {
	providers, skipped, err := decodeProviders(json.RawMessage(`[
		{"account":"0xAA","name":"Lab One"},
		"garbage",
		{"name":"No Address"},
		["0xbb","Lab Two"]
	]`))
	require.NoError(t, err)
	require.Equal(t, 2, skipped)
	require.Len(t, providers, 2)
	require.Equal(t, "0xaa", providers[0].Address)
	require.Equal(t, "Lab Two", providers[1].Name)

	_, skipped, err = decodeProviders(json.RawMessage(`["garbage", 7]`))
	require.ErrorIs(t, err, core.ErrDecodeFailure)
	require.Equal(t, 2, skipped)

	providers, _, err = decodeProviders(json.RawMessage(`[]`))
	require.NoError(t, err)
	require.Empty(t, providers)

	_, _, err = decodeProviders(json.RawMessage(`{"providers":[]}`))
	require.ErrorIs(t, err, core.ErrDecodeFailure)
}

func TestParseFallback(t *testing.T) {
	raw := []byte(`
reservations:
  - key: "0xB"
    lab_id: "7"
    owner_address: "0xFEED"
    start_time: 2025-01-02T10:00:00Z
    end_time: 2025-01-02T11:00:00Z
    status: 1
  - key: "0xa"
    lab_id: "7"
    owner_address: "0xbeef"
    start_time: 2025-01-01T10:00:00Z
    end_time: 2025-01-01T11:00:00Z
    status: 2
  - key: "0xc"
    lab_id: "8"
    owner_address: "0xfeed"
    start_time: 2025-01-03T10:00:00Z
    end_time: 2025-01-03T11:00:00Z
    status: 1
providers:
  - address: "0xAA"
    name: "Lab One"
`)
	dataset, err := ParseFallback(raw)
	require.NoError(t, err)

	lab, ok := dataset.Reservations(core.Scope{Kind: core.ScopeLab, ID: "7"})
	require.True(t, ok)
	require.Len(t, lab, 2)
	require.Equal(t, core.RecordKey("0xa"), lab[0].Key)
	require.Equal(t, core.RecordKey("0xb"), lab[1].Key)
	require.Equal(t, time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC), lab[1].StartTime.UTC())

	user, ok := dataset.Reservations(core.Scope{Kind: core.ScopeUser, ID: "0xFeed"})
	require.True(t, ok)
	require.Len(t, user, 2)

	_, ok = dataset.Reservations(core.Scope{Kind: core.ScopeLab, ID: "99"})
	require.False(t, ok)

	providers, ok := dataset.Providers()
	require.True(t, ok)
	require.Equal(t, "0xaa", providers[0].Address)

	var missing *Dataset
	_, ok = missing.Providers()
	require.False(t, ok)
}

func TestLoadFallback(t *testing.T) {
	dataset, err := LoadFallback("")
	require.NoError(t, err)
	require.Nil(t, dataset)

	_, err = LoadFallback(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "fallback.yaml")
	require.NoError(t, os.WriteFile(path, []byte("providers:\n  - address: \"0x1\"\n    name: one\n"), 0o600))
	dataset, err = LoadFallback(path)
	require.NoError(t, err)
	providers, ok := dataset.Providers()
	require.True(t, ok)
	require.Len(t, providers, 1)
}
