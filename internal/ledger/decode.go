package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/labgate/labgate/internal/core"
)

// Records arrive either as positional tuples
// [key, labId, owner, start, end, status] or as objects. Numbers may be
// JSON numbers, decimal strings or 0x-prefixed hex.

type recordObject struct {
	Key    json.RawMessage `json:"key"`
	LabID  json.RawMessage `json:"labId"`
	Owner  string          `json:"owner"`
	Renter string          `json:"renter"`
	Start  json.RawMessage `json:"start"`
	End    json.RawMessage `json:"end"`
	Status json.RawMessage `json:"status"`
}

type providerObject struct {
	Account string `json:"account"`
	Address string `json:"address"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Country string `json:"country"`
	AuthURI string `json:"authURI"`
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func decodeCount(raw json.RawMessage) (int, error) {
	if isNull(raw) {
		return 0, nil
	}
	value, err := decodeUint(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: record count: %v", core.ErrDecodeFailure, err)
	}
	if !value.IsInt64() || value.Int64() > int64(^uint32(0)) {
		return 0, fmt.Errorf("%w: record count out of range", core.ErrDecodeFailure)
	}
	return int(value.Int64()), nil
}

func decodeKey(raw json.RawMessage) (core.RecordKey, error) {
	if isNull(raw) {
		return "", core.ErrNotFound
	}
	key, err := decodeString(raw)
	if err != nil {
		return "", fmt.Errorf("%w: record key: %v", core.ErrDecodeFailure, err)
	}
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" || isZeroHex(key) {
		return "", core.ErrNotFound
	}
	return core.RecordKey(key), nil
}

func decodeRecord(raw json.RawMessage, key core.RecordKey) (core.Record, error) {
	if isNull(raw) {
		return core.Record{}, core.ErrNotFound
	}

	var obj recordObject
	trimmed := bytes.TrimSpace(raw)
	switch trimmed[0] {
	case '[':
		var tuple []json.RawMessage
		if err := json.Unmarshal(trimmed, &tuple); err != nil {
			return core.Record{}, fmt.Errorf("%w: record: %v", core.ErrDecodeFailure, err)
		}
		if len(tuple) < 6 {
			return core.Record{}, fmt.Errorf("%w: record tuple has %d fields", core.ErrDecodeFailure, len(tuple))
		}
		obj = recordObject{Key: tuple[0], LabID: tuple[1], Start: tuple[3], End: tuple[4], Status: tuple[5]}
		owner, err := decodeString(tuple[2])
		if err != nil {
			return core.Record{}, fmt.Errorf("%w: record owner: %v", core.ErrDecodeFailure, err)
		}
		obj.Owner = owner
	case '{':
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return core.Record{}, fmt.Errorf("%w: record: %v", core.ErrDecodeFailure, err)
		}
	default:
		return core.Record{}, fmt.Errorf("%w: unexpected record encoding", core.ErrDecodeFailure)
	}

	record := core.Record{Key: key}
	if !isNull(obj.Key) {
		if decoded, err := decodeString(obj.Key); err == nil && strings.TrimSpace(decoded) != "" {
			record.Key = core.RecordKey(strings.ToLower(strings.TrimSpace(decoded)))
		}
	}

	owner := obj.Owner
	if owner == "" {
		owner = obj.Renter
	}
	record.OwnerAddress = strings.ToLower(strings.TrimSpace(owner))
	if record.OwnerAddress == "" || isZeroHex(record.OwnerAddress) {
		return core.Record{}, core.ErrNotFound
	}

	if !isNull(obj.LabID) {
		labID, err := decodeUint(obj.LabID)
		if err != nil {
			return core.Record{}, fmt.Errorf("%w: lab id: %v", core.ErrDecodeFailure, err)
		}
		record.LabID = labID.String()
	}

	start, err := decodeTimestamp(obj.Start)
	if err != nil {
		return core.Record{}, fmt.Errorf("%w: start: %v", core.ErrDecodeFailure, err)
	}
	end, err := decodeTimestamp(obj.End)
	if err != nil {
		return core.Record{}, fmt.Errorf("%w: end: %v", core.ErrDecodeFailure, err)
	}
	record.StartTime = start
	record.EndTime = end

	record.Status = core.StatusUnknown
	if !isNull(obj.Status) {
		status, err := decodeUint(obj.Status)
		if err == nil && status.IsInt64() && status.Int64() <= int64(core.StatusCancelled) {
			record.Status = core.RecordStatus(status.Int64())
		}
	}
	return record, nil
}

// decodeProviders decodes the provider list. Malformed entries are skipped
// and counted; the list only fails when it is not a list at all or when
// no entry could be decoded.
func decodeProviders(raw json.RawMessage) ([]core.Provider, int, error) {
	if isNull(raw) {
		return []core.Provider{}, 0, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, 0, fmt.Errorf("%w: providers: %v", core.ErrDecodeFailure, err)
	}

	providers := make([]core.Provider, 0, len(items))
	var lastErr error
	for _, item := range items {
		provider, err := decodeProvider(item)
		if err != nil {
			lastErr = err
			continue
		}
		providers = append(providers, provider)
	}
	skipped := len(items) - len(providers)
	if len(items) > 0 && len(providers) == 0 {
		return nil, skipped, lastErr
	}
	return providers, skipped, nil
}

func decodeProvider(raw json.RawMessage) (core.Provider, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return core.Provider{}, fmt.Errorf("%w: empty provider", core.ErrDecodeFailure)
	}

	var obj providerObject
	if trimmed[0] == '[' {
		var tuple []string
		if err := json.Unmarshal(trimmed, &tuple); err != nil {
			return core.Provider{}, fmt.Errorf("%w: provider: %v", core.ErrDecodeFailure, err)
		}
		fields := make([]string, 5)
		copy(fields, tuple)
		obj = providerObject{Account: fields[0], Name: fields[1], Email: fields[2], Country: fields[3], AuthURI: fields[4]}
	} else if err := json.Unmarshal(trimmed, &obj); err != nil {
		return core.Provider{}, fmt.Errorf("%w: provider: %v", core.ErrDecodeFailure, err)
	}

	address := strings.ToLower(strings.TrimSpace(obj.Account))
	if address == "" {
		address = strings.ToLower(strings.TrimSpace(obj.Address))
	}
	if address == "" || isZeroHex(address) {
		return core.Provider{}, fmt.Errorf("%w: provider without address", core.ErrDecodeFailure)
	}
	return core.Provider{
		Address: address,
		Name:    strings.TrimSpace(obj.Name),
		Email:   strings.TrimSpace(obj.Email),
		Country: strings.TrimSpace(obj.Country),
		AuthURI: strings.TrimSpace(obj.AuthURI),
	}, nil
}

func decodeString(raw json.RawMessage) (string, error) {
	var value string
	if err := json.Unmarshal(raw, &value); err == nil {
		return value, nil
	}
	var number json.Number
	if err := json.Unmarshal(raw, &number); err != nil {
		return "", err
	}
	return number.String(), nil
}

func decodeUint(raw json.RawMessage) (*big.Int, error) {
	text, err := decodeString(raw)
	if err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)

	value := new(big.Int)
	var ok bool
	if strings.HasPrefix(text, "0x") || strings.HasPrefix(text, "0X") {
		if len(text) == 2 {
			return value, nil
		}
		_, ok = value.SetString(text[2:], 16)
	} else {
		_, ok = value.SetString(text, 10)
	}
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("invalid unsigned integer %q", text)
	}
	return value, nil
}

func decodeTimestamp(raw json.RawMessage) (time.Time, error) {
	if isNull(raw) {
		return time.Time{}, nil
	}
	value, err := decodeUint(raw)
	if err != nil {
		return time.Time{}, err
	}
	if !value.IsInt64() {
		return time.Time{}, fmt.Errorf("timestamp out of range")
	}
	seconds := value.Int64()
	if seconds == 0 {
		return time.Time{}, nil
	}
	return time.Unix(seconds, 0).UTC(), nil
}

func isZeroHex(value string) bool {
	value = strings.TrimPrefix(strings.ToLower(value), "0x")
	return strings.Trim(value, "0") == ""
}

func formatIndex(index int) string {
	return "0x" + strconv.FormatInt(int64(index), 16)
}
