package ledger

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/labgate/labgate/internal/core"
)

// Dataset is a pre-generated substitute for ledger data, served only when
// no live answer and no cached snapshot exist.
type Dataset struct {
	Records      []core.Record   `yaml:"reservations"`
	ProviderList []core.Provider `yaml:"providers"`
}

// LoadFallback reads a YAML dataset from path. An empty path returns a nil
// dataset and no error.
func LoadFallback(path string) (*Dataset, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fallback dataset: %w", err)
	}
	return ParseFallback(raw)
}

// ParseFallback decodes a YAML dataset.
func ParseFallback(raw []byte) (*Dataset, error) {
	var dataset Dataset
	if err := yaml.Unmarshal(raw, &dataset); err != nil {
		return nil, fmt.Errorf("parse fallback dataset: %w", err)
	}
	for i := range dataset.Records {
		r := &dataset.Records[i]
		r.Key = core.RecordKey(strings.ToLower(strings.TrimSpace(string(r.Key))))
		r.OwnerAddress = strings.ToLower(strings.TrimSpace(r.OwnerAddress))
		r.LabID = strings.TrimSpace(r.LabID)
	}
	for i := range dataset.ProviderList {
		dataset.ProviderList[i].Address = strings.ToLower(strings.TrimSpace(dataset.ProviderList[i].Address))
	}
	return &dataset, nil
}

// Reservations returns the dataset records belonging to scope, ordered by
// start time. ok is false when the dataset has nothing for the scope.
func (d *Dataset) Reservations(scope core.Scope) ([]core.Record, bool) {
	if d == nil {
		return nil, false
	}

	id := strings.ToLower(strings.TrimSpace(scope.ID))
	var out []core.Record
	for _, record := range d.Records {
		switch scope.Kind {
		case core.ScopeLab:
			if strings.ToLower(record.LabID) == id {
				out = append(out, record)
			}
		case core.ScopeUser:
			if record.OwnerAddress == id {
				out = append(out, record)
			}
		}
	}
	if len(out) == 0 {
		return nil, false
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out, true
}

// Providers returns the dataset providers.
func (d *Dataset) Providers() ([]core.Provider, bool) {
	if d == nil || len(d.ProviderList) == 0 {
		return nil, false
	}
	return append([]core.Provider(nil), d.ProviderList...), true
}
