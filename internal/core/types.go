package core

import (
	"strings"
	"time"
)

// RecordKey is the stable ledger key of a single record.
type RecordKey string

// ScopeKind identifies what a record collection is counted against.
type ScopeKind string

const (
	ScopeLab  ScopeKind = "lab"
	ScopeUser ScopeKind = "user"
)

// Scope addresses a collection of records on the ledger, e.g. all
// reservations of one lab.
type Scope struct {
	Kind ScopeKind `json:"kind"`
	ID   string    `json:"id"`
}

// QueryID returns the cache key used for the scope's collection.
func (s Scope) QueryID() string {
	return string(s.Kind) + ":" + strings.ToLower(strings.TrimSpace(s.ID))
}

// RecordStatus is the ledger lifecycle state of a record.
type RecordStatus int

const (
	StatusPending   RecordStatus = 0
	StatusBooked    RecordStatus = 1
	StatusUsed      RecordStatus = 2
	StatusCollected RecordStatus = 3
	StatusCancelled RecordStatus = 4
	StatusUnknown   RecordStatus = -1
)

var statusNames = map[RecordStatus]string{
	StatusPending:   "pending",
	StatusBooked:    "booked",
	StatusUsed:      "used",
	StatusCollected: "collected",
	StatusCancelled: "cancelled",
	StatusUnknown:   "unknown",
}

func (s RecordStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return statusNames[StatusUnknown]
}

// ParseRecordStatus maps a numeric or named status onto RecordStatus.
func ParseRecordStatus(value string) RecordStatus {
	value = strings.ToLower(strings.TrimSpace(value))
	for status, name := range statusNames {
		if name == value {
			return status
		}
	}
	return StatusUnknown
}

// Record is one domain item read from the ledger, e.g. a reservation.
// The read layer never mutates records; it only collects and caches them.
type Record struct {
	Key          RecordKey    `json:"key" yaml:"key"`
	LabID        string       `json:"lab_id,omitempty" yaml:"lab_id,omitempty"`
	OwnerAddress string       `json:"owner_address" yaml:"owner_address"`
	StartTime    time.Time    `json:"start_time" yaml:"start_time"`
	EndTime      time.Time    `json:"end_time" yaml:"end_time"`
	Status       RecordStatus `json:"status" yaml:"status"`
}

// Provider is a lab provider registered on the ledger.
type Provider struct {
	Address string `json:"address" yaml:"address"`
	Name    string `json:"name" yaml:"name"`
	Email   string `json:"email,omitempty" yaml:"email,omitempty"`
	Country string `json:"country,omitempty" yaml:"country,omitempty"`
	AuthURI string `json:"auth_uri,omitempty" yaml:"auth_uri,omitempty"`
}

// Source reports which stage of the degradation chain answered a query.
type Source string

const (
	SourceFresh     Source = "fresh"
	SourceLive      Source = "live"
	SourceExtended  Source = "extended"
	SourceEmergency Source = "emergency"
	SourceFallback  Source = "fallback"
)

// Tier names a freshness predicate over a cached snapshot.
type Tier string

const (
	TierFresh     Tier = "fresh"
	TierExtended  Tier = "extended"
	TierEmergency Tier = "emergency"
)

// CacheEntry is a cached payload and the moment it was captured.
type CacheEntry[T any] struct {
	Payload    T         `json:"payload"`
	CapturedAt time.Time `json:"captured_at"`
}

// Age returns how old the entry is relative to now.
func (e CacheEntry[T]) Age(now time.Time) time.Duration {
	if e.CapturedAt.IsZero() {
		return 0
	}
	return now.Sub(e.CapturedAt)
}

// EndpointDescriptor describes one upstream read endpoint. Lower tiers are
// preferred. Descriptors are immutable once built.
type EndpointDescriptor struct {
	Name           string        `json:"name"`
	Address        string        `json:"address"`
	Tier           int           `json:"tier"`
	Weight         int           `json:"weight"`
	PerCallTimeout time.Duration `json:"per_call_timeout"`
}

// RateLimitState is the process-wide rate-limit signal state.
type RateLimitState struct {
	IsLimited        bool      `json:"is_limited"`
	LastSignalAt     time.Time `json:"last_signal_at"`
	ConsecutiveCount int       `json:"consecutive_count"`
}

// BatchJob describes one batch fetch.
type BatchJob struct {
	ItemCount        int
	ConcurrencyLimit int
	PerItemTimeout   time.Duration
}

// QueryResult is what a collection query hands back to callers.
type QueryResult[T any] struct {
	Items      T             `json:"items"`
	Source     Source        `json:"source"`
	CapturedAt time.Time     `json:"captured_at"`
	Age        time.Duration `json:"-"`
	Warning    string        `json:"warning,omitempty"`
}

// Diagnostics reports the operational state of one cached query.
type Diagnostics struct {
	QueryID      string        `json:"query"`
	CacheAge     time.Duration `json:"-"`
	CacheValid   bool          `json:"cache_valid"`
	HasSnapshot  bool          `json:"has_snapshot"`
	RateLimited  bool          `json:"rate_limited"`
	Cooldown     time.Duration `json:"-"`
	LastError    string        `json:"last_error,omitempty"`
	LastSource   Source        `json:"last_source,omitempty"`
	LastQueryAt  *time.Time    `json:"last_query_at,omitempty"`
	CacheAgeSecs float64       `json:"cache_age_seconds"`
	CooldownSecs float64       `json:"cooldown_seconds"`
}
