package storage

import (
	"encoding/json"
	"time"

	"nmhealth-go/internal/contracts"
)

// Bucket names for bbolt database
const (
	// AlertsBucket holds one nested bucket per target.
	AlertsBucket = "alerts"
	MetaBucket   = "meta"
)

// Meta keys
const (
	SchemaVersionKey = "schema"
)

// CurrentSchemaVersion is bumped when the record layout changes.
const CurrentSchemaVersion = 1

// Filter defaults
const (
	DefaultHistoryLimit = 100
	MaxHistoryLimit     = 1000
)

// ReadOnlyOpenTimeout bounds how long OpenReadOnly waits for a writer.
const ReadOnlyOpenTimeout = time.Second

// alertRecord is the stored form of contracts.AlertRecord. Durations are kept
// in milliseconds so the file stays readable with bbolt's CLI.
type alertRecord struct {
	ID             string               `json:"id"`
	Target         string               `json:"target"`
	HostName       string               `json:"host_name"`
	State          contracts.AlertState `json:"state"`
	Messages       []string             `json:"messages"`
	Stage          string               `json:"stage"`
	UnhealthyHosts []string             `json:"unhealthy_hosts,omitempty"`
	Skipped        bool                 `json:"skipped,omitempty"`
	DurationMs     int64                `json:"duration_ms"`
	Timestamp      time.Time            `json:"timestamp"`
}

func toStored(r *contracts.AlertRecord) *alertRecord {
	return &alertRecord{
		ID:             r.ID,
		Target:         r.Target,
		HostName:       r.HostName,
		State:          r.State,
		Messages:       r.Messages,
		Stage:          r.Stage,
		UnhealthyHosts: r.UnhealthyHosts,
		Skipped:        r.Skipped,
		DurationMs:     r.Duration.Milliseconds(),
		Timestamp:      r.Timestamp,
	}
}

func (a *alertRecord) toContract() *contracts.AlertRecord {
	return &contracts.AlertRecord{
		ID:             a.ID,
		Target:         a.Target,
		HostName:       a.HostName,
		State:          a.State,
		Messages:       a.Messages,
		Stage:          a.Stage,
		UnhealthyHosts: a.UnhealthyHosts,
		Skipped:        a.Skipped,
		Duration:       time.Duration(a.DurationMs) * time.Millisecond,
		Timestamp:      a.Timestamp,
	}
}

// MarshalBinary implements encoding.BinaryMarshaler for BBolt storage
func (a *alertRecord) MarshalBinary() ([]byte, error) {
	return json.Marshal(a)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler for BBolt storage
func (a *alertRecord) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, a)
}

// HistoryFilter selects records of one target.
type HistoryFilter struct {
	Target string
	// States keeps only records in one of these states. Empty keeps all.
	States []contracts.AlertState
	Since  time.Time
	Until  time.Time
	// IncludeSkipped keeps records of runs gated off by the lifecycle check.
	IncludeSkipped bool
	Limit          int
}

// Validate clamps Limit into range.
func (f *HistoryFilter) Validate() {
	if f.Limit <= 0 {
		f.Limit = DefaultHistoryLimit
	}
	if f.Limit > MaxHistoryLimit {
		f.Limit = MaxHistoryLimit
	}
}

// Matches checks whether a record passes the filter. Time bounds are checked
// by the caller through the key range.
func (f *HistoryFilter) Matches(r *alertRecord) bool {
	if r.Skipped && !f.IncludeSkipped {
		return false
	}
	if len(f.States) == 0 {
		return true
	}
	for _, s := range f.States {
		if r.State == s {
			return true
		}
	}
	return false
}
