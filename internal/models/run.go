package models

import "time"

// IDMapping is the persisted form of one identifier-cache entry
type IDMapping struct {
	Key       string `boltholdKey:"Key"`
	IDs       MediaIDs
	UpdatedAt time.Time
}

// SyncRun is the persisted summary of one pipeline run
type SyncRun struct {
	ID          string    `boltholdKey:"ID"`
	StartedAt   time.Time `boltholdIndex:"StartedAt"`
	Duration    time.Duration
	ItemsSynced int
	Errors      []string
	DryRun      bool
	Trigger     string // "cli", "schedule", "api"

	// Per target, per data type write counts
	Written map[string]map[DataType]int
}

// Succeeded reports whether the run finished without any recorded error
func (r *SyncRun) Succeeded() bool {
	return len(r.Errors) == 0
}

// meta holds store-wide values such as the identifier cache format version
type meta struct {
	Key   string `boltholdKey:"Key"`
	Value int
}
