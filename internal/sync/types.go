package sync

import (
	"sync/atomic"
	"time"
)

// ActionKind tags an Action
type ActionKind int

const (
	ActionCopy ActionKind = iota
	ActionDelete
)

func (k ActionKind) String() string {
	switch k {
	case ActionCopy:
		return "copy"
	case ActionDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Action is one planned change to the destination tree
type Action struct {
	Kind       ActionKind
	RelPath    string // identity key shared by both trees
	SourcePath string // absolute path in source tree; empty for deletes
	DestPath   string // absolute path in destination tree
}

// Plan represents the sync operations to perform
type Plan struct {
	Copy   []Action
	Delete []Action
}

// Actions returns every planned action, copies first.
func (p *Plan) Actions() []Action {
	actions := make([]Action, 0, p.Len())
	actions = append(actions, p.Copy...)
	return append(actions, p.Delete...)
}

// Len returns the number of planned actions.
func (p *Plan) Len() int {
	return len(p.Copy) + len(p.Delete)
}

// Empty reports whether the destination already mirrors the source.
func (p *Plan) Empty() bool {
	return p.Len() == 0
}

// Result accumulates per-action outcomes. It is shared by all workers of a
// run; every counter is updated atomically.
type Result struct {
	copied     atomic.Int64
	deleted    atomic.Int64
	normalized atomic.Int64
	skipped    atomic.Int64
	failed     atomic.Int64
}

// Summary is a point-in-time copy of a Result
type Summary struct {
	Planned    int           `json:"planned"`
	Copied     int64         `json:"copied"`
	Deleted    int64         `json:"deleted"`
	Normalized int64         `json:"normalized"`
	Skipped    int64         `json:"skipped"` // copied, but left un-normalized
	Failed     int64         `json:"failed"`
	Duration   time.Duration `json:"duration"`
	DryRun     bool          `json:"dry_run"`
}

// Summary snapshots the counters.
func (r *Result) Summary() Summary {
	return Summary{
		Copied:     r.copied.Load(),
		Deleted:    r.deleted.Load(),
		Normalized: r.normalized.Load(),
		Skipped:    r.skipped.Load(),
		Failed:     r.failed.Load(),
	}
}
