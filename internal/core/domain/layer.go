package domain

import "time"

// Layer names served by the overlay.
const (
	LayerPhotos    = "photos"
	LayerMapillary = "mapillary"
	LayerTasks     = "tasks"
)

// ScanDirectory is a directory (relative to each mount point) that the photo
// indexer walks, with the time of its last completed scan.
type ScanDirectory struct {
	Dir      string    `json:"dir"`
	LastScan time.Time `json:"last_scan"`
}

// DefaultScanDirectories are seeded into an empty seed store.
var DefaultScanDirectories = []string{"DCIM", "Vespucci", "osmtracker"}

// LayerInfo summarises a layer for listings.
type LayerInfo struct {
	Name   string  `json:"name"`
	Count  int     `json:"count"`
	Height int     `json:"height"`
	Dirty  bool    `json:"dirty"`
	Extent *Bounds `json:"extent,omitempty"`
}

// Batch is a group of changes destined for one layer: keys to remove,
// applied first, and objects to insert.
type Batch struct {
	Layer   string
	Objects []Object
	Removed []string
}

// InsertEvent is broadcast after a batch has been applied to a layer.
type InsertEvent struct {
	Layer    string    `json:"layer"`
	Inserted int       `json:"inserted"`
	Rejected int       `json:"rejected"`
	Removed  int       `json:"removed"`
	Count    int       `json:"count"`
	Extent   *Bounds   `json:"extent,omitempty"`
	At       time.Time `json:"at"`
}

// SaveResult reports what a save attempt did.
type SaveResult int

const (
	SaveFailed SaveResult = iota
	SaveWritten
	// SaveSkippedClean means nothing changed since the last successful save.
	SaveSkippedClean
	// SaveSkippedLocked means another save or a restore held the guard.
	SaveSkippedLocked
)

func (r SaveResult) String() string {
	switch r {
	case SaveFailed:
		return "failed"
	case SaveWritten:
		return "written"
	case SaveSkippedClean:
		return "skipped_clean"
	case SaveSkippedLocked:
		return "skipped_locked"
	default:
		return "unknown"
	}
}

// RestoreResult reports what a restore attempt did.
type RestoreResult int

const (
	RestoreFailed RestoreResult = iota
	Restored
	// RestoreSkippedNotEmpty means the layer already held data.
	RestoreSkippedNotEmpty
	// RestoreNoSnapshot means there was nothing to restore.
	RestoreNoSnapshot
	// RestoreRebuild means the snapshot was unusable and a rebuild was requested.
	RestoreRebuild
)

func (r RestoreResult) String() string {
	switch r {
	case RestoreFailed:
		return "failed"
	case Restored:
		return "restored"
	case RestoreSkippedNotEmpty:
		return "skipped_not_empty"
	case RestoreNoSnapshot:
		return "no_snapshot"
	case RestoreRebuild:
		return "rebuild"
	default:
		return "unknown"
	}
}
