// Package timeline exports a completed run as a versioned, serializable
// record suitable for diagnostics endpoints and log attachments.
package timeline

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/veggerby/ignition"
)

// ExportVersion is bumped when the export shape changes incompatibly.
const ExportVersion = 1

// Entry is one signal on the timeline. Offsets are measured from the start
// of the run.
type Entry struct {
	Name                string   `json:"name"`
	Status              string   `json:"status"`
	Stage               int      `json:"stage"`
	OffsetMS            int64    `json:"offsetMs"`
	DurationMS          int64    `json:"durationMs"`
	Error               string   `json:"error,omitempty"`
	CancelReason        string   `json:"cancelReason,omitempty"`
	CancelTrigger       string   `json:"cancelTrigger,omitempty"`
	FailedPrerequisites []string `json:"failedPrerequisites,omitempty"`
}

// Export is the full timeline of a run.
type Export struct {
	Version                int       `json:"version"`
	RunID                  string    `json:"runId"`
	StartedAt              time.Time `json:"startedAt"`
	DurationMS             int64     `json:"durationMs"`
	Health                 string    `json:"health"`
	TimedOut               bool      `json:"timedOut"`
	GlobalDeadlineObserved bool      `json:"globalDeadlineObserved"`
	Entries                []Entry   `json:"entries"`
}

// FromResult builds the export. Entries are ordered by start offset, then by
// name for stability.
func FromResult(res *ignition.Result) *Export {
	entries := lo.Map(res.Signals, func(s ignition.SignalResult, _ int) Entry {
		e := Entry{
			Name:                s.Name,
			Status:              s.Status.String(),
			Stage:               s.Stage,
			OffsetMS:            s.StartedAt.Sub(res.StartedAt).Milliseconds(),
			DurationMS:          s.Duration.Milliseconds(),
			FailedPrerequisites: s.FailedPrerequisites,
		}
		if s.Err != nil {
			e.Error = s.Err.Error()
		}
		if s.Status == ignition.StatusCanceled {
			e.CancelReason = s.CancelReason.String()
			e.CancelTrigger = s.CancelTrigger
		}
		return e
	})

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].OffsetMS != entries[j].OffsetMS {
			return entries[i].OffsetMS < entries[j].OffsetMS
		}
		return entries[i].Name < entries[j].Name
	})

	return &Export{
		Version:                ExportVersion,
		RunID:                  res.RunID,
		StartedAt:              res.StartedAt,
		DurationMS:             res.Duration.Milliseconds(),
		Health:                 ignition.HealthOf(res).String(),
		TimedOut:               res.TimedOut,
		GlobalDeadlineObserved: res.GlobalDeadlineObserved,
		Entries:                entries,
	}
}

// JSON renders the export.
func (e *Export) JSON() ([]byte, error) {
	return json.Marshal(e)
}
