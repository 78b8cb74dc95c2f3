// Package extract is the extraction engine: per-symbol workers that fetch,
// persist, and gap-heal one series, and the coordinator that runs them over
// a bounded pool and aggregates the outcome.
package extract

import (
	"time"
)

// RunStatus is the terminal state of a coordinator run. Interrupted is kept
// distinct from Failed so operators can tell an operator-initiated stop
// from a broken run.
type RunStatus int

const (
	RunSucceeded RunStatus = iota
	RunFailed
	RunInterrupted
)

func (s RunStatus) String() string {
	switch s {
	case RunSucceeded:
		return "succeeded"
	case RunFailed:
		return "failed"
	case RunInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// SymbolResult is the outcome of one symbol's extraction. It is mutated by
// its worker through the phases and immutable once handed to the
// coordinator.
type SymbolResult struct {
	Symbol         string
	RecordsFetched int
	RecordsWritten int
	GapsFound      int
	GapsFilled     int
	Err            error
	Duration       time.Duration
}

// RunResult aggregates all symbol results for one coordinator run. It is
// owned by the coordinator's consuming goroutine; workers never touch it.
type RunResult struct {
	Status           RunStatus
	TotalSymbols     int
	SymbolsProcessed int
	SymbolsFailed    int
	RecordsFetched   int
	RecordsWritten   int
	GapsFound        int
	GapsFilled       int
	Errors           []string
	Duration         time.Duration
}

// Success reports whether every symbol completed cleanly.
func (r *RunResult) Success() bool {
	return r.Status == RunSucceeded && r.SymbolsFailed == 0
}

// merge folds one symbol result into the aggregate.
func (r *RunResult) merge(sr SymbolResult) {
	r.RecordsFetched += sr.RecordsFetched
	r.RecordsWritten += sr.RecordsWritten
	r.GapsFound += sr.GapsFound
	r.GapsFilled += sr.GapsFilled
	if sr.Err != nil {
		r.SymbolsFailed++
		r.Errors = append(r.Errors, sr.Symbol+": "+sr.Err.Error())
		return
	}
	r.SymbolsProcessed++
}
