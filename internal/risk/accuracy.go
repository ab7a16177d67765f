package risk

import (
	"sync"
	"time"

	"floodguard/internal/types"
)

// DefaultAccuracyLogSize bounds each location's accuracy log.
const DefaultAccuracyLogSize = 100

// AccuracyLog is a bounded FIFO of past prediction outcomes for one
// location. It is safe for concurrent use.
type AccuracyLog struct {
	mu      sync.Mutex
	size    int
	records []types.AccuracyRecord
}

// NewAccuracyLog creates an empty log holding at most size entries.
func NewAccuracyLog(size int) *AccuracyLog {
	if size <= 0 {
		size = DefaultAccuracyLogSize
	}
	return &AccuracyLog{size: size, records: make([]types.AccuracyRecord, 0, size)}
}

// Record appends an outcome, evicting the oldest entry when full.
// A prediction is correct within one level of the actual one, since observed
// water states never map to moderate.
func (l *AccuracyLog) Record(predicted, actual types.RiskLevel, at time.Time) types.AccuracyRecord {
	rec := types.AccuracyRecord{
		Predicted:  predicted,
		Actual:     actual,
		Correct:    withinOneLevel(predicted, actual),
		RecordedAt: at,
	}
	l.Append(rec)
	return rec
}

func withinOneLevel(predicted, actual types.RiskLevel) bool {
	p, a := predicted.Ordinal(), actual.Ordinal()
	if p < 0 || a < 0 {
		return false
	}
	return max(p-a, a-p) <= 1
}

// Append adds pre-built records in order, e.g. when hydrating from storage.
func (l *AccuracyLog) Append(records ...types.AccuracyRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, records...)
	if over := len(l.records) - l.size; over > 0 {
		l.records = append(l.records[:0:0], l.records[over:]...)
	}
}

// Snapshot returns a copy of the log, oldest first.
func (l *AccuracyLog) Snapshot() []types.AccuracyRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]types.AccuracyRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Len returns the number of entries.
func (l *AccuracyLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Accuracy is the share of correct entries; 0.5 when empty.
func (l *AccuracyLog) Accuracy() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.records) == 0 {
		return 0.5
	}
	correct := 0
	for _, r := range l.records {
		if r.Correct {
			correct++
		}
	}
	return float64(correct) / float64(len(l.records))
}
