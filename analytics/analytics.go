package analytics

import (
	"context"
	"sync"

	"github.com/mohitkumar/loanflow/model"
)

type DataCollectorConfig struct {
	FileName      string
	CollectorType DataCollectorType
}

type DataCollectorType string

const LOG_FILE_DATA_COLLECTOR DataCollectorType = "LOG_FILE_DATA_COLLECTOR"
const MEMORY_DATA_COLLECTOR DataCollectorType = "MEMORY_DATA_COLLECTOR"

// AuditSink is an append-only record of every transition and vote.
type AuditSink interface {
	Record(ctx context.Context, entry model.AuditEntry) error
}

func NewDataCollector(config DataCollectorConfig) (AuditSink, error) {
	switch config.CollectorType {
	case LOG_FILE_DATA_COLLECTOR:
		return NewLogFileDataCollector(config.FileName)
	default:
		return NewMemoryDataCollector(), nil
	}
}

type MemoryDataCollector struct {
	mu      sync.Mutex
	entries []model.AuditEntry
}

func NewMemoryDataCollector() *MemoryDataCollector {
	return &MemoryDataCollector{}
}

func (mc *MemoryDataCollector) Record(ctx context.Context, entry model.AuditEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.entries = append(mc.entries, entry)
	return nil
}

func (mc *MemoryDataCollector) Entries() []model.AuditEntry {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	out := make([]model.AuditEntry, len(mc.entries))
	copy(out, mc.entries)
	return out
}
