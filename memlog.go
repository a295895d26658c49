package gotxm

import (
	"context"
	"sync"
)

// MemoryTXLog 内存中的事务日志，用于非持久化模式和测试
type MemoryTXLog struct {
	mu      sync.Mutex
	records []LogRecord
	// 出现过的 id 范围，Forget 之后仍然保留
	low, high int64
}

func NewMemoryTXLog() *MemoryTXLog {
	return &MemoryTXLog{}
}

func (m *MemoryTXLog) Append(ctx context.Context, record *LogRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, cloneLogRecord(record))
	if record.TXID < m.low {
		m.low = record.TXID
	}
	if record.TXID > m.high {
		m.high = record.TXID
	}
	return nil
}

func (m *MemoryTXLog) Watermark(ctx context.Context) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.low, m.high, nil
}

func (m *MemoryTXLog) Replay(ctx context.Context, fn func(record *LogRecord) error) error {
	m.mu.Lock()
	records := make([]LogRecord, len(m.records))
	copy(records, m.records)
	m.mu.Unlock()

	for i := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		record := cloneLogRecord(&records[i])
		if err := fn(&record); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryTXLog) Forget(ctx context.Context, txID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.records[:0]
	for _, record := range m.records {
		if record.TXID == txID {
			continue
		}
		kept = append(kept, record)
	}
	m.records = kept
	return nil
}

// Records 返回当前日志的拷贝
func (m *MemoryTXLog) Records() []LogRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	records := make([]LogRecord, 0, len(m.records))
	for i := range m.records {
		records = append(records, cloneLogRecord(&m.records[i]))
	}
	return records
}

func cloneLogRecord(record *LogRecord) LogRecord {
	cloned := *record
	if record.Participant != nil {
		p := *record.Participant
		cloned.Participant = &p
	}
	if record.Participants != nil {
		cloned.Participants = append([]ParticipantInfo(nil), record.Participants...)
	}
	return cloned
}
