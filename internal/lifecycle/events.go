package lifecycle

import (
	"time"

	"go.uber.org/zap"
)

// AuditEntry is one lifecycle event in the audit log.
type AuditEntry struct {
	Time     time.Time `json:"ts"`
	Op       string    `json:"op"`
	Owner    string    `json:"owner"`
	RecordID int64     `json:"record_id,omitempty"`
	LiveID   string    `json:"live_id,omitempty"`
	Name     string    `json:"name,omitempty"`
	Kind     string    `json:"kind,omitempty"`
	Result   string    `json:"result"`
	Detail   string    `json:"detail,omitempty"`
}

// AuditLogger persists audit entries.
type AuditLogger interface {
	WriteAudit(e AuditEntry) error
}

func (m *Manager) writeAudit(e AuditEntry) {
	if m.audit == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = m.now().UTC()
	}
	if err := m.audit.WriteAudit(e); err != nil {
		m.logger.Warn("audit write failed", zap.String("op", e.Op), zap.Error(err))
	}
}

// Notice codes pushed to owners.
const (
	NoticeDistanceWarning = "DISTANCE_WARNING"
	NoticeDistanceCleared = "DISTANCE_CLEARED"
	NoticeAutoStored      = "AUTO_STORED"
	NoticeStoreFailed     = "STORE_FAILED"
	NoticeMountDied       = "MOUNT_DIED"
)

// Notice is an unsolicited message for an owner.
type Notice struct {
	Owner    string        `json:"owner"`
	Code     string        `json:"code"`
	RecordID int64         `json:"record_id,omitempty"`
	LiveID   string        `json:"live_id,omitempty"`
	Name     string        `json:"name,omitempty"`
	Distance float64       `json:"distance,omitempty"`
	Grace    time.Duration `json:"grace,omitempty"`
}

// Notifier delivers notices. Notify is called on the simulation loop and must not block.
type Notifier interface {
	Notify(n Notice)
}

type NotifierFunc func(Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }
