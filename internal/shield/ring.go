package shield

import "github.com/Kweiss/Wardex/pkg/models"

// auditRingCapacity is the bounded audit history size spec.md §5
// requires (10,000 entries), mirroring the teacher's AlertManager
// maxHistory field (internal/heuristics/alert_system.go) but made its
// own explicit type rather than an inline slice-trim on a shared
// struct, per the dedicated-component recommendation in spec.md §9.
const auditRingCapacity = 10_000

// auditRing is a bounded FIFO buffer of AuditEntry values. Oldest
// entries are dropped once capacity is reached — the same
// append-then-trim-to-maxHistory discipline as
// AlertManager.recentAlerts, generalized into its own type so the
// Shield doesn't need to duplicate the trim logic.
type auditRing struct {
	entries []models.AuditEntry
	cap     int
}

func newAuditRing(capacity int) *auditRing {
	if capacity <= 0 {
		capacity = auditRingCapacity
	}
	return &auditRing{cap: capacity}
}

func (r *auditRing) push(e models.AuditEntry) {
	r.entries = append(r.entries, e)
	if len(r.entries) > r.cap {
		r.entries = r.entries[len(r.entries)-r.cap:]
	}
}

// recent returns the most recent n entries, newest first. n <= 0 means
// "all of them".
func (r *auditRing) recent(n int) []models.AuditEntry {
	if n <= 0 || n > len(r.entries) {
		n = len(r.entries)
	}
	out := make([]models.AuditEntry, n)
	start := len(r.entries) - n
	for i := 0; i < n; i++ {
		out[i] = r.entries[start+n-1-i]
	}
	return out
}

func (r *auditRing) len() int {
	return len(r.entries)
}
