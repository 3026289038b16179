package middleware

import (
	"sync"
	"time"
)

// DefaultSuspiciousThreshold is the number of suspicious reports within the
// tracking period that triggers an automatic block.
const DefaultSuspiciousThreshold = 5

// DefaultTrackingPeriod bounds how long suspicious reports count toward the
// auto-block threshold.
const DefaultTrackingPeriod = time.Hour

// BlockEntry records why and when an address was blocked.
type BlockEntry struct {
	IP        string    `json:"ip"`
	Reason    string    `json:"reason"`
	BlockedAt time.Time `json:"blocked_at"`
}

type activityRecord struct {
	count       int
	firstReport time.Time
	lastReport  time.Time
}

// Blocklist tracks blocked IPs and per-IP suspicious-activity counters.
type Blocklist struct {
	mu         sync.Mutex
	blocked    map[string]BlockEntry
	suspicious map[string]*activityRecord
	threshold  int
	tracking   time.Duration
	clock      func() time.Time
}

// NewBlocklist creates an empty blocklist. Zero threshold and tracking fall
// back to the defaults; clock may be nil to use wall time.
func NewBlocklist(threshold int, tracking time.Duration, clock func() time.Time) *Blocklist {
	if threshold <= 0 {
		threshold = DefaultSuspiciousThreshold
	}
	if tracking <= 0 {
		tracking = DefaultTrackingPeriod
	}
	if clock == nil {
		clock = time.Now
	}
	return &Blocklist{
		blocked:    make(map[string]BlockEntry),
		suspicious: make(map[string]*activityRecord),
		threshold:  threshold,
		tracking:   tracking,
		clock:      clock,
	}
}

// Block adds ip to the blocklist. Blocking an already blocked address keeps
// the original entry.
func (b *Blocklist) Block(ip, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.blocked[ip]; exists {
		return
	}
	b.blocked[ip] = BlockEntry{IP: ip, Reason: reason, BlockedAt: b.clock()}
}

// Unblock removes ip from the blocklist and clears its suspicion counter.
// Returns false if the address was not blocked.
func (b *Blocklist) Unblock(ip string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.blocked[ip]; !exists {
		return false
	}
	delete(b.blocked, ip)
	delete(b.suspicious, ip)
	return true
}

// IsBlocked reports whether ip is currently blocked.
func (b *Blocklist) IsBlocked(ip string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, blocked := b.blocked[ip]
	return blocked
}

// ReportSuspicious increments the suspicion counter for ip. Counters older
// than the tracking period restart from one. It returns the updated count and
// whether the address crossed the auto-block threshold on this report.
func (b *Blocklist) ReportSuspicious(ip string) (count int, shouldBlock bool) {
	now := b.clock()

	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.suspicious[ip]
	if !ok || now.Sub(rec.firstReport) > b.tracking {
		rec = &activityRecord{count: 0, firstReport: now}
		b.suspicious[ip] = rec
	}
	rec.count++
	rec.lastReport = now

	_, alreadyBlocked := b.blocked[ip]
	return rec.count, rec.count >= b.threshold && !alreadyBlocked
}

// Blocked returns a snapshot of all block entries.
func (b *Blocklist) Blocked() []BlockEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	entries := make([]BlockEntry, 0, len(b.blocked))
	for _, e := range b.blocked {
		entries = append(entries, e)
	}
	return entries
}

// Size returns the number of blocked addresses.
func (b *Blocklist) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.blocked)
}
