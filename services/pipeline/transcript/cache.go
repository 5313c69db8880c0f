package transcript

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kolla/backend/services/pipeline/consts"
	"github.com/kolla/backend/services/pipeline/entity"
)

const DefaultCoalesceGap = 35 * time.Second

// Cache is the ordered, append-only transcript log per meeting. Append
// applies the coalescing rule against the current last entry, so calls
// for the same meeting are serialized behind a per-meeting lock.
type Cache interface {
	Append(ctx context.Context, meetingID string, entry entity.TranscriptEntry) error
	ReadAll(ctx context.Context, meetingID string) ([]entity.TranscriptEntry, error)
	Clear(ctx context.Context, meetingID string) error
	Len(ctx context.Context, meetingID string) int
}

type Options struct {
	// CoalesceGap is the largest capture-time gap that still merges a
	// new entry into the previous one. Inclusive: a gap equal to the
	// threshold coalesces, one second past it does not.
	CoalesceGap time.Duration
}

type cache struct {
	mu   sync.Mutex
	logs map[string]*meetingLog
	gap  time.Duration
}

type meetingLog struct {
	mu      sync.Mutex
	entries []entity.TranscriptEntry
}

func New(opts Options) Cache {
	gap := opts.CoalesceGap
	if gap <= 0 {
		gap = DefaultCoalesceGap
	}
	return &cache{
		logs: make(map[string]*meetingLog),
		gap:  gap,
	}
}

func (c *cache) logFor(meetingID string) *meetingLog {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.logs[meetingID]
	if !ok {
		l = &meetingLog{}
		c.logs[meetingID] = l
	}
	return l
}

func (c *cache) Append(ctx context.Context, meetingID string, entry entity.TranscriptEntry) error {
	if meetingID == "" {
		return fmt.Errorf("missing meeting id")
	}
	if entry.UserID == "" {
		return fmt.Errorf("missing user id on transcript entry")
	}

	l := c.logFor(meetingID)
	l.mu.Lock()
	defer l.mu.Unlock()

	if n := len(l.entries); n > 0 {
		last := &l.entries[n-1]
		if c.coalesces(*last, entry) {
			last.Text = strings.TrimSpace(last.Text + " " + entry.Text)
			last.Formatted = FormatLine(*last)
			return nil
		}
	}

	entry.Formatted = FormatLine(entry)
	l.entries = append(l.entries, entry)
	return nil
}

// coalesces reports whether next continues the same utterance as last.
// The gap is measured from the coalesced entry's capture time, so a long
// run of short fragments stops coalescing once it spans the threshold.
func (c *cache) coalesces(last, next entity.TranscriptEntry) bool {
	if last.UserID != next.UserID {
		return false
	}
	if strings.TrimSpace(last.DisplayName) != strings.TrimSpace(next.DisplayName) {
		return false
	}
	if strings.TrimSpace(last.Role) != strings.TrimSpace(next.Role) {
		return false
	}

	tLast, err := time.Parse(consts.TimestampLayout, last.Timestamp)
	if err != nil {
		return false
	}
	tNext, err := time.Parse(consts.TimestampLayout, next.Timestamp)
	if err != nil {
		return false
	}

	return tNext.Sub(tLast) <= c.gap
}

func (c *cache) ReadAll(ctx context.Context, meetingID string) ([]entity.TranscriptEntry, error) {
	l := c.logFor(meetingID)
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]entity.TranscriptEntry, len(l.entries))
	copy(out, l.entries)
	return out, nil
}

func (c *cache) Clear(ctx context.Context, meetingID string) error {
	c.mu.Lock()
	l, ok := c.logs[meetingID]
	if ok {
		delete(c.logs, meetingID)
	}
	c.mu.Unlock()

	if ok {
		// Let an in-flight Append on the old log finish before the
		// entries become unreachable.
		l.mu.Lock()
		l.entries = nil
		l.mu.Unlock()
	}
	return nil
}

func (c *cache) Len(ctx context.Context, meetingID string) int {
	l := c.logFor(meetingID)
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// FormatLine renders the stable display line digests are computed over:
// [<ts> - <displayName or "Unknown"> - <role or "N/A">] : <text>
func FormatLine(e entity.TranscriptEntry) string {
	name := strings.TrimSpace(e.DisplayName)
	if name == "" {
		name = "Unknown"
	}
	role := strings.TrimSpace(e.Role)
	if role == "" {
		role = "N/A"
	}
	return fmt.Sprintf("[%s - %s - %s] : %s", e.Timestamp, name, role, strings.TrimSpace(e.Text))
}
