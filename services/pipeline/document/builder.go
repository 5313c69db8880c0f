package document

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/kolla/backend/services/pipeline/entity"
	"github.com/kolla/backend/services/pipeline/transcript"
)

const (
	AlgorithmHMACSHA256 = "HMAC-SHA256"
	AlgorithmSHA256     = "SHA256"
)

// Builder renders the coalesced transcript log into the meeting minutes
// document and computes the content-integrity digest over its exact
// ordered lines. The digest is deterministic: identical logs always
// yield identical values for the same algorithm and secret.
type Builder struct {
	secret []byte
	now    func() time.Time
}

type Document struct {
	Lines   []string
	Content []byte
	Record  entity.SignatureRecord
}

func NewBuilder(secret string) *Builder {
	b := &Builder{now: func() time.Time { return time.Now().UTC() }}
	if secret != "" {
		b.secret = []byte(secret)
	}
	return b
}

func (b *Builder) Build(meetingID string, entries []entity.TranscriptEntry) (*Document, error) {
	if len(entries) == 0 {
		return nil, entity.ErrEmptyTranscript
	}

	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		line := e.Formatted
		if line == "" {
			line = transcript.FormatLine(e)
		}
		lines = append(lines, line)
	}

	rec := b.digest(meetingID, lines)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Meeting minutes: %s\n", meetingID)
	fmt.Fprintf(&sb, "Created: %s\n\n", b.now().Format("02/01/2006 15:04:05 UTC"))
	for _, line := range lines {
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	sb.WriteByte('\n')
	fmt.Fprintf(&sb, "Digital signature (%s): %s\n", rec.Algorithm, rec.Value)
	fmt.Fprintf(&sb, "Signature created at: %s\n", rec.CreatedAt)

	return &Document{
		Lines:   lines,
		Content: []byte(sb.String()),
		Record:  rec,
	}, nil
}

// digest hashes the newline-joined lines exactly as rendered, with no
// trailing modification.
func (b *Builder) digest(meetingID string, lines []string) entity.SignatureRecord {
	payload := []byte(strings.Join(lines, "\n"))

	var value, algorithm string
	if len(b.secret) > 0 {
		mac := hmac.New(sha256.New, b.secret)
		mac.Write(payload)
		value = hex.EncodeToString(mac.Sum(nil))
		algorithm = AlgorithmHMACSHA256
	} else {
		sum := sha256.Sum256(payload)
		value = hex.EncodeToString(sum[:])
		algorithm = AlgorithmSHA256
	}

	return entity.SignatureRecord{
		MeetingID: meetingID,
		Algorithm: algorithm,
		Value:     value,
		CreatedAt: b.now().Format("2006-01-02T15:04:05Z"),
		LineCount: len(lines),
	}
}
