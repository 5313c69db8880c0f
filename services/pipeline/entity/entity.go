package entity

import "time"

type JobKind string

const (
	JobSTT             JobKind = "stt"
	JobMergeAudio      JobKind = "merge_audio"
	JobMergeTranscript JobKind = "merge_transcript"
)

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// STTPayload carries everything a worker needs to transcribe one chunk
// and append the result to the transcript log.
type STTPayload struct {
	ChunkPath   string
	UserID      string
	DisplayName string
	Role        string
	Timestamp   string
}

type Job struct {
	ID         string     `json:"job_id"`
	Kind       JobKind    `json:"kind"`
	MeetingID  string     `json:"meeting_id"`
	STT        *STTPayload `json:"-"`
	Status     JobStatus  `json:"status"`
	EnqueuedAt time.Time  `json:"enqueued_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// TranscriptEntry is one unit of transcribed speech. Timestamp keeps the
// raw dd-MM-yyyy_HH-mm-ss string; an unparsable value only disables
// coalescing, it never drops the entry.
type TranscriptEntry struct {
	Timestamp   string `json:"ts"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"full_name"`
	Role        string `json:"role"`
	Text        string `json:"text"`
	Formatted   string `json:"formatted"`
	SourceFile  string `json:"source_file,omitempty"`
}

// AudioChunk describes one uploaded fragment on disk. CaptureTime comes
// from the filename prefix; TimeParsed is false when the prefix was
// unparsable and the file mod time was used instead.
type AudioChunk struct {
	Path        string
	Filename    string
	UserID      string
	CaptureTime time.Time
	SizeBytes   int64
	TimeParsed  bool
}

type MergeResult struct {
	MeetingID     string    `json:"meeting_id"`
	OutputPath    string    `json:"output"`
	ChunksMerged  int       `json:"chunks_merged"`
	ChunksSkipped int       `json:"chunks_skipped"`
	Warnings      []string  `json:"warnings,omitempty"`
	CompletedAt   time.Time `json:"completed_at"`
}

// SignatureRecord is the independently verifiable digest persisted next
// to the document. Field names match the record the signing collaborator
// consumes.
type SignatureRecord struct {
	MeetingID string `json:"meeting_id"`
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
	CreatedAt string `json:"created"`
	LineCount int    `json:"line_count"`
}

type MeetingFile struct {
	Filename string `json:"filename"`
	Date     string `json:"date"`
	Size     int64  `json:"size"`
	URL      string `json:"url"`
}
