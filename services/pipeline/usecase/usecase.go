package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/kolla/backend/services/pipeline/consts"
	"github.com/kolla/backend/services/pipeline/document"
	"github.com/kolla/backend/services/pipeline/entity"
	"github.com/kolla/backend/services/pipeline/metrics"
	"github.com/kolla/backend/services/pipeline/scheduler"
	"github.com/kolla/backend/services/pipeline/storage"
	"github.com/kolla/backend/services/pipeline/transcriber"
	"github.com/kolla/backend/services/pipeline/transcript"
)

// Merger abstracts the audio merge engine for the job runner.
type Merger interface {
	Merge(ctx context.Context, meetingID string) (*entity.MergeResult, error)
}

// Builder abstracts the document builder.
type Builder interface {
	Build(meetingID string, entries []entity.TranscriptEntry) (*document.Document, error)
}

// Renderer abstracts the document-to-PDF collaborator.
type Renderer interface {
	RenderPDF(ctx context.Context, docPath, outDir string) (string, error)
}

type IngestRequest struct {
	MeetingID   string
	UserID      string
	DisplayName string
	Role        string
	Timestamp   string
	File        io.Reader
}

type Usecase interface {
	IngestChunk(ctx context.Context, req *IngestRequest) (*entity.Job, error)
	RequestAudioMerge(ctx context.Context, meetingID string) (*entity.Job, error)
	RequestTranscriptMerge(ctx context.Context, meetingID string) (*entity.Job, error)
	JobStatus(ctx context.Context, jobID string) (*entity.Job, error)
	LastMergeResult(ctx context.Context, meetingID string) (*entity.MergeResult, bool)

	ListMeetingFiles(ctx context.Context, meetingID, area string) ([]entity.MeetingFile, error)
	MeetingFilePath(ctx context.Context, meetingID, area, filename string) (string, error)
	ConvertPDF(ctx context.Context, meetingID string) (string, error)

	// ExecuteJob is the scheduler's runner; it is not called directly
	// by the gateway.
	ExecuteJob(ctx context.Context, job *entity.Job) error
}

type Options struct {
	// ClearCacheAfterBuild drops the meeting's transcript log once the
	// document and digest record are durably written.
	ClearCacheAfterBuild bool
}

type usecase struct {
	store    storage.Store
	cache    transcript.Cache
	merger   Merger
	builder  Builder
	renderer Renderer
	stt      transcriber.Transcriber
	sched    *scheduler.Scheduler
	met      *metrics.Metrics
	log      *slog.Logger
	opts     Options

	mu      sync.Mutex
	results map[string]*entity.MergeResult
}

func New(
	store storage.Store,
	cache transcript.Cache,
	merger Merger,
	builder Builder,
	renderer Renderer,
	stt transcriber.Transcriber,
	sched *scheduler.Scheduler,
	met *metrics.Metrics,
	log *slog.Logger,
	opts Options,
) Usecase {
	return &usecase{
		store:    store,
		cache:    cache,
		merger:   merger,
		builder:  builder,
		renderer: renderer,
		stt:      stt,
		sched:    sched,
		met:      met,
		log:      log,
		opts:     opts,
		results:  make(map[string]*entity.MergeResult),
	}
}

func (u *usecase) IngestChunk(ctx context.Context, req *IngestRequest) (*entity.Job, error) {
	if req.MeetingID == "" || req.UserID == "" || req.File == nil {
		return nil, fmt.Errorf("missing file or meeting_id or user_id")
	}

	captureTime := time.Now().UTC()
	if req.Timestamp != "" {
		if ts, err := time.Parse(consts.IngestTimestampLayout, req.Timestamp); err == nil {
			captureTime = ts
		}
	}

	chunk, err := u.store.SaveChunk(ctx, req.MeetingID, captureTime, req.UserID, req.File)
	if err != nil {
		return nil, err
	}

	job, err := u.sched.Enqueue(entity.JobSTT, req.MeetingID, &entity.STTPayload{
		ChunkPath:   chunk.Path,
		UserID:      req.UserID,
		DisplayName: req.DisplayName,
		Role:        req.Role,
		Timestamp:   captureTime.Format(consts.TimestampLayout),
	})
	if err != nil {
		return nil, err
	}

	u.log.Info("chunk ingested",
		slog.String("meeting_id", req.MeetingID),
		slog.String("user_id", req.UserID),
		slog.String("chunk", chunk.Filename),
		slog.Int64("size_bytes", chunk.SizeBytes),
		slog.String("job_id", job.ID))
	return job, nil
}

func (u *usecase) RequestAudioMerge(ctx context.Context, meetingID string) (*entity.Job, error) {
	if meetingID == "" {
		return nil, fmt.Errorf("missing meeting_id")
	}
	chunks, err := u.store.ListChunks(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, entity.ErrNoChunks
	}
	return u.sched.Enqueue(entity.JobMergeAudio, meetingID, nil)
}

func (u *usecase) RequestTranscriptMerge(ctx context.Context, meetingID string) (*entity.Job, error) {
	if meetingID == "" {
		return nil, fmt.Errorf("missing meeting_id")
	}
	return u.sched.Enqueue(entity.JobMergeTranscript, meetingID, nil)
}

func (u *usecase) JobStatus(ctx context.Context, jobID string) (*entity.Job, error) {
	return u.sched.Job(jobID)
}

func (u *usecase) LastMergeResult(ctx context.Context, meetingID string) (*entity.MergeResult, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	res, ok := u.results[meetingID]
	return res, ok
}

func (u *usecase) ListMeetingFiles(ctx context.Context, meetingID, area string) ([]entity.MeetingFile, error) {
	return u.store.ListFiles(ctx, meetingID, area)
}

func (u *usecase) MeetingFilePath(ctx context.Context, meetingID, area, filename string) (string, error) {
	return u.store.FilePath(meetingID, area, filename)
}

func (u *usecase) ConvertPDF(ctx context.Context, meetingID string) (string, error) {
	docPath, err := u.store.DocumentPath(meetingID)
	if err != nil {
		return "", err
	}
	return u.renderer.RenderPDF(ctx, docPath, u.store.FinalDir(meetingID))
}

func (u *usecase) ExecuteJob(ctx context.Context, job *entity.Job) error {
	switch job.Kind {
	case entity.JobSTT:
		return u.runSTT(ctx, job)
	case entity.JobMergeAudio:
		return u.runAudioMerge(ctx, job)
	case entity.JobMergeTranscript:
		return u.runTranscriptMerge(ctx, job)
	default:
		return fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

func (u *usecase) runSTT(ctx context.Context, job *entity.Job) error {
	if job.STT == nil {
		return fmt.Errorf("stt job %s has no payload", job.ID)
	}

	text, err := u.stt.Transcribe(ctx, job.STT.ChunkPath)
	if err != nil {
		return err
	}

	return u.cache.Append(ctx, job.MeetingID, entity.TranscriptEntry{
		Timestamp:   job.STT.Timestamp,
		UserID:      job.STT.UserID,
		DisplayName: job.STT.DisplayName,
		Role:        job.STT.Role,
		Text:        text,
		SourceFile:  job.STT.ChunkPath,
	})
}

func (u *usecase) runAudioMerge(ctx context.Context, job *entity.Job) error {
	res, err := u.merger.Merge(ctx, job.MeetingID)
	if err != nil {
		return err
	}

	u.mu.Lock()
	u.results[job.MeetingID] = res
	u.mu.Unlock()

	if u.met != nil {
		u.met.RecordMerge(res.ChunksMerged, res.ChunksSkipped)
	}
	return nil
}

func (u *usecase) runTranscriptMerge(ctx context.Context, job *entity.Job) error {
	entries, err := u.cache.ReadAll(ctx, job.MeetingID)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return entity.ErrEmptyTranscript
	}

	doc, err := u.builder.Build(job.MeetingID, entries)
	if err != nil {
		return err
	}

	docPath, err := u.store.WriteDocument(ctx, job.MeetingID, doc.Content)
	if err != nil {
		return err
	}
	sigPath, err := u.store.WriteSignatureRecord(ctx, job.MeetingID, doc.Record)
	if err != nil {
		return err
	}

	if err := u.store.AppendMergeLog(ctx, job.MeetingID,
		fmt.Sprintf("transcript built: %s (%d lines, digest %s)", docPath, doc.Record.LineCount, doc.Record.Algorithm),
		fmt.Sprintf("signature record: %s", sigPath)); err != nil {
		u.log.Warn("failed to append merge log",
			slog.String("meeting_id", job.MeetingID),
			slog.String("error", err.Error()))
	}

	// PDF rendering is best effort; the text document and digest record
	// are the durable artifacts the signing collaborator works from.
	if pdfPath, err := u.renderer.RenderPDF(ctx, docPath, u.store.FinalDir(job.MeetingID)); err != nil {
		u.log.Warn("pdf conversion failed, keeping text document",
			slog.String("meeting_id", job.MeetingID),
			slog.String("error", err.Error()))
	} else {
		u.log.Info("pdf rendered",
			slog.String("meeting_id", job.MeetingID),
			slog.String("pdf", pdfPath))
	}

	// Clear only after the document and digest hit disk, so a crash
	// between build and clear loses nothing.
	if u.opts.ClearCacheAfterBuild {
		if err := u.cache.Clear(ctx, job.MeetingID); err != nil {
			return err
		}
	}
	return nil
}
