package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kolla/backend/services/pipeline/document"
	"github.com/kolla/backend/services/pipeline/entity"
	"github.com/kolla/backend/services/pipeline/scheduler"
	"github.com/kolla/backend/services/pipeline/storage"
	"github.com/kolla/backend/services/pipeline/transcript"
)

type fakeTranscriber struct {
	text string
	err  error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audioPath string) (string, error) {
	return f.text, f.err
}

type fakeRenderer struct {
	calls []string
	err   error
}

func (f *fakeRenderer) RenderPDF(ctx context.Context, docPath, outDir string) (string, error) {
	f.calls = append(f.calls, docPath)
	if f.err != nil {
		return "", f.err
	}
	return filepath.Join(outDir, "out.pdf"), nil
}

type fakeMerger struct {
	res *entity.MergeResult
	err error
}

func (f *fakeMerger) Merge(ctx context.Context, meetingID string) (*entity.MergeResult, error) {
	return f.res, f.err
}

type deps struct {
	store    storage.Store
	cache    transcript.Cache
	merger   *fakeMerger
	renderer *fakeRenderer
	stt      *fakeTranscriber
	sched    *scheduler.Scheduler
}

func newTestUsecase(t *testing.T, opts Options) (Usecase, *deps) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	d := &deps{
		store:    storage.New(t.TempDir(), nil),
		cache:    transcript.New(transcript.Options{}),
		merger:   &fakeMerger{},
		renderer: &fakeRenderer{},
		stt:      &fakeTranscriber{text: "hello there"},
		sched:    scheduler.New(scheduler.Config{Workers: 1, QueueSize: 8}, log, nil),
	}
	uc := New(d.store, d.cache, d.merger, document.NewBuilder("test-secret"), d.renderer,
		d.stt, d.sched, nil, log, opts)
	return uc, d
}

func TestIngestChunkSavesAndQueues(t *testing.T) {
	uc, d := newTestUsecase(t, Options{})
	ctx := context.Background()

	job, err := uc.IngestChunk(ctx, &IngestRequest{
		MeetingID:   "m1",
		UserID:      "u1",
		DisplayName: "Alice",
		Role:        "Chair",
		Timestamp:   "2025-03-14 10:00:00",
		File:        strings.NewReader("RIFFdata"),
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if job.Kind != entity.JobSTT || job.Status != entity.JobQueued {
		t.Errorf("job = %s/%s, want stt/queued", job.Kind, job.Status)
	}
	if job.STT == nil || job.STT.Timestamp != "14-03-2025_10-00-00" {
		t.Errorf("payload timestamp not normalized: %+v", job.STT)
	}

	chunks, err := d.store.ListChunks(ctx, "m1")
	if err != nil {
		t.Fatalf("list chunks: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("chunks = %d, want 1", len(chunks))
	}
	if chunks[0].UserID != "u1" {
		t.Errorf("chunk user = %s, want u1", chunks[0].UserID)
	}
}

func TestIngestChunkValidation(t *testing.T) {
	uc, _ := newTestUsecase(t, Options{})
	ctx := context.Background()

	cases := []struct {
		name string
		req  *IngestRequest
	}{
		{"missing meeting", &IngestRequest{UserID: "u1", File: strings.NewReader("x")}},
		{"missing user", &IngestRequest{MeetingID: "m1", File: strings.NewReader("x")}},
		{"missing file", &IngestRequest{MeetingID: "m1", UserID: "u1"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := uc.IngestChunk(ctx, tc.req); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestIngestChunkBadTimestampFallsBack(t *testing.T) {
	uc, _ := newTestUsecase(t, Options{})

	job, err := uc.IngestChunk(context.Background(), &IngestRequest{
		MeetingID: "m1",
		UserID:    "u1",
		Timestamp: "not-a-timestamp",
		File:      strings.NewReader("x"),
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	ts, err := time.Parse("02-01-2006_15-04-05", job.STT.Timestamp)
	if err != nil {
		t.Fatalf("payload timestamp unparsable: %v", err)
	}
	if time.Since(ts) > time.Minute {
		t.Errorf("fallback timestamp not near now: %v", ts)
	}
}

func TestRequestAudioMergeNoChunks(t *testing.T) {
	uc, _ := newTestUsecase(t, Options{})
	if _, err := uc.RequestAudioMerge(context.Background(), "m1"); !errors.Is(err, entity.ErrNoChunks) {
		t.Fatalf("err = %v, want ErrNoChunks", err)
	}
}

func TestRequestAudioMergeQueues(t *testing.T) {
	uc, d := newTestUsecase(t, Options{})
	ctx := context.Background()

	if _, err := d.store.SaveChunk(ctx, "m1", time.Now().UTC(), "u1", strings.NewReader("x")); err != nil {
		t.Fatalf("save chunk: %v", err)
	}
	job, err := uc.RequestAudioMerge(ctx, "m1")
	if err != nil {
		t.Fatalf("request merge: %v", err)
	}
	if job.Kind != entity.JobMergeAudio {
		t.Errorf("kind = %s, want merge_audio", job.Kind)
	}
}

func TestExecuteSTTAppendsToCache(t *testing.T) {
	uc, d := newTestUsecase(t, Options{})
	ctx := context.Background()

	err := uc.ExecuteJob(ctx, &entity.Job{
		ID:        "j1",
		Kind:      entity.JobSTT,
		MeetingID: "m1",
		STT: &entity.STTPayload{
			ChunkPath:   "/tmp/chunk.wav",
			UserID:      "u1",
			DisplayName: "Alice",
			Role:        "Chair",
			Timestamp:   "14-03-2025_10-00-00",
		},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	entries, _ := d.cache.ReadAll(ctx, "m1")
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if entries[0].Text != "hello there" {
		t.Errorf("text = %q", entries[0].Text)
	}
	if entries[0].Formatted != "[14-03-2025_10-00-00 - Alice - Chair] : hello there" {
		t.Errorf("formatted = %q", entries[0].Formatted)
	}
}

func TestExecuteSTTTranscriberFailure(t *testing.T) {
	uc, d := newTestUsecase(t, Options{})
	d.stt.err = errors.New("model crashed")

	err := uc.ExecuteJob(context.Background(), &entity.Job{
		ID:        "j1",
		Kind:      entity.JobSTT,
		MeetingID: "m1",
		STT:       &entity.STTPayload{ChunkPath: "/tmp/chunk.wav", UserID: "u1"},
	})
	if err == nil {
		t.Fatal("expected transcriber error")
	}
	if n := d.cache.Len(context.Background(), "m1"); n != 0 {
		t.Errorf("cache entries = %d, want 0 after failure", n)
	}
}

func TestExecuteAudioMergeStoresResult(t *testing.T) {
	uc, d := newTestUsecase(t, Options{})
	d.merger.res = &entity.MergeResult{
		MeetingID:    "m1",
		OutputPath:   "/meetings/m1/final/merged.ogg",
		ChunksMerged: 3,
	}

	if err := uc.ExecuteJob(context.Background(), &entity.Job{ID: "j1", Kind: entity.JobMergeAudio, MeetingID: "m1"}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	res, ok := uc.LastMergeResult(context.Background(), "m1")
	if !ok || res.ChunksMerged != 3 {
		t.Errorf("result = %+v, ok = %v", res, ok)
	}
}

func TestExecuteAudioMergeFailure(t *testing.T) {
	uc, d := newTestUsecase(t, Options{})
	d.merger.err = entity.ErrAllChunksUnreadable

	err := uc.ExecuteJob(context.Background(), &entity.Job{ID: "j1", Kind: entity.JobMergeAudio, MeetingID: "m1"})
	if !errors.Is(err, entity.ErrAllChunksUnreadable) {
		t.Fatalf("err = %v, want ErrAllChunksUnreadable", err)
	}
	if _, ok := uc.LastMergeResult(context.Background(), "m1"); ok {
		t.Error("failed merge must not record a result")
	}
}

func TestExecuteTranscriptMergeWritesArtifacts(t *testing.T) {
	uc, d := newTestUsecase(t, Options{ClearCacheAfterBuild: true})
	ctx := context.Background()

	seed := []entity.TranscriptEntry{
		{Timestamp: "14-03-2025_10-00-00", UserID: "u1", DisplayName: "Alice", Role: "Chair", Text: "first point"},
		{Timestamp: "14-03-2025_10-02-00", UserID: "u2", DisplayName: "Bob", Role: "Member", Text: "second point"},
	}
	for _, e := range seed {
		if err := d.cache.Append(ctx, "m1", e); err != nil {
			t.Fatalf("seed cache: %v", err)
		}
	}

	if err := uc.ExecuteJob(ctx, &entity.Job{ID: "j1", Kind: entity.JobMergeTranscript, MeetingID: "m1"}); err != nil {
		t.Fatalf("execute: %v", err)
	}

	docPath, err := d.store.DocumentPath("m1")
	if err != nil {
		t.Fatalf("document missing: %v", err)
	}
	content, err := os.ReadFile(docPath)
	if err != nil {
		t.Fatalf("read document: %v", err)
	}
	if !strings.Contains(string(content), "[14-03-2025_10-00-00 - Alice - Chair] : first point") {
		t.Error("document missing first transcript line")
	}
	if !strings.Contains(string(content), "Digital signature (HMAC-SHA256): ") {
		t.Error("document missing digest trailer")
	}

	sigPath := filepath.Join(d.store.FinalDir("m1"), "m1.signature.json")
	if _, err := os.Stat(sigPath); err != nil {
		t.Errorf("signature record missing: %v", err)
	}

	if len(d.renderer.calls) != 1 || d.renderer.calls[0] != docPath {
		t.Errorf("renderer calls = %v, want [%s]", d.renderer.calls, docPath)
	}

	if n := d.cache.Len(ctx, "m1"); n != 0 {
		t.Errorf("cache entries = %d, want 0 after build", n)
	}
}

func TestExecuteTranscriptMergeKeepsCacheWhenConfigured(t *testing.T) {
	uc, d := newTestUsecase(t, Options{ClearCacheAfterBuild: false})
	ctx := context.Background()

	if err := d.cache.Append(ctx, "m1", entity.TranscriptEntry{
		Timestamp: "14-03-2025_10-00-00", UserID: "u1", Text: "kept",
	}); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	if err := uc.ExecuteJob(ctx, &entity.Job{ID: "j1", Kind: entity.JobMergeTranscript, MeetingID: "m1"}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if n := d.cache.Len(ctx, "m1"); n != 1 {
		t.Errorf("cache entries = %d, want 1", n)
	}
}

func TestExecuteTranscriptMergeEmpty(t *testing.T) {
	uc, _ := newTestUsecase(t, Options{})
	err := uc.ExecuteJob(context.Background(), &entity.Job{ID: "j1", Kind: entity.JobMergeTranscript, MeetingID: "m1"})
	if !errors.Is(err, entity.ErrEmptyTranscript) {
		t.Fatalf("err = %v, want ErrEmptyTranscript", err)
	}
}

func TestTranscriptMergeSurvivesPDFFailure(t *testing.T) {
	uc, d := newTestUsecase(t, Options{ClearCacheAfterBuild: true})
	ctx := context.Background()
	d.renderer.err = errors.New("soffice not installed")

	if err := d.cache.Append(ctx, "m1", entity.TranscriptEntry{
		Timestamp: "14-03-2025_10-00-00", UserID: "u1", Text: "point",
	}); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	if err := uc.ExecuteJob(ctx, &entity.Job{ID: "j1", Kind: entity.JobMergeTranscript, MeetingID: "m1"}); err != nil {
		t.Fatalf("pdf failure must not fail the job: %v", err)
	}
	if _, err := d.store.DocumentPath("m1"); err != nil {
		t.Errorf("document missing: %v", err)
	}
	if n := d.cache.Len(ctx, "m1"); n != 0 {
		t.Errorf("cache entries = %d, want 0", n)
	}
}

func TestConvertPDFMissingDocument(t *testing.T) {
	uc, _ := newTestUsecase(t, Options{})
	if _, err := uc.ConvertPDF(context.Background(), "m1"); !errors.Is(err, entity.ErrFileNotFound) {
		t.Fatalf("err = %v, want ErrFileNotFound", err)
	}
}

func TestMeetingFilePathTraversalRejected(t *testing.T) {
	uc, _ := newTestUsecase(t, Options{})
	if _, err := uc.MeetingFilePath(context.Background(), "m1", "final", "../secret"); !errors.Is(err, entity.ErrFileNotFound) {
		t.Fatalf("err = %v, want ErrFileNotFound", err)
	}
}
