package audio

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

	"github.com/kolla/backend/services/pipeline/consts"
	"github.com/kolla/backend/services/pipeline/entity"
	"github.com/kolla/backend/services/pipeline/storage"
)

// fakeTranscoder stands in for ffmpeg: Probe fails for configured files,
// ConcatWAV records the list order and writes the output, EncodeOpus
// copies or fails on demand.
type fakeTranscoder struct {
	unreadable map[string]bool
	failEncode bool
	concatted  []string
}

func (f *fakeTranscoder) Probe(ctx context.Context, path string) error {
	if f.unreadable[filepath.Base(path)] {
		return &entity.CollaboratorError{Collaborator: "ffmpeg", Err: errors.New("decode failed"), Output: "invalid data"}
	}
	return nil
}

func (f *fakeTranscoder) ConcatWAV(ctx context.Context, listPath, outPath string) error {
	data, err := os.ReadFile(listPath)
	if err != nil {
		return err
	}
	f.concatted = nil
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		line = strings.TrimPrefix(line, "file '")
		line = strings.TrimSuffix(line, "'")
		f.concatted = append(f.concatted, filepath.Base(line))
	}
	return os.WriteFile(outPath, []byte("wav"), 0o644)
}

func (f *fakeTranscoder) EncodeOpus(ctx context.Context, inPath, outPath string) error {
	if f.failEncode {
		return &entity.CollaboratorError{Collaborator: "ffmpeg", Err: errors.New("encode failed"), Output: "libopus error"}
	}
	return os.WriteFile(outPath, []byte("ogg"), 0o644)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setup(t *testing.T) (storage.Store, *fakeTranscoder, *Merger) {
	t.Helper()
	st := storage.New(t.TempDir(), nil)
	tc := &fakeTranscoder{unreadable: map[string]bool{}}
	m := NewMerger(st, tc, testLogger(), MergerOptions{})
	return st, tc, m
}

func saveChunk(t *testing.T, st storage.Store, off time.Duration, user string) *entity.AudioChunk {
	t.Helper()
	base := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	c, err := st.SaveChunk(context.Background(), "m1", base.Add(off), user, strings.NewReader("pcm"))
	if err != nil {
		t.Fatalf("saveChunk: %v", err)
	}
	return c
}

func TestMergeOrdersByCaptureTime(t *testing.T) {
	st, tc, m := setup(t)

	// Upload in the order T3, T1, T2.
	c3 := saveChunk(t, st, 40*time.Second, "u1")
	c1 := saveChunk(t, st, 0, "u1")
	c2 := saveChunk(t, st, 5*time.Second, "u1")

	res, err := m.Merge(context.Background(), "m1")
	if err != nil {
		t.Fatalf("merge: %v", err)
	}

	want := []string{c1.Filename, c2.Filename, c3.Filename}
	if len(tc.concatted) != 3 {
		t.Fatalf("concat saw %d files, want 3", len(tc.concatted))
	}
	for i := range want {
		if tc.concatted[i] != want[i] {
			t.Errorf("concat order[%d] = %s, want %s", i, tc.concatted[i], want[i])
		}
	}
	if res.ChunksMerged != 3 || res.ChunksSkipped != 0 {
		t.Errorf("merged=%d skipped=%d, want 3/0", res.ChunksMerged, res.ChunksSkipped)
	}
	if _, err := os.Stat(res.OutputPath); err != nil {
		t.Errorf("merged file missing: %v", err)
	}
}

func TestMergeNoChunks(t *testing.T) {
	st, _, m := setup(t)

	_, err := m.Merge(context.Background(), "m1")
	if !errors.Is(err, entity.ErrNoChunks) {
		t.Fatalf("err = %v, want ErrNoChunks", err)
	}
	files, _ := st.ListFiles(context.Background(), "m1", consts.FinalArea)
	if len(files) != 0 {
		t.Errorf("no output file must be created, found %d", len(files))
	}
}

func TestMergeSkipsUnreadableChunks(t *testing.T) {
	st, tc, m := setup(t)

	var names []string
	for i := 0; i < 5; i++ {
		c := saveChunk(t, st, time.Duration(i)*time.Second, "u1")
		names = append(names, c.Filename)
	}
	tc.unreadable[names[2]] = true

	res, err := m.Merge(context.Background(), "m1")
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if res.ChunksMerged != 4 || res.ChunksSkipped != 1 {
		t.Errorf("merged=%d skipped=%d, want 4/1", res.ChunksMerged, res.ChunksSkipped)
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], names[2]) {
		t.Errorf("expected one warning naming %s, got %v", names[2], res.Warnings)
	}
	for _, got := range tc.concatted {
		if got == names[2] {
			t.Error("unreadable chunk must not reach the concat stage")
		}
	}
}

func TestMergeAllChunksUnreadable(t *testing.T) {
	st, tc, m := setup(t)

	for i := 0; i < 3; i++ {
		c := saveChunk(t, st, time.Duration(i)*time.Second, "u1")
		tc.unreadable[c.Filename] = true
	}

	_, err := m.Merge(context.Background(), "m1")
	if !errors.Is(err, entity.ErrAllChunksUnreadable) {
		t.Fatalf("err = %v, want ErrAllChunksUnreadable", err)
	}
}

func TestMergeIsIdempotent(t *testing.T) {
	st, _, m := setup(t)
	saveChunk(t, st, 0, "u1")

	first, err := m.Merge(context.Background(), "m1")
	if err != nil {
		t.Fatalf("first merge: %v", err)
	}

	// Force a distinct output name on the second run.
	m.now = func() time.Time { return time.Now().UTC().Add(time.Hour) }
	second, err := m.Merge(context.Background(), "m1")
	if err != nil {
		t.Fatalf("second merge: %v", err)
	}
	if first.OutputPath == second.OutputPath {
		t.Fatalf("second merge reused output name %s", first.OutputPath)
	}

	entries, err := os.ReadDir(st.FinalDir("m1"))
	if err != nil {
		t.Fatalf("readDir: %v", err)
	}
	var oggs []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), consts.FinalAudioExt) {
			oggs = append(oggs, e.Name())
		}
	}
	if len(oggs) != 1 {
		t.Errorf("final dir holds %d merged files, want exactly 1: %v", len(oggs), oggs)
	}
}

func TestMergeEncodeFailureLeavesNoPartialOutput(t *testing.T) {
	st, tc, m := setup(t)
	saveChunk(t, st, 0, "u1")
	tc.failEncode = true

	_, err := m.Merge(context.Background(), "m1")
	if err == nil {
		t.Fatal("expected transcode error")
	}
	var collab *entity.CollaboratorError
	if !errors.As(err, &collab) {
		t.Errorf("expected CollaboratorError in chain, got %v", err)
	}

	entries, readErr := os.ReadDir(st.FinalDir("m1"))
	if readErr != nil {
		t.Fatalf("readDir: %v", readErr)
	}
	if len(entries) != 0 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("partial output left in final dir: %v", names)
	}
}

func TestMergeDeletesChunksWhenConfigured(t *testing.T) {
	st := storage.New(t.TempDir(), nil)
	tc := &fakeTranscoder{unreadable: map[string]bool{}}
	m := NewMerger(st, tc, testLogger(), MergerOptions{DeleteChunksAfterMerge: true})

	base := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	if _, err := st.SaveChunk(context.Background(), "m1", base, "u1", strings.NewReader("pcm")); err != nil {
		t.Fatalf("saveChunk: %v", err)
	}

	if _, err := m.Merge(context.Background(), "m1"); err != nil {
		t.Fatalf("merge: %v", err)
	}
	chunks, err := st.ListChunks(context.Background(), "m1")
	if err != nil {
		t.Fatalf("listChunks: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("chunks not deleted after merge: %d left", len(chunks))
	}
}
