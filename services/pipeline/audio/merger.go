package audio

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/kolla/backend/services/pipeline/consts"
	"github.com/kolla/backend/services/pipeline/entity"
	"github.com/kolla/backend/services/pipeline/storage"
)

// Merger concatenates a meeting's chunks, in capture-time order, into one
// continuous ogg/opus track. The merge is idempotent with respect to
// output state: each run replaces the previous artifact instead of
// accumulating new ones.
type Merger struct {
	store        storage.Store
	tc           Transcoder
	log          *slog.Logger
	deleteChunks bool
	now          func() time.Time
}

type MergerOptions struct {
	// DeleteChunksAfterMerge removes the source chunks once the merged
	// artifact is durably in place. Off by default.
	DeleteChunksAfterMerge bool
}

func NewMerger(store storage.Store, tc Transcoder, log *slog.Logger, opts MergerOptions) *Merger {
	return &Merger{
		store:        store,
		tc:           tc,
		log:          log,
		deleteChunks: opts.DeleteChunksAfterMerge,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (m *Merger) Merge(ctx context.Context, meetingID string) (*entity.MergeResult, error) {
	started := m.now()
	m.logAttempt(ctx, meetingID, fmt.Sprintf("=== merge started at %s ===", started.Format(time.RFC3339)))

	res, err := m.merge(ctx, meetingID)
	if err != nil {
		m.logAttempt(ctx, meetingID, fmt.Sprintf("merge failed: %v", err),
			fmt.Sprintf("=== merge ended at %s ===", m.now().Format(time.RFC3339)))
		return nil, err
	}

	m.logAttempt(ctx, meetingID,
		fmt.Sprintf("merge completed: %s (%d chunks merged, %d skipped)",
			res.OutputPath, res.ChunksMerged, res.ChunksSkipped),
		fmt.Sprintf("=== merge ended at %s ===", m.now().Format(time.RFC3339)))
	return res, nil
}

func (m *Merger) merge(ctx context.Context, meetingID string) (*entity.MergeResult, error) {
	chunks, err := m.store.ListChunks(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, entity.ErrNoChunks
	}

	// Decode check every chunk up front; a corrupt chunk is skipped with
	// a warning, never silently dropped for format reasons (the concat
	// stage normalizes rate and channels).
	var warnings []string
	usable := make([]entity.AudioChunk, 0, len(chunks))
	for _, c := range chunks {
		if err := m.tc.Probe(ctx, c.Path); err != nil {
			warning := fmt.Sprintf("skipping unreadable chunk %s: %v", c.Filename, err)
			warnings = append(warnings, warning)
			m.log.Warn("skipping unreadable chunk",
				slog.String("meeting_id", meetingID),
				slog.String("chunk", c.Filename),
				slog.String("error", err.Error()))
			m.logAttempt(ctx, meetingID, warning)
			continue
		}
		usable = append(usable, c)
	}
	if len(usable) == 0 {
		return nil, entity.ErrAllChunksUnreadable
	}

	listPath := filepath.Join(m.store.ChunksDir(meetingID), "list.txt")
	if err := writeConcatList(listPath, usable); err != nil {
		return nil, err
	}
	defer os.Remove(listPath)

	finalDir, err := m.store.EnsureFinalDir(meetingID)
	if err != nil {
		return nil, err
	}

	stamp := m.now().Format(consts.TimestampLayout)
	wavPath := filepath.Join(finalDir, "merged_"+stamp+".wav")
	oggPath := filepath.Join(finalDir, "merged_"+stamp+consts.FinalAudioExt)
	partPath := oggPath + ".part"

	if err := m.tc.ConcatWAV(ctx, listPath, wavPath); err != nil {
		os.Remove(wavPath)
		return nil, fmt.Errorf("transcode failed: %w", err)
	}

	if err := m.tc.EncodeOpus(ctx, wavPath, partPath); err != nil {
		os.Remove(partPath)
		os.Remove(wavPath)
		return nil, fmt.Errorf("transcode failed: %w", err)
	}

	// Previous artifacts go right before the rename so the final area
	// never holds two current merged files.
	if removed, err := m.store.RemoveFinalAudio(ctx, meetingID); err != nil {
		os.Remove(partPath)
		os.Remove(wavPath)
		return nil, err
	} else if removed > 0 {
		m.logAttempt(ctx, meetingID, fmt.Sprintf("deleted %d old merged file(s)", removed))
	}

	if err := os.Rename(partPath, oggPath); err != nil {
		os.Remove(partPath)
		os.Remove(wavPath)
		return nil, fmt.Errorf("failed to move merged file into place: %w", err)
	}
	os.Remove(wavPath)

	if m.deleteChunks {
		if err := m.store.DeleteChunks(ctx, meetingID); err != nil {
			m.log.Warn("failed to delete chunks after merge",
				slog.String("meeting_id", meetingID),
				slog.String("error", err.Error()))
		}
	}

	return &entity.MergeResult{
		MeetingID:     meetingID,
		OutputPath:    oggPath,
		ChunksMerged:  len(usable),
		ChunksSkipped: len(chunks) - len(usable),
		Warnings:      warnings,
		CompletedAt:   m.now(),
	}, nil
}

func (m *Merger) logAttempt(ctx context.Context, meetingID string, lines ...string) {
	if err := m.store.AppendMergeLog(ctx, meetingID, lines...); err != nil {
		m.log.Warn("failed to append merge log",
			slog.String("meeting_id", meetingID),
			slog.String("error", err.Error()))
	}
}

// writeConcatList writes the ffmpeg concat demuxer list, one absolute
// path per line, in the order the chunks were given.
func writeConcatList(path string, chunks []entity.AudioChunk) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create concat list: %w", err)
	}
	defer f.Close()

	for _, c := range chunks {
		abs, err := filepath.Abs(c.Path)
		if err != nil {
			return fmt.Errorf("failed to resolve chunk path: %w", err)
		}
		if _, err := fmt.Fprintf(f, "file '%s'\n", abs); err != nil {
			return fmt.Errorf("failed to write concat list: %w", err)
		}
	}
	return nil
}
