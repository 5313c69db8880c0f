package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kolla/backend/pkg/gen"
	"github.com/kolla/backend/services/pipeline/consts"
	"github.com/kolla/backend/services/pipeline/entity"
)

// Store owns the per-meeting directory layout: an append-only chunks
// area, a final area holding at most one current merged artifact plus
// one document and one digest record, and an append-only merge.log.
type Store interface {
	SaveChunk(ctx context.Context, meetingID string, captureTime time.Time, userID string, r io.Reader) (*entity.AudioChunk, error)
	ListChunks(ctx context.Context, meetingID string) ([]entity.AudioChunk, error)
	DeleteChunks(ctx context.Context, meetingID string) error

	ChunksDir(meetingID string) string
	FinalDir(meetingID string) string
	EnsureFinalDir(meetingID string) (string, error)
	RemoveFinalAudio(ctx context.Context, meetingID string) (int, error)

	WriteDocument(ctx context.Context, meetingID string, content []byte) (string, error)
	DocumentPath(meetingID string) (string, error)
	WriteSignatureRecord(ctx context.Context, meetingID string, rec entity.SignatureRecord) (string, error)

	AppendMergeLog(ctx context.Context, meetingID string, lines ...string) error

	ListFiles(ctx context.Context, meetingID, area string) ([]entity.MeetingFile, error)
	FilePath(meetingID, area, filename string) (string, error)
}

type store struct {
	root string
	gen  gen.UUIDGenerator
}

func New(root string, g gen.UUIDGenerator) Store {
	if g == nil {
		g = gen.UUID()
	}
	return &store{root: root, gen: g}
}

func (s *store) meetingDir(meetingID string) string {
	return filepath.Join(s.root, meetingID)
}

func (s *store) ChunksDir(meetingID string) string {
	return filepath.Join(s.meetingDir(meetingID), consts.ChunksArea)
}

func (s *store) FinalDir(meetingID string) string {
	return filepath.Join(s.meetingDir(meetingID), consts.FinalArea)
}

func (s *store) EnsureFinalDir(meetingID string) (string, error) {
	dir := s.FinalDir(meetingID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create final dir: %w", err)
	}
	return dir, nil
}

func (s *store) SaveChunk(ctx context.Context, meetingID string, captureTime time.Time, userID string, r io.Reader) (*entity.AudioChunk, error) {
	dir := s.ChunksDir(meetingID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create chunks dir: %w", err)
	}

	name := fmt.Sprintf("%s__%s__%s%s",
		captureTime.Format(consts.TimestampLayout), userID, s.gen.Hex(), consts.ChunkExt)
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create chunk file: %w", err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to write chunk file: %w", err)
	}

	return &entity.AudioChunk{
		Path:        path,
		Filename:    name,
		UserID:      userID,
		CaptureTime: captureTime,
		SizeBytes:   n,
		TimeParsed:  true,
	}, nil
}

// parseChunkName extracts the capture time and uploader id from a chunk
// filename of the form <ts>__<userID>__<disambiguator>.<ext>.
func parseChunkName(name string) (time.Time, string, bool) {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	parts := strings.Split(base, "__")
	if len(parts) < 3 {
		return time.Time{}, "", false
	}
	ts, err := time.Parse(consts.TimestampLayout, parts[0])
	if err != nil {
		return time.Time{}, parts[1], false
	}
	return ts, parts[1], true
}

func (s *store) ListChunks(ctx context.Context, meetingID string) ([]entity.AudioChunk, error) {
	dir := s.ChunksDir(meetingID)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read chunks dir: %w", err)
	}

	chunks := make([]entity.AudioChunk, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), consts.ChunkExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}

		chunk := entity.AudioChunk{
			Path:      filepath.Join(dir, e.Name()),
			Filename:  e.Name(),
			SizeBytes: info.Size(),
		}
		if ts, userID, ok := parseChunkName(e.Name()); ok {
			chunk.CaptureTime = ts
			chunk.UserID = userID
			chunk.TimeParsed = true
		} else {
			// Unparsable prefix: keep the chunk and fall back to the
			// file's timestamp for ordering.
			chunk.CaptureTime = info.ModTime()
			chunk.UserID = userID
		}
		chunks = append(chunks, chunk)
	}

	sort.Slice(chunks, func(i, j int) bool {
		if chunks[i].CaptureTime.Equal(chunks[j].CaptureTime) {
			return chunks[i].Filename < chunks[j].Filename
		}
		return chunks[i].CaptureTime.Before(chunks[j].CaptureTime)
	})
	return chunks, nil
}

func (s *store) DeleteChunks(ctx context.Context, meetingID string) error {
	dir := s.ChunksDir(meetingID)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read chunks dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), consts.ChunkExt) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			return fmt.Errorf("failed to delete chunk %s: %w", e.Name(), err)
		}
	}
	return nil
}

// RemoveFinalAudio deletes every merged audio artifact currently in the
// final area so at most one exists after the next merge. Returns how
// many files were removed.
func (s *store) RemoveFinalAudio(ctx context.Context, meetingID string) (int, error) {
	dir := s.FinalDir(meetingID)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read final dir: %w", err)
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), consts.FinalAudioExt) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			return removed, fmt.Errorf("failed to delete old merged file %s: %w", e.Name(), err)
		}
		removed++
	}
	return removed, nil
}

func (s *store) WriteDocument(ctx context.Context, meetingID string, content []byte) (string, error) {
	dir, err := s.EnsureFinalDir(meetingID)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, meetingID+consts.DocumentExt)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", fmt.Errorf("failed to write document: %w", err)
	}
	return path, nil
}

func (s *store) DocumentPath(meetingID string) (string, error) {
	path := filepath.Join(s.FinalDir(meetingID), meetingID+consts.DocumentExt)
	if _, err := os.Stat(path); err != nil {
		return "", entity.ErrFileNotFound
	}
	return path, nil
}

func (s *store) WriteSignatureRecord(ctx context.Context, meetingID string, rec entity.SignatureRecord) (string, error) {
	dir, err := s.EnsureFinalDir(meetingID)
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal signature record: %w", err)
	}
	path := filepath.Join(dir, meetingID+".signature.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write signature record: %w", err)
	}
	return path, nil
}

func (s *store) AppendMergeLog(ctx context.Context, meetingID string, lines ...string) error {
	if err := os.MkdirAll(s.meetingDir(meetingID), 0o755); err != nil {
		return fmt.Errorf("failed to create meeting dir: %w", err)
	}
	path := filepath.Join(s.meetingDir(meetingID), consts.MergeLogName)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open merge log: %w", err)
	}
	defer f.Close()

	for _, line := range lines {
		if _, err := fmt.Fprintln(f, line); err != nil {
			return fmt.Errorf("failed to append merge log: %w", err)
		}
	}
	return nil
}

func (s *store) areaDir(meetingID, area string) (string, error) {
	switch area {
	case consts.ChunksArea:
		return s.ChunksDir(meetingID), nil
	case consts.FinalArea:
		return s.FinalDir(meetingID), nil
	default:
		return "", fmt.Errorf("unknown file area %q", area)
	}
}

func (s *store) ListFiles(ctx context.Context, meetingID, area string) ([]entity.MeetingFile, error) {
	dir, err := s.areaDir(meetingID, area)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, entity.ErrFileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s dir: %w", area, err)
	}

	files := make([]entity.MeetingFile, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		mf := entity.MeetingFile{
			Filename: e.Name(),
			Size:     info.Size(),
		}
		if ts, _, ok := parseChunkName(e.Name()); ok {
			mf.Date = ts.Format("02/01/2006 15:04:05")
		}
		files = append(files, mf)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Filename < files[j].Filename })
	return files, nil
}

// FilePath resolves a download request to a path inside the meeting's
// area, rejecting names that would escape it.
func (s *store) FilePath(meetingID, area, filename string) (string, error) {
	if filename != filepath.Base(filename) || filename == "." || filename == ".." {
		return "", entity.ErrFileNotFound
	}
	dir, err := s.areaDir(meetingID, area)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, filename)
	if _, err := os.Stat(path); err != nil {
		return "", entity.ErrFileNotFound
	}
	return path, nil
}
