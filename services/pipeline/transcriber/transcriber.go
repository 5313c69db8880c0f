package transcriber

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/kolla/backend/services/pipeline/entity"
)

// Transcriber is the speech-to-text collaborator: a black-box function
// from an audio file path to text. Calls may take seconds; failures
// propagate as job failures.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// WhisperCLI shells out to the whisper command line tool, which writes
// a <basename>.txt transcript into the requested output directory.
type WhisperCLI struct {
	bin   string
	model string
	log   *slog.Logger
}

func NewWhisperCLI(bin, model string, log *slog.Logger) *WhisperCLI {
	if bin == "" {
		bin = "whisper"
	}
	if model == "" {
		model = "base"
	}
	return &WhisperCLI{bin: bin, model: model, log: log}
}

func (w *WhisperCLI) Transcribe(ctx context.Context, audioPath string) (string, error) {
	outDir, err := os.MkdirTemp("", "whisper-")
	if err != nil {
		return "", fmt.Errorf("failed to create transcription workdir: %w", err)
	}
	defer os.RemoveAll(outDir)

	cmd := exec.CommandContext(ctx, w.bin, audioPath,
		"--model", w.model,
		"--output_format", "txt",
		"--output_dir", outDir,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	w.log.Debug("transcribing chunk",
		slog.String("audio", audioPath),
		slog.String("model", w.model))
	if err := cmd.Run(); err != nil {
		return "", &entity.CollaboratorError{
			Collaborator: "whisper",
			Err:          err,
			Output:       stderr.String(),
		}
	}

	base := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	data, err := os.ReadFile(filepath.Join(outDir, base+".txt"))
	if err != nil {
		return "", &entity.CollaboratorError{
			Collaborator: "whisper",
			Err:          fmt.Errorf("transcript file missing: %w", err),
			Output:       stderr.String(),
		}
	}
	return strings.TrimSpace(string(data)), nil
}

var _ Transcriber = (*WhisperCLI)(nil)
