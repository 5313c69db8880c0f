package audio

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"

	"github.com/kolla/backend/services/pipeline/consts"
	"github.com/kolla/backend/services/pipeline/entity"
)

// Transcoder is the external transcode collaborator. It is invoked with
// a fixed argument contract and must not leave a partial file behind on
// failure; the exec implementation reports failures through the tool's
// exit status with stderr attached.
type Transcoder interface {
	// Probe checks that a chunk decodes at all.
	Probe(ctx context.Context, path string) error
	// ConcatWAV concatenates the files named in the concat list into a
	// single PCM stream, normalizing sample rate and channel layout.
	ConcatWAV(ctx context.Context, listPath, outPath string) error
	// EncodeOpus transcodes a file to the ogg/opus delivery format.
	EncodeOpus(ctx context.Context, inPath, outPath string) error
}

// FFmpeg shells out to the ffmpeg binary.
type FFmpeg struct {
	bin string
	log *slog.Logger
}

func NewFFmpeg(bin string, log *slog.Logger) *FFmpeg {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &FFmpeg{bin: bin, log: log}
}

func (f *FFmpeg) run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, f.bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	f.log.Debug("running ffmpeg", slog.Any("args", args))
	if err := cmd.Run(); err != nil {
		return &entity.CollaboratorError{
			Collaborator: "ffmpeg",
			Err:          err,
			Output:       stderr.String(),
		}
	}
	return nil
}

func (f *FFmpeg) Probe(ctx context.Context, path string) error {
	// Full decode to the null muxer; a corrupt chunk fails here rather
	// than poisoning the concat step.
	return f.run(ctx, "-v", "error", "-i", path, "-f", "null", "-")
}

func (f *FFmpeg) ConcatWAV(ctx context.Context, listPath, outPath string) error {
	return f.run(ctx,
		"-y", "-f", "concat", "-safe", "0", "-i", listPath,
		"-acodec", "pcm_s16le", "-ar", "48000", "-ac", "1",
		outPath,
	)
}

func (f *FFmpeg) EncodeOpus(ctx context.Context, inPath, outPath string) error {
	return f.run(ctx,
		"-y", "-i", inPath,
		"-c:a", "libopus", "-b:a", consts.OpusBitrate,
		outPath,
	)
}

var _ Transcoder = (*FFmpeg)(nil)
