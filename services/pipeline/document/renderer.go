package document

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

// Renderer converts the built document to its PDF delivery form. The
// pipeline only passes paths across this boundary; the conversion tool
// itself is an external collaborator.
type Renderer interface {
	RenderPDF(ctx context.Context, docPath, outDir string) (string, error)
}

// Soffice drives a headless LibreOffice conversion.
type Soffice struct {
	bin string
	log *slog.Logger
}

func NewSoffice(bin string, log *slog.Logger) *Soffice {
	if bin == "" {
		bin = "soffice"
	}
	return &Soffice{bin: bin, log: log}
}

func (s *Soffice) RenderPDF(ctx context.Context, docPath, outDir string) (string, error) {
	cmd := exec.CommandContext(ctx, s.bin,
		"--headless", "--convert-to", "pdf", "--outdir", outDir, docPath)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	s.log.Debug("converting document to pdf",
		slog.String("doc", docPath),
		slog.String("outdir", outDir))
	if err := cmd.Run(); err != nil {
		return "", &entity.CollaboratorError{
			Collaborator: "soffice",
			Err:          err,
			Output:       stderr.String(),
		}
	}

	base := strings.TrimSuffix(filepath.Base(docPath), filepath.Ext(docPath))
	produced := filepath.Join(outDir, base+".pdf")
	if _, err := os.Stat(produced); err != nil {
		return "", &entity.CollaboratorError{
			Collaborator: "soffice",
			Err:          fmt.Errorf("conversion reported success but %s is missing", produced),
			Output:       stderr.String(),
		}
	}
	return produced, nil
}

var _ Renderer = (*Soffice)(nil)
