package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	pipelinecfg "github.com/kolla/backend/config/pipeline"
	recordcfg "github.com/kolla/backend/config/record"
	"github.com/kolla/backend/gateways/record"
	signClient "github.com/kolla/backend/gateways/record/clients/sign"
	"github.com/kolla/backend/gateways/record/handler"
	"github.com/kolla/backend/pkg/logger"
	"github.com/kolla/backend/services/pipeline/audio"
	"github.com/kolla/backend/services/pipeline/document"
	"github.com/kolla/backend/services/pipeline/metrics"
	"github.com/kolla/backend/services/pipeline/scheduler"
	"github.com/kolla/backend/services/pipeline/storage"
	"github.com/kolla/backend/services/pipeline/transcriber"
	"github.com/kolla/backend/services/pipeline/transcript"
	"github.com/kolla/backend/services/pipeline/usecase"
)

func main() {
	log := logger.Default()
	log.Info("initializing record gateway")

	log.Debug("loading configuration")
	pipeCfg := pipelinecfg.MustLoad()
	gwCfg := recordcfg.MustLoad()

	log = logger.New(logger.Config{
		Level:      logger.ParseLevel(pipeCfg.LogLevel),
		Output:     os.Stderr,
		AddSource:  true,
		JSONFormat: false,
	})
	logger.SetDefault(log)
	log.Info("configuration loaded successfully",
		slog.Int("port", gwCfg.Port),
		slog.String("meetings_dir", pipeCfg.MeetingsDir),
		slog.Int("workers", pipeCfg.Workers),
		slog.Int("queue_size", pipeCfg.QueueSize),
		slog.Int("coalesce_gap_seconds", pipeCfg.CoalesceGapSeconds),
		slog.Int("barrier_timeout_seconds", pipeCfg.BarrierTimeoutSeconds),
		slog.Bool("signature_secret_set", pipeCfg.SignatureSecret != ""))

	ctx := logger.WithContext(context.Background(), log)
	rootCtx, cancel := signal.NotifyContext(ctx, syscall.SIGTERM)
	defer cancel()

	log.Info("starting record gateway application")
	if err := run(rootCtx, pipeCfg, gwCfg, log); err != nil {
		log.Error("application terminated with error", slog.String("error", err.Error()))
		return
	}
	log.Info("application terminated successfully")
}

func run(ctx context.Context, pipeCfg *pipelinecfg.Config, gwCfg *recordcfg.Config, log *slog.Logger) error {
	met := metrics.New()

	store := storage.New(pipeCfg.MeetingsDir, nil)
	cache := transcript.New(transcript.Options{CoalesceGap: pipeCfg.CoalesceGap()})

	ffmpeg := audio.NewFFmpeg(pipeCfg.FFmpegBin, log)
	merger := audio.NewMerger(store, ffmpeg, log, audio.MergerOptions{
		DeleteChunksAfterMerge: pipeCfg.DeleteChunksAfterMerge,
	})

	builder := document.NewBuilder(pipeCfg.SignatureSecret)
	renderer := document.NewSoffice(pipeCfg.SofficeBin, log)
	whisper := transcriber.NewWhisperCLI(pipeCfg.WhisperBin, pipeCfg.WhisperModel, log)

	sched := scheduler.New(scheduler.Config{
		Workers:        pipeCfg.Workers,
		QueueSize:      pipeCfg.QueueSize,
		BarrierTimeout: pipeCfg.BarrierTimeout(),
	}, log, met)

	uc := usecase.New(store, cache, merger, builder, renderer, whisper, sched, met, log, usecase.Options{
		ClearCacheAfterBuild: pipeCfg.ClearCacheAfterBuild,
	})

	sched.Start(ctx, uc.ExecuteJob)
	defer sched.Stop()

	signSvc := signClient.New(&gwCfg.SignService)
	h := handler.New(uc, signSvc, log)
	srv := record.New(gwCfg, h, met, log)

	log.Info("starting record server")
	if err := srv.Start(ctx); err != nil {
		return err
	}
	log.Info("server started and stopped gracefully")
	return nil
}
