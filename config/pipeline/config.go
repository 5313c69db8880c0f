package config

import (
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	MeetingsDir            string `env:"MEETINGS_DIR" env-default:"meetings"`
	Workers                int    `env:"WORKERS" env-default:"4"`
	QueueSize              int    `env:"QUEUE_SIZE" env-default:"64"`
	CoalesceGapSeconds     int    `env:"COALESCE_GAP_SECONDS" env-default:"35"`
	BarrierTimeoutSeconds  int    `env:"BARRIER_TIMEOUT_SECONDS" env-default:"120"`
	SignatureSecret        string `env:"SIGNATURE_SECRET"`
	ClearCacheAfterBuild   bool   `env:"CLEAR_CACHE_AFTER_BUILD" env-default:"true"`
	DeleteChunksAfterMerge bool   `env:"DELETE_CHUNKS_AFTER_MERGE" env-default:"false"`
	FFmpegBin              string `env:"FFMPEG_BIN" env-default:"ffmpeg"`
	SofficeBin             string `env:"SOFFICE_BIN" env-default:"soffice"`
	WhisperBin             string `env:"WHISPER_BIN" env-default:"whisper"`
	WhisperModel           string `env:"WHISPER_MODEL" env-default:"base"`
	LogLevel               string `env:"LOG_LEVEL" env-default:"info"`
}

func MustLoad() *Config {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		panic("failed to read environment variables: " + err.Error())
	}

	return &cfg
}

func (c *Config) CoalesceGap() time.Duration {
	return time.Duration(c.CoalesceGapSeconds) * time.Second
}

func (c *Config) BarrierTimeout() time.Duration {
	return time.Duration(c.BarrierTimeoutSeconds) * time.Second
}
