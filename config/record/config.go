package config

import "github.com/ilyakaznacheev/cleanenv"

type Config struct {
	Port           int           `env:"PORT" env-default:"8080"`
	AllowedOrigins string        `env:"ALLOWED_ORIGINS" env-default:"*"`
	SignService    ServiceConfig `env-prefix:"SIGN_"`
}

type ServiceConfig struct {
	Url  string `env:"URL"`
	Port int    `env:"PORT"`
}

func MustLoad() *Config {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		panic("failed to read environment variables: " + err.Error())
	}
	return &cfg
}
