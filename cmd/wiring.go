package cmd

import (
	"github.com/nextlevelbuilder/linescout/internal/channels/telegram"
	"github.com/nextlevelbuilder/linescout/internal/config"
	"github.com/nextlevelbuilder/linescout/internal/gateway"
	"github.com/nextlevelbuilder/linescout/internal/scheduler"
	"github.com/nextlevelbuilder/linescout/internal/search"
	"github.com/nextlevelbuilder/linescout/internal/source"
)

func newOpener(cfg *config.Config) *source.Mux {
	retry := source.DefaultRetryConfig()
	retry.MaxRetries = cfg.Remote.Retries

	return &source.Mux{
		File: &source.FileOpener{MaxLineBytes: cfg.MaxLineBytes()},
		Remote: source.NewHTTPOpener(source.HTTPConfig{
			ConnectTimeout: cfg.ConnectTimeout(),
			ReadTimeout:    cfg.ReadTimeout(),
			UserAgent:      cfg.Remote.UserAgent,
			BlockPrivate:   cfg.Remote.BlockPrivate,
			Retry:          retry,
			MaxLineBytes:   cfg.MaxLineBytes(),
		}),
	}
}

func newEngine(cfg *config.Config) *search.Engine {
	return search.NewEngine(newOpener(cfg), search.Config{
		Cadence: search.Cadence{
			StepPercent: cfg.Search.ProgressStepPercent,
			EveryLines:  int64(cfg.Search.ProgressEveryLines),
		},
		MaxResultBytes: cfg.MaxResultBytes(),
		Parallelism:    cfg.Search.Parallelism,
	})
}

func gatewayConfig(cfg *config.Config) gateway.Config {
	queue := scheduler.DefaultQueueConfig()
	queue.Mode = scheduler.QueueMode(cfg.Gateway.QueueMode)
	queue.Cap = cfg.Gateway.QueueCap

	return gateway.Config{
		Queue:         queue,
		Lanes:         []scheduler.LaneConfig{{Name: "main", Concurrency: cfg.Gateway.MaxConcurrent}},
		RatePerMinute: cfg.Gateway.RatePerMinute,
		RateBurst:     cfg.Gateway.RateBurst,
	}
}

func telegramConfig(cfg *config.Config) telegram.Config {
	return telegram.Config{
		Token:            cfg.Telegram.Token,
		UploadDir:        cfg.Telegram.UploadDir,
		MaxUploadBytes:   cfg.MaxUploadBytes(),
		ProgressThrottle: cfg.ProgressThrottle(),
		AllowFrom:        cfg.Telegram.AllowFrom,
	}
}
