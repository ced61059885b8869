package service

import (
	"github.com/okian/facequiz/internal/config"
	"github.com/okian/facequiz/pkg/logger"
)

// OptionsFromConfig maps loaded configuration onto service options.
func OptionsFromConfig(cfg *config.Config, l logger.Logger) []Option {
	return []Option{
		WithLogger(l),
		WithAPIBaseURL(cfg.APIBaseURL),
		WithRemoteHeaders(cfg.RemoteHeaders()),
		WithRequestTimeout(cfg.RequestTimeout()),
		WithQuestionInterval(cfg.QuestionInterval()),
		WithDurablePath(cfg.DurablePath),
		WithVolatile(cfg.VolatileEnabled, cfg.VolatilePath),
		WithDurableWriteThrough(cfg.DurableWriteThrough),
		WithRecoveryInterval(cfg.VolatileRecoveryInterval()),
		WithPrecacheConcurrency(cfg.PrecacheConcurrency),
		WithQuestionsPerSession(cfg.QuestionsPerSession),
	}
}
