// Package logx configures the zerolog global logger used throughout the
// service.
package logx

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config is resolved from LOG_* environment variables by the autoload
// package.
type Config struct {
	Debug        bool `split_words:"true" default:"false"`
	PrettyFormat bool `split_words:"true" default:"false"`
}

// Init replaces the zerolog global logger. Pretty output is for local runs;
// everything else stays single-line JSON on stdout.
func Init(conf Config) {
	out := zerolog.New(os.Stdout)
	if conf.PrettyFormat {
		out = zerolog.New(zerolog.NewConsoleWriter())
	}

	level := zerolog.InfoLevel
	if conf.Debug {
		level = zerolog.DebugLevel
	}

	log.Logger = out.Level(level).With().Timestamp().Caller().Stack().Logger()
}
