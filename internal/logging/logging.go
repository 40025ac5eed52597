// Package logging configures the zerolog global logger shared by both binaries.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup installs a console logger on stderr. Call it before config.Load so
// the loader can report what it found.
func Setup(verbose bool) {
	SetupWriter(os.Stderr, verbose)
}

func SetupWriter(w io.Writer, verbose bool) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: w})
	SetVerbose(verbose)
}

// SetVerbose toggles debug output once the config is known.
func SetVerbose(verbose bool) {
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}
