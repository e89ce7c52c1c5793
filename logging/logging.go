// Package logging configures the process-wide logrus logger.
package logging

import (
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/term"
)

// Setup points logrus at stderr with full timestamps. Colors are only used
// when stderr is a terminal.
func Setup(level string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return errors.Wrapf(err, "invalid log level %q", level)
	}

	log.SetOutput(os.Stderr)
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:          true,
		ForceColors:            term.IsTerminal(int(os.Stderr.Fd())),
		DisableLevelTruncation: true,
	})
	log.SetLevel(lvl)
	return nil
}
