package httpapi

import (
	"log"

	"github.com/rs/zerolog"
)

// zlog is an optional structured logger. If unset, falls back to log.Printf.
var zlog *zerolog.Logger

// SetLogger installs a structured logger used by the HTTP layer.
func SetLogger(l zerolog.Logger) { zlog = &l }

func zlogErr(err error, msg string) {
	if zlog != nil {
		zlog.Error().Err(err).Msg(msg)
		return
	}
	log.Printf("%s: %v", msg, err)
}
