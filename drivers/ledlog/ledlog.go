// Package ledlog is the host stand-in for the indicator LED: it logs
// level transitions instead of driving a pin.
package ledlog

import "github.com/rs/zerolog"

type LED struct {
	log  zerolog.Logger
	on   bool
	init bool
}

func New(log zerolog.Logger) *LED {
	return &LED{log: log.With().Str("svc", "led").Logger()}
}

func (l *LED) Set(on bool) {
	if l.init && on == l.on {
		return
	}
	l.init = true
	l.on = on
	l.log.Debug().Bool("on", on).Msg("indicator")
}
