package main

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/scylladb/cqlcluster/transport"
)

// zerologAdapter satisfies transport.Logger by forwarding onto a
// zerolog.Logger, the way cuemby-warren's pkg/log wraps zerolog behind a
// small helper surface rather than handing the raw logger to callers.
type zerologAdapter struct {
	log zerolog.Logger
}

func (z zerologAdapter) Print(v ...any) { z.log.Info().Msg(fmt.Sprint(v...)) }

func (z zerologAdapter) Printf(format string, v ...any) { z.log.Info().Msg(fmt.Sprintf(format, v...)) }

func (z zerologAdapter) Println(v ...any) { z.log.Info().Msg(fmt.Sprint(v...)) }

var _ transport.Logger = zerologAdapter{}
