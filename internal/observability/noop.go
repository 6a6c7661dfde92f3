package observability

import (
	"context"
	"time"
)

// Noop is a Recorder that does nothing.
type Noop struct{}

var _ Recorder = Noop{}

func (Noop) RecordFrame(context.Context, string)                              {}
func (Noop) RecordRegistration(context.Context, string, time.Duration, error) {}
func (Noop) RecordDispatch(context.Context, string, int)                      {}
func (Noop) RecordReconnect(context.Context, string)                          {}
func (Noop) RecordSession(context.Context, string)                            {}
