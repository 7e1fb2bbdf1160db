// Package metrics keeps process counters for the relay.
package metrics

import (
	"context"
	"io"
	"time"

	gometrics "github.com/rcrowley/go-metrics"
	"github.com/rs/zerolog"
)

// Counter names.
const (
	Connections       = "ws.connections"
	Identified        = "ws.identified"
	FramesMalformed   = "frames.malformed"
	MessagesPersisted = "messages.persisted"
	MessagesDelivered = "messages.delivered"
	MessagesDropped   = "messages.dropped"
	SendRejected      = "messages.rejected"
)

// Metrics wraps a go-metrics registry. A nil *Metrics is valid and records nothing.
type Metrics struct {
	reg gometrics.Registry
}

// New creates metrics backed by a fresh registry.
func New() *Metrics {
	return &Metrics{reg: gometrics.NewRegistry()}
}

func (m *Metrics) Incr(name string, i int64) {
	if m == nil {
		return
	}
	gometrics.GetOrRegisterCounter(name, m.reg).Inc(i)
}

func (m *Metrics) Decr(name string, i int64) {
	if m == nil {
		return
	}
	gometrics.GetOrRegisterCounter(name, m.reg).Dec(i)
}

// Count returns the current value of a counter, 0 if it was never touched.
func (m *Metrics) Count(name string) int64 {
	if m == nil {
		return 0
	}
	if c, ok := m.reg.Get(name).(gometrics.Counter); ok {
		return c.Count()
	}
	return 0
}

// WriteJSON writes a single snapshot of all counters.
func (m *Metrics) WriteJSON(w io.Writer) {
	if m == nil {
		_, _ = io.WriteString(w, "{}")
		return
	}
	gometrics.WriteJSONOnce(m.reg, w)
}

// Report logs every counter each tick until ctx is done, then once more.
func (m *Metrics) Report(ctx context.Context, tick time.Duration, logger *zerolog.Logger) {
	if m == nil || tick <= 0 {
		return
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.log(logger)
		case <-ctx.Done():
			m.log(logger)
			return
		}
	}
}

func (m *Metrics) log(logger *zerolog.Logger) {
	ev := logger.Info()
	m.reg.Each(func(name string, i interface{}) {
		if c, ok := i.(gometrics.Counter); ok {
			ev = ev.Int64(name, c.Count())
		}
	})
	ev.Msg("metrics")
}
