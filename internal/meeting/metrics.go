package meeting

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

type metrics struct {
	lines             metric.Int64Counter
	speakers          metric.Int64Counter
	restarts          metric.Int64Counter
	recognitionErrors metric.Int64Counter
	minutesFailures   metric.Int64Counter
}

func newMetrics(c *Controller) *metrics {
	meter := otel.Meter("github.com/loqalabs/loqa-minutes/meeting")
	m := &metrics{
		lines:             counter(meter, c.logger, "loqa.meeting.lines", "Finalized utterances committed to the transcript"),
		speakers:          counter(meter, c.logger, "loqa.meeting.speakers", "Speakers registered"),
		restarts:          counter(meter, c.logger, "loqa.meeting.recognition.restarts", "Recognition subscriptions reopened after ending"),
		recognitionErrors: counter(meter, c.logger, "loqa.meeting.recognition.errors", "Recognition errors"),
		minutesFailures:   counter(meter, c.logger, "loqa.meeting.minutes.failures", "Failed minutes generations"),
	}

	elapsed, err := meter.Int64ObservableGauge("loqa.meeting.elapsed_ms",
		metric.WithDescription("Elapsed recording time of the current session"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		c.logger.Warn("failed to create elapsed gauge", slogError(err))
		return m
	}
	_, err = meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		st := c.Status()
		o.ObserveInt64(elapsed, st.ElapsedMS, metric.WithAttributes(attribute.String("state", string(st.State))))
		return nil
	}, elapsed)
	if err != nil {
		c.logger.Warn("failed to register elapsed gauge", slogError(err))
	}
	return m
}

func counter(meter metric.Meter, logger *slog.Logger, name, desc string) metric.Int64Counter {
	ctr, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		logger.Warn("failed to create counter", slog.String("name", name), slogError(err))
		ctr, _ = noop.Meter{}.Int64Counter(name)
	}
	return ctr
}

func (m *metrics) lineCommitted(merged bool) {
	m.lines.Add(context.Background(), 1, metric.WithAttributes(attribute.Bool("merged", merged)))
}

func (m *metrics) speakerAdded(source string) {
	m.speakers.Add(context.Background(), 1, metric.WithAttributes(attribute.String("source", source)))
}

func (m *metrics) restarted() {
	m.restarts.Add(context.Background(), 1)
}

func (m *metrics) recognitionError() {
	m.recognitionErrors.Add(context.Background(), 1)
}

func (m *metrics) minutesFailed() {
	m.minutesFailures.Add(context.Background(), 1)
}
