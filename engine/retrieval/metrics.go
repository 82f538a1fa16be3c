package retrieval

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/WessleyAI/interview-insights/engine/domain"
)

const instrumentationName = "github.com/WessleyAI/interview-insights/engine/retrieval"

type instruments struct {
	requests  metric.Int64Counter
	questions metric.Int64Counter
	evidence  metric.Int64Histogram
	duration  metric.Float64Histogram
}

func newInstruments(logger *slog.Logger) *instruments {
	in, err := buildInstruments(otel.Meter(instrumentationName))
	if err != nil {
		logger.Warn("retrieval: metrics disabled", "err", err)
		in, _ = buildInstruments(noop.NewMeterProvider().Meter(instrumentationName))
	}
	return in
}

func buildInstruments(meter metric.Meter) (*instruments, error) {
	var (
		in  instruments
		err error
	)
	in.requests, err = meter.Int64Counter("retrieval_requests_total",
		metric.WithDescription("Retrieval requests by outcome"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}
	in.questions, err = meter.Int64Counter("retrieval_questions_total",
		metric.WithDescription("Guide questions processed by outcome"),
		metric.WithUnit("{question}"),
	)
	if err != nil {
		return nil, err
	}
	in.evidence, err = meter.Int64Histogram("retrieval_evidence_chunks",
		metric.WithDescription("Evidence chunks selected per question"),
		metric.WithUnit("{chunk}"),
	)
	if err != nil {
		return nil, err
	}
	in.duration, err = meter.Float64Histogram("retrieval_duration_seconds",
		metric.WithDescription("End-to-end retrieval latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	return &in, nil
}

func (in *instruments) record(ctx context.Context, report *domain.Report, err error, elapsed time.Duration) {
	outcome := "ok"
	switch {
	case err != nil && report != nil:
		outcome = "partial"
	case err != nil:
		outcome = "error"
	}
	if stage, ok := domain.StageOf(err); ok && report == nil {
		outcome = "error_" + string(stage)
	}
	in.requests.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	in.duration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("outcome", outcome)))

	if report == nil {
		return
	}
	for _, q := range report.Questions {
		status := "ok"
		if q.Err != "" {
			status = "error"
		}
		in.questions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
		if q.Err == "" {
			in.evidence.Record(ctx, int64(len(q.Evidence)))
		}
	}
}
