package api

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName       = "task-tracker/api"
	tasksSpanName    = "task-tracker.api.tasks"
	tasksMetricsName = "tasks.request.metrics"
)

type taskRequestMetrics struct {
	logger        *log.Logger
	span          trace.Span
	route         string
	op            string
	start         time.Time
	authDuration  time.Duration
	storeDuration time.Duration
	tasksReturned int
	errorStage    string
	cause         error
}

// newTaskRequestMetrics starts a span for one task request. The returned
// context carries the span and should replace the request context.
func newTaskRequestMetrics(ctx context.Context, logger *log.Logger, route, op string) (*taskRequestMetrics, context.Context) {
	spanCtx, span := otel.Tracer(tracerName).Start(ctx, tasksSpanName,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.route", route),
			attribute.String("tasks.op", op),
		),
	)
	return &taskRequestMetrics{
		logger: logger,
		span:   span,
		route:  route,
		op:     op,
		start:  time.Now(),
	}, spanCtx
}

func (m *taskRequestMetrics) ObserveAuth(d time.Duration) {
	if d > 0 {
		m.authDuration = d
	}
}

func (m *taskRequestMetrics) ObserveStore(d time.Duration) {
	if d > 0 {
		m.storeDuration += d
	}
}

func (m *taskRequestMetrics) SetTasksReturned(count int) {
	if count < 0 {
		count = 0
	}
	m.tasksReturned = count
}

func (m *taskRequestMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

// Fail records the stage a request failed at along with the underlying
// error, which is logged but never sent to the client.
func (m *taskRequestMetrics) Fail(stage string, err error) {
	m.SetErrorStage(stage)
	if err != nil {
		m.cause = err
	}
}

// Log ends the span and emits the metrics entry.
func (m *taskRequestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	if err == nil {
		err = m.cause
	}
	total := time.Since(m.start)
	severity, level := severityForStatus(status, err)

	attrs := []attribute.KeyValue{
		attribute.Int("http.status_code", status),
		attribute.Float64("tasks.total_ms", durationToMillis(total)),
		attribute.Int("tasks.returned", m.tasksReturned),
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String("tasks.error_stage", m.errorStage))
	}
	if m.span != nil {
		m.span.SetAttributes(attrs...)
		switch {
		case level != log.ErrorLevel:
			m.span.SetStatus(codes.Ok, "")
		case err != nil:
			m.span.RecordError(err)
			m.span.SetStatus(codes.Error, err.Error())
		default:
			m.span.SetStatus(codes.Error, http.StatusText(status))
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"route":          m.route,
		"op":             m.op,
		"status":         status,
		"severity_text":  severity,
		"total_ms":       durationToMillis(total),
		"tasks_returned": m.tasksReturned,
	}
	if m.authDuration > 0 {
		fields["auth_ms"] = durationToMillis(m.authDuration)
	}
	if m.storeDuration > 0 {
		fields["store_ms"] = durationToMillis(m.storeDuration)
	}
	if m.errorStage != "" {
		fields["error_stage"] = m.errorStage
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	if m.span != nil {
		if sc := m.span.SpanContext(); sc.HasTraceID() {
			fields["trace_id"] = sc.TraceID().String()
		}
	}
	m.logger.WithFields(fields).Log(level, tasksMetricsName)
}

func severityForStatus(status int, err error) (string, log.Level) {
	switch {
	case status >= http.StatusInternalServerError, status == 0 && err != nil:
		return "ERROR", log.ErrorLevel
	case status >= http.StatusBadRequest:
		return "WARN", log.WarnLevel
	default:
		return "INFO", log.InfoLevel
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
