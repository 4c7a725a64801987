package otel

import (
	"context"
	"encoding/json"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/ShiroSan123/otp-valhalla/internal/audit/domain"
)

const instrumentationName = "otp-valhalla.audit"

// recordEmitter is the part of otellog.Logger the emitter uses.
type recordEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// EventEmitter writes session lifecycle events as OTel log records. It implements audit.Sink.
type EventEmitter struct {
	logger recordEmitter
}

// NewEventEmitter returns an emitter over provider. A nil provider yields an emitter that drops everything.
func NewEventEmitter(provider *sdklog.LoggerProvider) *EventEmitter {
	if provider == nil {
		return &EventEmitter{}
	}
	return &EventEmitter{logger: provider.Logger(instrumentationName)}
}

// NewEventEmitterWithLogger returns an emitter that sends records to l.
func NewEventEmitterWithLogger(l recordEmitter) *EventEmitter {
	return &EventEmitter{logger: l}
}

// Record converts e to a log record. The body is the event JSON; the code hash is never included.
func (e *EventEmitter) Record(ctx context.Context, ev domain.Event) error {
	if e == nil || e.logger == nil {
		return nil
	}
	rec := otellog.Record{}
	ts := ev.OccurredAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	rec.SetTimestamp(ts)
	rec.SetSeverity(otellog.SeverityInfo)

	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	rec.SetBody(otellog.BytesValue(body))

	attrs := []otellog.KeyValue{otellog.String("event_type", string(ev.Type))}
	if ev.Record.ID != "" {
		attrs = append(attrs, otellog.String("session_id", ev.Record.ID))
	}
	if ev.Record.Provider != "" {
		attrs = append(attrs, otellog.String("provider", ev.Record.Provider))
	}
	if ev.Record.Status != "" {
		attrs = append(attrs, otellog.String("status", ev.Record.Status))
	}
	rec.AddAttributes(attrs...)

	e.logger.Emit(ctx, rec)
	return nil
}
