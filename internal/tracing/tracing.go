// Package tracing 은 dispatch 경로의 OpenTelemetry span 헬퍼.
//
// 전역 TracerProvider 를 사용한다. 설정하지 않으면 no-op 이다.
// Lambda 에서 exporter 를 붙이려면 cold start 에서
// otel.SetTracerProvider 를 먼저 호출한다.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "lambda-dispatch"

// Start 는 internal span 을 시작한다.
// tracer 를 패키지 변수로 잡아 두지 않고 매번 전역 provider 에서 꺼낸다.
// 테스트가 provider 를 바꿔도 바로 반영된다.
func Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// End 는 err 가 있으면 기록하고 span 을 닫는다.
func End(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// Event 는 현재 span 에 event 를 남긴다. 기록 중이 아니면 무시.
func Event(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
