// internal/background/builtin.go
package background

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"
)

// 기본 제공 processor 의 task type.
const (
	EchoType        = "BuiltInEcho"
	NoOpType        = "BuiltInNoOp"
	SampleDelayType = "BuiltInSampleDelay"
)

// Echo 는 data / metadata 를 info 로그로 남긴다. 배선 확인용.
func Echo(ctx context.Context, data any, metadata map[string]any) error {
	zerolog.Ctx(ctx).Info().Interface("data", data).Interface("metadata", metadata).Msg("echo processing")
	return nil
}

// NoOp 은 아무것도 하지 않는다.
func NoOp(context.Context, any, map[string]any) error { return nil }

// SampleDelay 는 0 ~ limit 사이 임의 시간만큼 기다린다.
// ctx 가 먼저 끝나면 ctx 에러를 돌려준다.
func SampleDelay(limit time.Duration) Processor {
	return func(ctx context.Context, _ any, _ map[string]any) error {
		d := time.Duration(0)
		if limit > 0 {
			d = rand.N(limit)
		}
		log := zerolog.Ctx(ctx)
		log.Info().Dur("delay", d).Msg("running sample delay processor")

		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}

		log.Info().Msg("sample delay processor complete")
		return nil
	}
}

// RegisterBuiltins 는 기본 processor 셋을 등록한다.
func RegisterBuiltins(h *Handler) error {
	for typ, p := range map[string]Processor{
		EchoType:        Echo,
		NoOpType:        NoOp,
		SampleDelayType: SampleDelay(5 * time.Second),
	} {
		if err := h.Register(typ, p); err != nil {
			return err
		}
	}
	return nil
}
