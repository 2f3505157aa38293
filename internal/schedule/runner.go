// internal/schedule/runner.go
package schedule

import (
	"context"
	"fmt"
	"maps"
	"regexp"
	"time"

	"lambda-dispatch/internal/config"
	"lambda-dispatch/internal/event"
	"lambda-dispatch/internal/metrics"
	"lambda-dispatch/internal/queue"

	"github.com/rs/zerolog"
)

// resolved 는 load 시점에 timezone 과 name 패턴을 미리 해석해 둔 항목.
type resolved struct {
	entry Entry
	loc   *time.Location
	name  *regexp.Regexp
}

// Runner
//
// scheduled trigger 하나를 받아 선언 순서대로 모든 항목을 평가하고,
// 매칭되는 항목을 전부 실행한다. 중복 제거는 하지 않는다.
//
// 항목 목록과 해석된 timezone 은 NewRunner 이후 바뀌지 않는다.
type Runner struct {
	entries []resolved
	queue   queue.Queue
	now     func() time.Time
	metrics *metrics.Metrics
}

type Option func(*Runner)

// WithClock 은 task 생성 시각과 trigger 시각 fallback 에 쓸 시계를 바꾼다.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// NewRunner
//
// 모든 항목의 timezone 과 name 패턴을 해석한다.
// 어느 항목이라도 timezone 을 정할 수 없으면 *config.Error 를 돌려준다.
// 이건 invocation 실패가 아니라 startup 실패다.
//
// q 는 nil 일 수 있다. 그 경우 QueuedEntry 는 매칭돼도 경고만 남긴다.
func NewRunner(globalTimezone string, entries []Entry, q queue.Queue, opts ...Option) (*Runner, error) {
	var global *time.Location
	if globalTimezone != "" {
		l, err := time.LoadLocation(globalTimezone)
		if err != nil {
			return nil, config.Errorf("CRON_TIMEZONE", "cannot load timezone %q: %v", globalTimezone, err)
		}
		global = l
	}

	r := &Runner{queue: q, now: time.Now}
	for _, o := range opts {
		o(r)
	}

	for i, e := range entries {
		s := e.Schedule()
		field := fmt.Sprintf("schedule[%d](%s)", i, s.Name)

		loc := global
		if s.Timezone != "" {
			l, err := time.LoadLocation(s.Timezone)
			if err != nil {
				return nil, config.Errorf(field, "cannot load timezone %q: %v", s.Timezone, err)
			}
			loc = l
		}
		if loc == nil {
			return nil, config.Errorf(field, "no timezone set and no global timezone configured")
		}
		if err := s.validate(); err != nil {
			return nil, config.Errorf(field, "%v", err)
		}

		var name *regexp.Regexp
		if s.NamePattern != "" {
			re, err := regexp.Compile(`^(?:` + s.NamePattern + `)$`)
			if err != nil {
				return nil, config.Errorf(field, "invalid name pattern: %v", err)
			}
			name = re
		}

		switch x := e.(type) {
		case *DirectEntry:
			if x.Handler == nil {
				return nil, config.Errorf(field, "direct entry without handler")
			}
		case *QueuedEntry:
			if x.TaskType == "" {
				return nil, config.Errorf(field, "queued entry without task type")
			}
		}

		r.entries = append(r.entries, resolved{entry: e, loc: loc, name: name})
	}
	return r, nil
}

// Len 은 등록된 항목 수.
func (r *Runner) Len() int { return len(r.entries) }

// Process
//
// trigger 시각은 이벤트의 time 필드이며, 없으면 현재 시각을 쓴다.
// DirectEntry 나 큐 제출이 실패하면 즉시 멈추고 에러를 돌려준다.
// 그 앞에서 이미 실행된 항목은 되돌리지 않는다.
// ctx 가 끝나면 남은 항목을 실행하지 않고 ctx 에러를 돌려준다.
func (r *Runner) Process(ctx context.Context, trig *event.ScheduledTrigger) error {
	log := zerolog.Ctx(ctx)

	ruleARN := trig.LookupKey()
	if ruleARN == "" {
		log.Warn().Msg("scheduled trigger without resources, ignoring")
		return nil
	}

	at := trig.Time
	if at.IsZero() {
		at = r.now()
	}

	for i, re := range r.entries {
		s := re.entry.Schedule()
		if re.name != nil && !re.name.MatchString(ruleARN) {
			continue
		}
		if !matchIn(at, s, re.loc) {
			continue
		}
		// 시간 예산이 끝났으면 이후 항목은 실행하지도, 큐에 넣지도 않는다.
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("schedule %s: %w", entryName(s, i), err)
		}

		switch e := re.entry.(type) {
		case *DirectEntry:
			log.Info().Str("entry", entryName(s, i)).Msg("firing direct schedule")
			r.metrics.ScheduleFired("direct")
			if err := e.Handler(ctx, trig); err != nil {
				return fmt.Errorf("schedule %s: %w", entryName(s, i), err)
			}

		case *QueuedEntry:
			if r.queue == nil {
				log.Warn().Str("entry", entryName(s, i)).Msg("schedule defines queued task, but no queue is configured")
				continue
			}
			if err := r.submit(ctx, trig, e, entryName(s, i)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Runner) submit(ctx context.Context, trig *event.ScheduledTrigger, e *QueuedEntry, name string) error {
	log := zerolog.Ctx(ctx)

	data := e.Data
	if e.Payload != nil {
		data = e.Payload(trig)
	}

	md := make(map[string]any, len(e.Metadata)+2)
	maps.Copy(md, e.Metadata)
	md["cronDelegate"] = true
	md["cronSourceEvent"] = trig.CloudWatchEvent

	t := queue.NewTask(e.TaskType, data, md, r.now())

	if e.FireImmediate {
		log.Info().Str("entry", name).Str("task", e.TaskType).Msg("firing immediate schedule task")
		r.metrics.ScheduleFired("fire_immediate")
		if err := r.queue.FireImmediate(ctx, t); err != nil {
			return fmt.Errorf("schedule %s: fire immediate: %w", name, err)
		}
		return nil
	}

	log.Info().Str("entry", name).Str("task", e.TaskType).Msg("enqueueing schedule task")
	r.metrics.ScheduleFired("enqueue")
	if err := r.queue.Enqueue(ctx, t); err != nil {
		return fmt.Errorf("schedule %s: enqueue: %w", name, err)
	}
	return nil
}

func entryName(s *Spec, idx int) string {
	if s.Name != "" {
		return s.Name
	}
	return fmt.Sprintf("#%d [%s]", idx, s)
}
