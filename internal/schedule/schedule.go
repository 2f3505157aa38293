// internal/schedule/schedule.go
package schedule

import (
	"context"
	"fmt"
	"time"

	"lambda-dispatch/internal/event"
)

// Spec
//
// 스케줄 항목의 공통 부분.
// 모든 명시 필드가 trigger 시각의 로컬(해석된 timezone 기준) 값과 같을 때만 매칭된다.
// Any 필드는 제약이 없다. 모두 Any 면 모든 trigger 에 매칭된다.
//
// Weekday 는 time.Weekday 와 같다 (0 = 일요일).
type Spec struct {
	Name string

	// NamePattern 이 있으면 trigger 의 첫 resource(rule ARN) 가
	// 이 정규식에 전체 일치할 때만 후보가 된다.
	NamePattern string

	Minute     Field
	Hour       Field
	DayOfMonth Field
	Month      Field
	Weekday    Field

	// Timezone 은 IANA 이름. 비어 있으면 전역 timezone.
	Timezone string

	// FireImmediate 는 QueuedEntry 에서만 의미가 있다.
	FireImmediate bool
}

func (s *Spec) String() string {
	return fmt.Sprintf("%s %s %s %s %s", s.Minute, s.Hour, s.DayOfMonth, s.Month, s.Weekday)
}

// Entry 는 DirectEntry 또는 QueuedEntry.
type Entry interface {
	Schedule() *Spec
	entry()
}

// DirectHandler 는 in-process 로 실행되는 스케줄 handler.
type DirectHandler func(ctx context.Context, trigger *event.ScheduledTrigger) error

// DirectEntry 는 매칭되면 Handler 를 같은 invocation 안에서 실행하고 끝날 때까지 기다린다.
// Handler 의 에러는 invocation 실패로 이어진다.
type DirectEntry struct {
	Spec
	Handler DirectHandler
}

func (e *DirectEntry) Schedule() *Spec { return &e.Spec }
func (*DirectEntry) entry()            {}

// PayloadFunc 는 trigger 마다 task data 를 만든다.
type PayloadFunc func(trigger *event.ScheduledTrigger) any

// QueuedEntry 는 매칭되면 background task 를 만들어 큐로 넘긴다.
// FireImmediate 면 큐 대신 즉시 처리 요청을 보낸다.
type QueuedEntry struct {
	Spec
	TaskType string
	Data     any
	Metadata map[string]any

	// Payload 가 있으면 Data 대신 그 결과를 task data 로 쓴다.
	Payload PayloadFunc
}

func (e *QueuedEntry) Schedule() *Spec { return &e.Spec }
func (*QueuedEntry) entry()            {}

// Matches
//
// t 를 spec 의 timezone(없으면 global) 로 바꾼 로컬 달력 값이
// spec 의 모든 명시 필드와 같은지 본다.
// timezone 을 해석할 수 없으면 false. 설정 단계 검사는 NewRunner 가 한다.
func Matches(t time.Time, spec Spec, global *time.Location) bool {
	loc := global
	if spec.Timezone != "" {
		l, err := time.LoadLocation(spec.Timezone)
		if err != nil {
			return false
		}
		loc = l
	}
	if loc == nil {
		return false
	}
	return matchIn(t, &spec, loc)
}

func matchIn(t time.Time, s *Spec, loc *time.Location) bool {
	lt := t.In(loc)
	return s.Minute.Matches(lt.Minute()) &&
		s.Hour.Matches(lt.Hour()) &&
		s.DayOfMonth.Matches(lt.Day()) &&
		s.Month.Matches(int(lt.Month())) &&
		s.Weekday.Matches(int(lt.Weekday()))
}

// validate 는 명시 값들이 달력 범위 안인지 검사한다.
func (s *Spec) validate() error {
	checks := []struct {
		name   string
		f      Field
		lo, hi int
	}{
		{"minute", s.Minute, 0, 59},
		{"hour", s.Hour, 0, 23},
		{"day_of_month", s.DayOfMonth, 1, 31},
		{"month", s.Month, 1, 12},
		{"weekday", s.Weekday, 0, 6},
	}
	for _, c := range checks {
		if !c.f.inRange(c.lo, c.hi) {
			return fmt.Errorf("%s %s out of range [%d,%d]", c.name, c.f, c.lo, c.hi)
		}
	}
	return nil
}
