package schedule

import (
	"fmt"
	"time"

	"lambda-dispatch/internal/config"

	"github.com/robfig/cron/v3"
)

// starBit 은 robfig/cron 이 "*" / "?" 필드에 세우는 비트.
const starBit = 1 << 63

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseCron
//
// 5 필드 cron 문자열(또는 @daily 같은 descriptor)을 Spec 의 시간 필드로 바꾼다.
// 문법 해석만 robfig/cron 에 맡기고, 매칭은 Matches 의 규칙(모든 명시 필드 AND)을 따른다.
// robfig 의 일/요일 OR 규칙은 쓰지 않는다.
//
// "CRON_TZ=Asia/Seoul 0 3 * * *" 처럼 timezone prefix 가 있으면 Timezone 도 채운다.
// @every 같은 간격 스케줄은 달력 필드로 표현할 수 없어 에러다.
func ParseCron(expr string) (Spec, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return Spec{}, fmt.Errorf("parse cron %q: %w", expr, err)
	}
	ss, ok := sched.(*cron.SpecSchedule)
	if !ok {
		return Spec{}, fmt.Errorf("cron %q is an interval schedule, not a calendar schedule", expr)
	}

	s := Spec{
		Minute:     fieldFromBits(ss.Minute, 0, 59),
		Hour:       fieldFromBits(ss.Hour, 0, 23),
		DayOfMonth: fieldFromBits(ss.Dom, 1, 31),
		Month:      fieldFromBits(ss.Month, 1, 12),
		Weekday:    fieldFromBits(ss.Dow, 0, 6),
	}
	if ss.Location != nil && ss.Location != time.Local {
		s.Timezone = ss.Location.String()
	}
	return s, nil
}

func fieldFromBits(bits uint64, lo, hi int) Field {
	if bits&starBit != 0 {
		return Any()
	}
	var vs []int
	for v := lo; v <= hi; v++ {
		if bits&(1<<uint(v)) != 0 {
			vs = append(vs, v)
		}
	}
	// 범위 전체가 켜져 있으면 wildcard 와 같다 (예: "0-59").
	if len(vs) == hi-lo+1 {
		return Any()
	}
	return OneOf(vs...)
}

// FromFile
//
// YAML 스케줄 파일의 항목을 QueuedEntry 목록으로 바꾼다.
// cron 이 있으면 개별 필드보다 우선하고, 항목의 timezone 은 cron 의 CRON_TZ 보다 우선한다.
// 파일의 timezone 은 NewRunner 의 전역 timezone 으로 쓰도록 함께 돌려준다.
func FromFile(f *config.ScheduleFile) ([]Entry, string, error) {
	if f == nil {
		return nil, "", nil
	}

	out := make([]Entry, 0, len(f.Entries))
	for i, t := range f.Entries {
		var spec Spec
		if t.Cron != "" {
			parsed, err := ParseCron(t.Cron)
			if err != nil {
				return nil, "", config.Errorf(fmt.Sprintf("entries[%d].cron", i), "%v", err)
			}
			spec = parsed
		} else {
			spec = Spec{
				Minute:     OneOf(t.Minute...),
				Hour:       OneOf(t.Hour...),
				DayOfMonth: OneOf(t.DayOfMonth...),
				Month:      OneOf(t.Month...),
				Weekday:    OneOf(t.Weekday...),
			}
		}

		spec.Name = t.Name
		spec.NamePattern = t.NamePattern
		spec.FireImmediate = t.FireImmediate
		if t.Timezone != "" {
			spec.Timezone = t.Timezone
		}

		var data any
		if t.Data != nil {
			data = t.Data
		}
		out = append(out, &QueuedEntry{
			Spec:     spec,
			TaskType: t.TaskType,
			Data:     data,
			Metadata: t.Metadata,
		})
	}
	return out, f.Timezone, nil
}
