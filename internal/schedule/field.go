package schedule

import (
	"slices"
	"strconv"
	"strings"
)

// Field
//
// 스케줄의 시간 필드 하나 (분, 시, 일, 월, 요일).
// 세 가지 형태 중 하나다.
//
//	Any()          : 제약 없음 (wildcard)
//	Only(5)        : 정확히 5
//	OneOf(0, 30)   : 0 또는 30
//
// zero value 는 Any 다.
type Field struct {
	values []int
}

func Any() Field { return Field{} }

func Only(v int) Field { return Field{values: []int{v}} }

// OneOf 는 값 집합. 인자가 없으면 Any 와 같다.
func OneOf(vs ...int) Field {
	if len(vs) == 0 {
		return Field{}
	}
	out := slices.Clone(vs)
	slices.Sort(out)
	return Field{values: slices.Compact(out)}
}

func (f Field) IsAny() bool { return len(f.values) == 0 }

// Values 는 명시된 값 목록의 복사본. Any 면 nil.
func (f Field) Values() []int { return slices.Clone(f.values) }

// Matches 는 v 가 이 필드를 만족하는지. Any 는 항상 true.
func (f Field) Matches(v int) bool {
	if f.IsAny() {
		return true
	}
	_, found := slices.BinarySearch(f.values, v)
	return found
}

func (f Field) String() string {
	if f.IsAny() {
		return "*"
	}
	parts := make([]string, len(f.values))
	for i, v := range f.values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

// inRange 는 명시된 값이 모두 [lo, hi] 안에 있는지.
func (f Field) inRange(lo, hi int) bool {
	for _, v := range f.values {
		if v < lo || v > hi {
			return false
		}
	}
	return true
}
