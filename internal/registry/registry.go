// internal/registry/registry.go
package registry

import (
	"fmt"
	"regexp"
)

// Entry
//
// 하나의 handler 등록 항목.
// Pattern 은 정규식이며 등록 시점에 전체 일치(^(?:...)$) 형태로 컴파일된다.
type Entry[H any] struct {
	Pattern string
	Handler H

	re *regexp.Regexp
}

// Matches 는 key 전체가 Pattern 에 일치하는지 확인한다. 부분 일치는 실패다.
func (e Entry[H]) Matches(key string) bool {
	return e.re != nil && e.re.MatchString(key)
}

// Registry
//
// 카테고리 하나에 대한 ordered handler 목록.
// cold start 시 Register 로 채우고 그 이후에는 읽기만 한다.
// 여러 invocation 이 동시에 Lookup 해도 안전하다.
//
// 조회 규칙은 "먼저 등록된 것이 이긴다" 이다.
// 뒤에 등록된 패턴이 더 구체적이어도 앞의 항목이 먼저 맞으면 그 항목이 선택된다.
type Registry[H any] struct {
	entries []Entry[H]
}

// New 는 빈 Registry 를 만든다.
func New[H any]() *Registry[H] {
	return &Registry[H]{}
}

// Register 는 pattern 을 컴파일해 목록 끝에 추가한다.
// 잘못된 정규식이면 에러를 돌려주고 목록은 바뀌지 않는다.
func (r *Registry[H]) Register(pattern string, h H) error {
	re, err := regexp.Compile(`^(?:` + pattern + `)$`)
	if err != nil {
		return fmt.Errorf("registry: invalid pattern %q: %w", pattern, err)
	}
	r.entries = append(r.entries, Entry[H]{Pattern: pattern, Handler: h, re: re})
	return nil
}

// MustRegister 는 Register 가 실패하면 panic 한다. 초기화 코드용.
func (r *Registry[H]) MustRegister(pattern string, h H) *Registry[H] {
	if err := r.Register(pattern, h); err != nil {
		panic(err)
	}
	return r
}

// Lookup 은 key 에 전체 일치하는 첫 번째 항목을 찾는다.
// nil Registry 는 항상 miss 다.
func (r *Registry[H]) Lookup(key string) (Entry[H], bool) {
	if r == nil {
		var zero Entry[H]
		return zero, false
	}
	for _, e := range r.entries {
		if e.Matches(key) {
			return e, true
		}
	}
	var zero Entry[H]
	return zero, false
}

// Len 은 등록된 항목 수.
func (r *Registry[H]) Len() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}
