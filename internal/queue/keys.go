// internal/queue/keys.go
package queue

import (
	"fmt"
	"sync/atomic"
	"time"
)

// ------------------------------------------------------------
// offload 객체 key 규칙
//
//	<prefix>/dt=<YYYY-MM-DD>/hr=<HH>/<unix>_<instance>_<counter>.json.gz
//
// 예:
//
//	background/dt=2024-03-11/hr=09/1710145200_169.254.10.1_000042.json.gz
//
// 사전순 정렬이 곧 시간순 정렬이라 S3 lifecycle / 수동 조사에 편하다.
// 날짜 파티션은 UTC 기준이다.
// ------------------------------------------------------------

var globalCounter uint64

// nextCounter 는 sandbox 안에서 증가하는 일련번호. 1e6 에서 0 으로 돈다.
// timestamp + instance 조합과 함께 쓰므로 wrap-around 되어도 충돌하지 않는다.
func nextCounter() uint64 {
	return atomic.AddUint64(&globalCounter, 1) % 1_000_000
}

// newFilename 은 <unix>_<instance>_<counter>.json.gz 를 만든다.
func newFilename(instanceID string, now time.Time) string {
	return fmt.Sprintf("%d_%s_%06d.json.gz", now.Unix(), instanceID, nextCounter())
}

// buildKey 는 파티션 prefix 를 붙인 전체 key 를 만든다.
func buildKey(prefix, filename string, now time.Time) string {
	u := now.UTC()
	return fmt.Sprintf("%s/dt=%s/hr=%s/%s", prefix, u.Format("2006-01-02"), u.Format("15"), filename)
}
