package pool

import (
	"bytes"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// ---------------------------------------------------------------
// 버퍼 재사용
//
// Lambda sandbox 는 같은 프로세스로 invocation 을 계속 처리한다.
// 응답 gzip, background task payload 압축, 로컬 서버의 body 읽기처럼
// 매 요청마다 생기는 큰 버퍼 할당을 여기서 재사용한다.
//
// 상한(maxCap)보다 커진 버퍼는 pool 로 돌려보내지 않는다.
// 응답 한도(약 5MB)에 가까운 버퍼를 계속 들고 있지 않기 위해서다.
// ---------------------------------------------------------------

// Buffers 는 용량 상한이 있는 bytes.Buffer pool.
type Buffers struct {
	p      sync.Pool
	maxCap int
}

// NewBuffers 는 initial 용량으로 버퍼를 만들고, maxCap 을 넘는 버퍼는 버리는 pool.
func NewBuffers(initial, maxCap int) *Buffers {
	b := &Buffers{maxCap: maxCap}
	b.p.New = func() any { return bytes.NewBuffer(make([]byte, 0, initial)) }
	return b
}

// Get 은 비어 있는 버퍼를 돌려준다.
func (b *Buffers) Get() *bytes.Buffer {
	buf := b.p.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// Put 은 상한 이하인 버퍼만 pool 로 돌려보낸다. 나머지는 GC 로.
func (b *Buffers) Put(buf *bytes.Buffer) {
	if buf == nil || buf.Cap() > b.maxCap {
		return
	}
	buf.Reset()
	b.p.Put(buf)
}

var (
	// Body: 로컬 서버 request body. 4KB 로 시작, 10MB 까지 재사용.
	Body = NewBuffers(4*1024, 10*1024*1024)

	// Scratch: gzip 결과 같은 임시 버퍼. 64KB 로 시작, 1MB 까지 재사용.
	Scratch = NewBuffers(64*1024, 1024*1024)

	// gzip.Writer 재사용. 응답 지연이 곧 과금이므로 BestSpeed.
	gzipWriters = sync.Pool{
		New: func() any {
			w, _ := gzip.NewWriterLevel(nil, gzip.BestSpeed)
			return w
		},
	}
)
