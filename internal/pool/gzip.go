package pool

import (
	"bytes"
	"fmt"
	"io"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
)

// Gzip 은 data 를 압축한 새 slice 를 돌려준다.
//
// gzip.Writer 와 결과 버퍼는 pool 에서 빌려 쓰고,
// 결과는 caller 소유의 새 slice 로 복사한다.
// (pool 버퍼를 그대로 반환하면 다음 사용자가 덮어쓴다)
func Gzip(data []byte) ([]byte, error) {
	return compress(func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// GzipJSON 은 v 를 goccy/go-json 으로 인코딩하면서 바로 gzip writer 에 쓴다.
// background task 의 S3 offload payload 를 만들 때 쓴다.
func GzipJSON(v any) ([]byte, error) {
	return compress(func(w io.Writer) error {
		return json.NewEncoder(w).Encode(v)
	})
}

func compress(write func(io.Writer) error) ([]byte, error) {

	// ------------------------------------------------------------
	// 1) 결과 버퍼 / gzip writer 를 pool 에서 가져온다
	// ------------------------------------------------------------
	buf := Scratch.Get()
	gz := gzipWriters.Get().(*gzip.Writer)
	gz.Reset(buf)

	// ------------------------------------------------------------
	// 2) 본문 쓰기. 실패해도 writer 는 닫고 pool 로 돌려준다
	// ------------------------------------------------------------
	if err := write(gz); err != nil {
		_ = gz.Close()
		gzipWriters.Put(gz)
		Scratch.Put(buf)
		return nil, fmt.Errorf("gzip write: %w", err)
	}

	// ------------------------------------------------------------
	// 3) footer flush
	// ------------------------------------------------------------
	if err := gz.Close(); err != nil {
		gzipWriters.Put(gz)
		Scratch.Put(buf)
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	gzipWriters.Put(gz)

	// ------------------------------------------------------------
	// 4) caller 소유 slice 로 복사 후 버퍼 반환
	// ------------------------------------------------------------
	raw := buf.Bytes()
	out := make([]byte, len(raw))
	copy(out, raw)
	Scratch.Put(buf)

	return out, nil
}

// Gunzip 은 Gzip 의 역연산. offload 된 payload 를 다시 읽을 때 쓴다.
func Gunzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gunzip: %w", err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gunzip: %w", err)
	}
	return out, nil
}
