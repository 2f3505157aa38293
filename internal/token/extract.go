package token

import (
	"slices"
	"strings"
)

const (
	// BearerPrefix 는 대소문자를 구분한다. "bearer xxx" 는 토큰으로 보지 않는다.
	BearerPrefix = "Bearer "

	// AuthHeaderName 은 header 이름 비교용 소문자 이름.
	AuthHeaderName = "authorization"
)

// ExtractBearer
//
// header map 에서 Authorization 을 이름 대소문자 무시로 찾고,
// "Bearer " 접두사를 떼어 토큰 문자열을 돌려준다.
//
// 같은 header 가 대소문자만 다르게 여러 개 있으면
// "Authorization" 을 먼저 보고, 나머지는 이름 순으로 본다.
// Bearer 인 첫 값이 이긴다. map 순회 순서와 상관없이 결과가 같다.
//
// header 가 없거나 scheme 이 다르면 ("", false).
// 이건 에러가 아니라 "credential 없음" 이다.
// 호출자는 이것으로 '토큰 없음' 과 '잘못된 토큰' 을 구분한다.
func ExtractBearer(headers map[string]string) (string, bool) {
	if v, ok := headers["Authorization"]; ok && strings.HasPrefix(v, BearerPrefix) {
		return v[len(BearerPrefix):], true
	}

	var keys []string
	for k := range headers {
		if k != "Authorization" && strings.EqualFold(strings.TrimSpace(k), AuthHeaderName) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	for _, k := range keys {
		if v := headers[k]; strings.HasPrefix(v, BearerPrefix) {
			return v[len(BearerPrefix):], true
		}
	}
	return "", false
}

// ExtractFromAuthorizer 는 API Gateway custom authorizer 이벤트의
// authorizationToken 값에서 토큰을 꺼낸다.
func ExtractFromAuthorizer(authorizationToken string) (string, bool) {
	if strings.HasPrefix(authorizationToken, BearerPrefix) {
		return authorizationToken[len(BearerPrefix):], true
	}
	return "", false
}
