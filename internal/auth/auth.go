// internal/auth/auth.go
package auth

import (
	"context"
	"errors"
	"strings"

	"lambda-dispatch/internal/filter"
	"lambda-dispatch/internal/httperr"
	"lambda-dispatch/internal/token"

	"github.com/rs/zerolog"
)

// Validator 는 토큰 문자열을 검증해 claim 을 돌려준다. token.Manager 가 구현한다.
type Validator interface {
	Validate(tokenString string) (*token.Claims, error)
}

// ------------------------------------------------------------
// 인증 / 인가 filter
//
// pre filter 로 꽂아 쓴다.
//
//	chain.Pre = append(chain.Pre, auth.RequireToken(mgr), auth.RequireAnyRole("ADMIN"))
//
// 성공하면 req.Authorization 에 claim 을 채운다.
// 실패는 httperr 로 돌려주므로 error filter 를 거쳐 401 / 403 응답이 된다.
// 토큰 검증 실패의 상세 사유는 로그에만 남기고 응답에는 싣지 않는다.
// ------------------------------------------------------------

// RequireToken 은 유효한 Bearer 토큰이 없으면 401 로 멈춘다.
func RequireToken(v Validator) filter.Filter {
	return func(ctx context.Context, fc *filter.Context) (bool, error) {
		raw, ok := token.ExtractBearer(fc.Event.Headers)
		if !ok {
			return false, httperr.Unauthorized("Missing bearer token")
		}
		return authenticate(ctx, v, fc, raw)
	}
}

// OptionalToken 은 토큰이 없으면 그냥 통과하고, 있으면 RequireToken 과 같이 검증한다.
// 잘못된 토큰을 익명으로 취급하지 않는다.
func OptionalToken(v Validator) filter.Filter {
	return func(ctx context.Context, fc *filter.Context) (bool, error) {
		raw, ok := token.ExtractBearer(fc.Event.Headers)
		if !ok {
			return true, nil
		}
		return authenticate(ctx, v, fc, raw)
	}
}

func authenticate(ctx context.Context, v Validator, fc *filter.Context, raw string) (bool, error) {
	claims, err := v.Validate(raw)
	if err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Msg("token rejected")
		if errors.Is(err, token.ErrExpiredToken) {
			return false, httperr.Unauthorized("Token expired")
		}
		return false, httperr.Unauthorized("Invalid token")
	}
	fc.Event.Authorization = claims
	return true, nil
}

// RequireAnyRole 은 claim 에 roles 중 하나라도 있어야 통과시킨다.
// 인증 filter 뒤에 둬야 한다. 인증 정보가 없으면 401, role 이 없으면 403.
func RequireAnyRole(roles ...string) filter.Filter {
	return func(_ context.Context, fc *filter.Context) (bool, error) {
		c := fc.Event.Authorization
		if c == nil {
			return false, httperr.Unauthorized("Authentication required")
		}
		for _, r := range roles {
			if c.HasRole(r) {
				return true, nil
			}
		}
		return false, httperr.Forbidden("Requires one of roles: %s", strings.Join(roles, ", "))
	}
}
