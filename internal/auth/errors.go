package auth

import "errors"

var (
	ErrTokenInvalid = errors.New("auth: invalid token")
	ErrTokenExpired = errors.New("auth: token has expired")
	ErrWrongScope   = errors.New("auth: token scope mismatch")
	ErrNoSecret     = errors.New("auth: signing secret is empty")
	ErrNoSubject    = errors.New("auth: subject is empty")
)
