package domain

import "errors"

var (
	ErrInvalid      = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrUnreachable  = errors.New("backend unreachable")
	ErrRejected     = errors.New("backend rejected job")
	ErrExpired      = errors.New("expired")
	ErrMaxRetries   = errors.New("max retries exceeded")
)
