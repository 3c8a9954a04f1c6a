package storage

import "errors"

var (
	ErrNotFound        = errors.New("record not found")
	ErrDuplicate       = errors.New("record already exists")
	ErrTokenUsed       = errors.New("enrollment token already used")
	ErrTokenExpired    = errors.New("enrollment token expired")
	ErrUnknownDriver   = errors.New("unknown storage driver")
	ErrInvalidPlatform = errors.New("invalid device platform")
)
