package shard

import (
	"github.com/pkg/errors"
	"github.com/xiaonanln/mapshard/engine/proto"
)

// Admission errors
var (
	ErrAlreadyRegistered = errors.New("already registered")
	ErrNotReady          = errors.New("shard not ready")
	ErrInvalidToken      = errors.New("invalid access token")
	// ErrConnectionLost is returned when the client left before admission finished
	ErrConnectionLost = errors.New("connection lost")
	// ErrNestedLogin is returned when another session claimed the character during admission
	ErrNestedLogin      = errors.New("nested login")
	ErrCharacterMissing = errors.New("character not found")
)

// Replication errors
var (
	ErrMapMismatch    = errors.New("map mismatch")
	ErrNotAllocatable = errors.New("shard is not allocate-only")
)

// Storage load errors
var (
	ErrStorageLoading = errors.New("storage is loading")
	ErrStorageBusy    = errors.New("storage is saving")
)

func kickReasonOf(err error) proto.KickReason {
	switch {
	case errors.Is(err, ErrNotReady):
		return proto.KickNotReady
	case errors.Is(err, ErrAlreadyRegistered), errors.Is(err, ErrNestedLogin):
		return proto.KickAlreadyRegistered
	case errors.Is(err, ErrInvalidToken):
		return proto.KickInvalidToken
	}
	return proto.KickLoadFailed
}
