package storage

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Trim deletes the oldest artifacts under prefix until at most keep remain.
// It stops at the first delete failure and returns how many artifacts were
// removed along with that error. keep < 1 means retain all.
func Trim(ctx context.Context, s Storage, prefix string, keep int) (int, error) {
	if keep < 1 {
		return 0, nil
	}
	objs, err := s.List(ctx, prefix)
	if err != nil {
		return 0, err
	}
	excess := len(objs) - keep
	if excess <= 0 {
		return 0, nil
	}

	deleted := 0
	for _, obj := range objs[:excess] {
		if err := s.Delete(ctx, obj.Path); err != nil {
			return deleted, err
		}
		deleted++
		log.Info().
			Str("action", "retention_trim").
			Str("storage", s.Name()).
			Str("path", obj.Path).
			Msg("expired artifact removed")
	}
	return deleted, nil
}
