package store

import "errors"

var (
	// ErrNotFound is returned when a tag or version does not exist in the store.
	ErrNotFound = errors.New("store: entry not found")
	// ErrTagExists is returned by Create when the tag already has a committed entry.
	ErrTagExists = errors.New("store: tag already exists")
	// ErrInvalidTag is returned for tags that cannot be used as a directory name.
	ErrInvalidTag = errors.New("store: invalid tag")
	// ErrFinished is returned when a pending entry is used after Commit or Abort.
	ErrFinished = errors.New("store: pending entry already finished")
)
