package mcpadapter

import (
	"github.com/outofcontext/contextgcd/internal/ctxerrors"
	"github.com/outofcontext/contextgcd/internal/segment"
)

// segmentType maps a caller-supplied string onto segment.Type, defaulting to
// TypeNote for an empty or unrecognized value rather than rejecting the
// call outright — callers commonly omit type on free-form notes.
func segmentType(s string) segment.Type {
	t := segment.Type(s)
	if t.Valid() {
		return t
	}
	return segment.TypeNote
}

func invalidArgument(msg string) error {
	return ctxerrors.InvalidArgument(msg)
}
