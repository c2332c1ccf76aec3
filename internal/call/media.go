package call

import "context"

// RoomGrant is the opaque handle to the external media backend: a room
// name plus an access token minted by the relay. This package never looks
// inside either.
type RoomGrant struct {
	RoomName string
	Token    string
}

// MediaSession is an established media attachment. Release must be safe to
// call more than once.
type MediaSession interface {
	Release()
}

// Media acquires local devices and joins the media room. Join is the one
// genuinely slow operation in a call setup: it may block on a permission
// prompt and may fail outright (permission denied, no device). The
// coordinator maps a Join error to a failed call, never to a stuck
// connecting state.
type Media interface {
	Join(ctx context.Context, grant RoomGrant, callType string) (MediaSession, error)
}

// NopMedia joins instantly and releases nothing. Used by headless clients
// and tests that exercise signaling without devices.
type NopMedia struct{}

func (NopMedia) Join(ctx context.Context, grant RoomGrant, callType string) (MediaSession, error) {
	return nopMediaSession{}, nil
}

type nopMediaSession struct{}

func (nopMediaSession) Release() {}
