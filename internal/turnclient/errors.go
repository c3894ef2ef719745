package turnclient

import "errors"

var (
	ErrNoServers        = errors.New("turnclient: no STUN/TURN servers configured")
	ErrNoMappedAddress  = errors.New("turnclient: server returned no mapped address")
	ErrNotAllocated     = errors.New("turnclient: no active allocation")
	ErrAllocationFailed = errors.New("turnclient: allocation failed")
	ErrRefreshFailed    = errors.New("turnclient: allocation refresh failed")
	ErrPermissionFailed = errors.New("turnclient: permission creation failed")
	ErrClosed           = errors.New("turnclient: client closed")
)
