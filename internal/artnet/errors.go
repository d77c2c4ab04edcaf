package artnet

import "errors"

// Domain errors for the Art-Net listener.
var (
	// ErrListenFailed is returned when the UDP socket cannot be opened.
	ErrListenFailed = errors.New("artnet: listen failed")
)
