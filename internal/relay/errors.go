package relay

import "errors"

var (
	// ErrInvalidCommand indicates a command message that could not be parsed.
	ErrInvalidCommand = errors.New("relay: invalid command")

	// ErrCommandDropped indicates the link's command channel was full.
	ErrCommandDropped = errors.New("relay: command dropped")
)
