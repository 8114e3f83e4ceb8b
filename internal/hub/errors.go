package hub

import "errors"

// ErrUnknownClient is returned by Subscribe for a client id the Hub
// has never registered or has already removed.
var ErrUnknownClient = errors.New("hub: unknown client")
