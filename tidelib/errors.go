package tidelib

import (
	"errors"
	"net"
)

// ErrDialTimeout reports a connect attempt that did not complete within the
// configured bound. Surfaced only from NewSender; reconnects swallow it and
// leave the broken stream for the next write to trip over.
var ErrDialTimeout = errors.New("tidelib: dial timed out")

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
