package pathmon

import "errors"

var (
	errNotBound      = errors.New("need at least one bind address")
	errSocketMissing = errors.New("no socket for this address family")
)
