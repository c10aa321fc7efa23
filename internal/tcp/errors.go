package tcp

import (
	"errors"
	"fmt"
)

// ErrBufferOverflow reports an ingress or egress buffer exceeding the
// configured maximum. The offending connection is closed.
var ErrBufferOverflow = errors.New("tcp: buffer overflow")

// SocketSetupError covers construction-time failures: an invalid descriptor
// or a socket option that could not be applied. It fails the connection, not
// the process.
type SocketSetupError struct {
	Op  string
	Err error
}

func (e *SocketSetupError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("tcp: socket setup: %s", e.Op)
	}

	return fmt.Sprintf("tcp: socket setup: %s: %s", e.Op, e.Err)
}

func (e *SocketSetupError) Unwrap() error {
	return e.Err
}
