package ports

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/phayes/freeport"
)

// ErrUnavailable means a caller-fixed port is already bound on this host.
var ErrUnavailable = errors.New("port unavailable")

// Allocate picks or validates a TCP port. With preferred > 0 the port is
// probed and returned, or ErrUnavailable when busy. With preferred == 0 an
// OS-assigned free port is returned. The probe socket is released before the
// engine binds the port itself, so the caller must treat an immediate bind
// failure as retryable and re-allocate.
func Allocate(preferred int) (int, error) {
	if preferred > 0 {
		if preferred > 65535 {
			return 0, fmt.Errorf("port %d out of range", preferred)
		}
		if !available(preferred) {
			return 0, fmt.Errorf("%w: %d", ErrUnavailable, preferred)
		}
		return preferred, nil
	}
	p, err := freeport.GetFreePort()
	if err != nil {
		return 0, fmt.Errorf("allocate ephemeral port: %w", err)
	}
	return p, nil
}

// Pair allocates the HTTP and secure ports the serve phase needs. When fixed
// is nonzero it becomes the HTTP port and only the secure port is dynamic.
func Pair(fixed int) (httpPort, securePort int, err error) {
	httpPort, err = Allocate(fixed)
	if err != nil {
		return 0, 0, err
	}
	for {
		securePort, err = Allocate(0)
		if err != nil {
			return 0, 0, err
		}
		if securePort != httpPort {
			return httpPort, securePort, nil
		}
	}
}

// available reports whether the port can currently be bound locally.
func available(port int) bool {
	l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}
