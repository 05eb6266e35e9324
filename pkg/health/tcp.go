package health

import (
	"context"
	"net"
	"time"
)

// TCPChecker reports ready once the published port accepts connections.
// Used for deciders that speak a custom protocol with no health route.
type TCPChecker struct {
	Address string
	Timeout time.Duration
}

// NewTCPChecker creates a checker for a host:port
func NewTCPChecker(address string) *TCPChecker {
	return &TCPChecker{Address: address, Timeout: 5 * time.Second}
}

// Check dials the address and closes the connection straight away
func (t *TCPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	d := net.Dialer{Timeout: t.Timeout}
	conn, err := d.DialContext(ctx, "tcp", t.Address)
	if err != nil {
		return newResult(start, false, "dial %s: %v", t.Address, err)
	}
	_ = conn.Close()
	return newResult(start, true, "%s accepts connections", t.Address)
}

// Type returns the health check type
func (t *TCPChecker) Type() CheckType {
	return CheckTypeTCP
}

// WithTimeout sets the dial timeout
func (t *TCPChecker) WithTimeout(timeout time.Duration) *TCPChecker {
	t.Timeout = timeout
	return t
}
