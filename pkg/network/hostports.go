package network

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
)

// ErrPortInUse is returned when a host port is already published
var ErrPortInUse = errors.New("host port in use")

// HostPorts tracks the host ports published by running instances. Controllers
// sharing one table cannot publish the same host port twice, even when their
// configured port ranges overlap.
type HostPorts struct {
	mu     sync.Mutex
	owners map[int]string   // host port -> instance id
	ports  map[string][]int // instance id -> host ports

	// probe also checks that the port can be bound on the host
	probe bool
}

// NewHostPorts creates an empty table. With probe set, Publish also fails
// for ports held by processes outside the orchestrator.
func NewHostPorts(probe bool) *HostPorts {
	return &HostPorts{
		owners: make(map[int]string),
		ports:  make(map[string][]int),
		probe:  probe,
	}
}

// Publish reserves the host ports of a port map (host -> container) for an
// instance. Either every port is reserved or none is. Publishing again for
// the same instance replaces its previous reservation.
func (p *HostPorts) Publish(instanceID string, ports map[int]int) error {
	if len(ports) == 0 {
		return nil
	}

	hostPorts := make([]int, 0, len(ports))
	for host := range ports {
		hostPorts = append(hostPorts, host)
	}
	sort.Ints(hostPorts)

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, port := range hostPorts {
		owner, taken := p.owners[port]
		if taken && owner != instanceID {
			return fmt.Errorf("%w: %d is published by instance %s", ErrPortInUse, port, owner)
		}
		if p.probe && !taken {
			if err := probePort(port); err != nil {
				return fmt.Errorf("%w: %d: %v", ErrPortInUse, port, err)
			}
		}
	}

	p.release(instanceID)
	for _, port := range hostPorts {
		p.owners[port] = instanceID
	}
	p.ports[instanceID] = hostPorts
	return nil
}

// Unpublish releases every port of an instance
func (p *HostPorts) Unpublish(instanceID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.release(instanceID)
}

// release drops every reservation of an instance; the caller holds p.mu
func (p *HostPorts) release(instanceID string) {
	for _, port := range p.ports[instanceID] {
		if p.owners[port] == instanceID {
			delete(p.owners, port)
		}
	}
	delete(p.ports, instanceID)
}

// Published returns the host ports currently held by an instance
func (p *HostPorts) Published(instanceID string) []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.ports[instanceID]...)
}

// probePort checks that nothing listens on port
func probePort(port int) error {
	lis, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(port)))
	if err != nil {
		return err
	}
	return lis.Close()
}
