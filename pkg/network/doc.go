// Package network tracks the host ports published by decider containers.
//
// Web-service deciders publish HostPort+i for the i-th allowed parameter.
// Two deciders configured with overlapping ranges would otherwise collide
// only inside the container engine, with an opaque error. A shared HostPorts
// table turns that into an immediate ErrPortInUse when the second instance
// starts, and the port is released when the instance stops.
package network
