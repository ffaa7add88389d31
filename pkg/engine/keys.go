package engine

import (
	"fmt"
	"sort"
	"strings"
)

// Input addresses a value a task reads. Each subsystem declares its own keys.
type Input string

// Output addresses a value a task produces.
type Output string

// ErrorKind classifies an entry in a task's error map.
type ErrorKind string

// Capability is a permission to perform a class of side effect.
type Capability string

// Error kinds recorded by tasks and the coordinator.
const (
	ErrorMessage    ErrorKind = "task.message"
	ErrorException  ErrorKind = "task.exception"
	ErrorCapability ErrorKind = "task.capability"
	ErrorTimeout    ErrorKind = "task.timeout"
)

// Capabilities granted to a run.
const (
	CapCreateInstances Capability = "CLOUD_CREATE_INSTANCES"
	CapDeleteResources Capability = "CLOUD_DELETE_RESOURCES"
	CapShellInstall    Capability = "SHELL_INSTALL"
)

var knownCapabilities = map[Capability]struct{}{
	CapCreateInstances: {},
	CapDeleteResources: {},
	CapShellInstall:    {},
}

// CapabilitySet is the set of capabilities granted for a run.
// It is built once at configuration time and only read afterwards.
type CapabilitySet struct {
	granted map[Capability]struct{}
}

// NewCapabilitySet returns a set holding caps.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	s := CapabilitySet{granted: make(map[Capability]struct{}, len(caps))}
	for _, c := range caps {
		s.granted[c] = struct{}{}
	}
	return s
}

// ParseCapabilities builds a set from configured names. Names are
// case-insensitive; unknown names are rejected so a typo never silently
// withholds a permission the operator meant to grant.
func ParseCapabilities(names []string) (CapabilitySet, error) {
	caps := make([]Capability, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		c := Capability(strings.ToUpper(n))
		if _, ok := knownCapabilities[c]; !ok {
			return CapabilitySet{}, fmt.Errorf("unknown capability %q", n)
		}
		caps = append(caps, c)
	}
	return NewCapabilitySet(caps...), nil
}

// Has reports whether c was granted.
func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s.granted[c]
	return ok
}

// List returns the granted capabilities in sorted order.
func (s CapabilitySet) List() []Capability {
	out := make([]Capability, 0, len(s.granted))
	for c := range s.granted {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
