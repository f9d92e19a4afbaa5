package models

import (
	"strings"

	dErrors "shepherd/pkg/domain-errors"
)

// Capability is a permission the identity layer grants to a staff member.
type Capability string

const (
	CapabilityCheckInVolunteer Capability = "check_in_volunteer"
	CapabilitySupervisor       Capability = "supervisor"
)

func (c Capability) IsValid() bool {
	switch c {
	case CapabilityCheckInVolunteer, CapabilitySupervisor:
		return true
	}
	return false
}

func (c Capability) String() string { return string(c) }

func ParseCapability(s string) (Capability, error) {
	c := Capability(strings.ToLower(strings.TrimSpace(s)))
	if !c.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown capability")
	}
	return c, nil
}

// CapabilitySet is the set of capabilities held by one staff member.
type CapabilitySet map[Capability]struct{}

func NewCapabilitySet(caps ...Capability) CapabilitySet {
	set := make(CapabilitySet, len(caps))
	for _, c := range caps {
		set[c] = struct{}{}
	}
	return set
}

func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// HasAny reports whether the set holds at least one of caps.
func (s CapabilitySet) HasAny(caps ...Capability) bool {
	for _, c := range caps {
		if s.Has(c) {
			return true
		}
	}
	return false
}
