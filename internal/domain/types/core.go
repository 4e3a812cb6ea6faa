package types

import (
	"fmt"
	"strings"
)

// Fingerprint is a short identifier for public keys presented to users.
type Fingerprint string

// String returns the string form of the fingerprint.
func (f Fingerprint) String() string { return string(f) }

// DeviceID identifies this companion device.
type DeviceID string

// String returns the string form of the device identifier.
func (id DeviceID) String() string { return string(id) }

// MessageID identifies a message within a conversation. Edits and deletes
// reuse the identifier of the message they revise.
type MessageID string

// String returns the string form of the message identifier.
func (id MessageID) String() string { return string(id) }

// TargetKind distinguishes one-to-one conversations from groups.
type TargetKind uint8

const (
	TargetPeer  TargetKind = 1
	TargetGroup TargetKind = 2
)

// String returns the prefix used in the textual target form.
func (k TargetKind) String() string {
	switch k {
	case TargetPeer:
		return "peer"
	case TargetGroup:
		return "group"
	default:
		return fmt.Sprintf("kind%d", uint8(k))
	}
}

// Target is a conversation target: a single peer or a group.
type Target struct {
	Kind TargetKind `json:"kind"`
	ID   string     `json:"id"`
}

// Peer returns a one-to-one target.
func Peer(id string) Target { return Target{Kind: TargetPeer, ID: id} }

// Group returns a group target.
func Group(id string) Target { return Target{Kind: TargetGroup, ID: id} }

// IsZero reports whether the target is unset.
func (t Target) IsZero() bool { return t.Kind == 0 && t.ID == "" }

// String renders the target as "kind:id", e.g. "group:group-42".
func (t Target) String() string { return t.Kind.String() + ":" + t.ID }

// ParseTarget parses the textual form produced by Target.String. A bare
// identifier without a prefix is taken as a peer.
func ParseTarget(s string) (Target, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Target{}, fmt.Errorf("empty conversation target")
	}
	prefix, id, ok := strings.Cut(s, ":")
	if !ok {
		return Peer(s), nil
	}
	if id == "" {
		return Target{}, fmt.Errorf("conversation target %q has no id", s)
	}
	switch prefix {
	case "peer":
		return Peer(id), nil
	case "group":
		return Group(id), nil
	default:
		// Identifiers may themselves contain colons (e.g. "user:1@host").
		return Peer(s), nil
	}
}
