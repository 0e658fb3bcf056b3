// Package broker holds the identifier and message types shared across the
// topic core (interest, queue, topic, wire, node) and its collaborators.
package broker

import (
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"
)

// TopicCode identifies a topic. It is a validated, non-empty UTF-8 string
// rather than a raw byte slice so it can be used directly as a map key.
type TopicCode string

// NewTopicCode validates and wraps a topic identifier.
func NewTopicCode(s string) (TopicCode, error) {
	if s == "" {
		return "", fmt.Errorf("broker: empty topic code")
	}
	if !utf8.ValidString(s) {
		return "", fmt.Errorf("broker: topic code is not valid UTF-8")
	}
	return TopicCode(s), nil
}

// EndpointAddr is a globally unique identifier for a subscriber attachment.
// Backed by a UUID: 16 bytes, orderable by raw bytes, hashable as a Go
// array type without a custom Compare implementation.
type EndpointAddr uuid.UUID

// NewEndpointAddr generates a fresh address.
func NewEndpointAddr() EndpointAddr {
	return EndpointAddr(uuid.New())
}

func (e EndpointAddr) String() string {
	return uuid.UUID(e).String()
}

// Less orders two addresses by raw byte value, used wherever the spec
// requires a deterministic endpoint-address sort.
func (e EndpointAddr) Less(other EndpointAddr) bool {
	return bytesLess(e[:], other[:])
}

// Bytes returns the raw 16-byte encoding.
func (e EndpointAddr) Bytes() []byte {
	return e[:]
}

// NodeId identifies a broker instance within the cluster.
type NodeId uuid.UUID

func NewNodeId() NodeId {
	return NodeId(uuid.New())
}

func (n NodeId) String() string {
	return uuid.UUID(n).String()
}

// MessageId uniquely identifies a message; used as the queue key and ack
// correlation handle.
type MessageId uuid.UUID

func NewMessageId() MessageId {
	return MessageId(uuid.New())
}

func (m MessageId) String() string {
	return uuid.UUID(m).String()
}

func (m MessageId) Bytes() []byte {
	return m[:]
}

func bytesLess(a, b []byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
