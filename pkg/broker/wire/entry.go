// Package wire implements the tagged-union, length-prefixed binary
// encoding for replicated log entries and topic snapshots (§6).
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/chris-alexander-pop/relaymq/pkg/broker"
	"github.com/chris-alexander-pop/relaymq/pkg/broker/brokererr"
)

// Kind discriminates a log entry's payload.
type Kind byte

const (
	KindLoadTopic Kind = iota + 1
	KindUnloadTopic
	KindEndpointOnline
	KindEndpointOffline
	KindSetEpInterest
	KindDelegateMessage
	KindMessageStateUpdate
)

// Entry is a decoded log entry. Exactly one of the kind-specific fields is
// populated, selected by Kind.
type Entry struct {
	Kind Kind

	// LoadTopic
	TopicCode      broker.TopicCode
	ConfigBytes    []byte
	InitialSnapshot []byte // empty if absent

	// EndpointOnline / EndpointOffline / SetEpInterest
	Ep         broker.EndpointAddr
	Interests  []string
	HostNodeId broker.NodeId
	At         time.Time

	// DelegateMessage
	Message broker.Message

	// MessageStateUpdate
	MessageId broker.MessageId
	Updates   []StatusUpdate
}

// StatusUpdate is one (ep, status) pair inside a MessageStateUpdate entry.
type StatusUpdate struct {
	Ep     broker.EndpointAddr
	Status broker.MessageStatus
}

// Encode serializes e as kind-byte + big-endian, length-prefixed fields.
func Encode(e Entry) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(e.Kind))

	switch e.Kind {
	case KindLoadTopic:
		writeString(&buf, string(e.TopicCode))
		writeBytes(&buf, e.ConfigBytes)
		writeBytes(&buf, e.InitialSnapshot)
	case KindUnloadTopic:
		writeString(&buf, string(e.TopicCode))
	case KindEndpointOnline:
		writeString(&buf, string(e.TopicCode))
		writeBytes(&buf, e.Ep.Bytes())
		writeStrings(&buf, e.Interests)
		writeBytes(&buf, hostBytes(e.HostNodeId))
		writeTime(&buf, e.At)
	case KindEndpointOffline:
		writeString(&buf, string(e.TopicCode))
		writeBytes(&buf, e.Ep.Bytes())
		writeBytes(&buf, hostBytes(e.HostNodeId))
	case KindSetEpInterest:
		writeString(&buf, string(e.TopicCode))
		writeBytes(&buf, e.Ep.Bytes())
		writeStrings(&buf, e.Interests)
	case KindDelegateMessage:
		writeString(&buf, string(e.TopicCode))
		writeTime(&buf, e.At)
		if err := writeMessage(&buf, e.Message); err != nil {
			return nil, err
		}
	case KindMessageStateUpdate:
		writeString(&buf, string(e.TopicCode))
		writeBytes(&buf, e.MessageId.Bytes())
		binary.Write(&buf, binary.BigEndian, uint32(len(e.Updates)))
		for _, u := range e.Updates {
			writeBytes(&buf, u.Ep.Bytes())
			buf.WriteByte(byte(u.Status))
		}
	default:
		return nil, fmt.Errorf("wire: unknown entry kind %d", e.Kind)
	}

	return buf.Bytes(), nil
}

// Decode parses a byte-encoded entry. Decoders validate every UTF-8 string
// field and reject an unrecognized kind byte as Unsupported (§7).
func Decode(data []byte) (Entry, error) {
	if len(data) == 0 {
		return Entry{}, fmt.Errorf("wire: empty entry")
	}
	r := bytes.NewReader(data)
	kindByte, _ := r.ReadByte()
	kind := Kind(kindByte)

	var e Entry
	e.Kind = kind

	var err error
	switch kind {
	case KindLoadTopic:
		var code string
		if code, err = readString(r); err != nil {
			return e, err
		}
		e.TopicCode = broker.TopicCode(code)
		if e.ConfigBytes, err = readBytes(r); err != nil {
			return e, err
		}
		if e.InitialSnapshot, err = readBytes(r); err != nil {
			return e, err
		}
	case KindUnloadTopic:
		var code string
		if code, err = readString(r); err != nil {
			return e, err
		}
		e.TopicCode = broker.TopicCode(code)
	case KindEndpointOnline:
		var code string
		if code, err = readString(r); err != nil {
			return e, err
		}
		e.TopicCode = broker.TopicCode(code)
		if e.Ep, err = readEp(r); err != nil {
			return e, err
		}
		if e.Interests, err = readStrings(r); err != nil {
			return e, err
		}
		if e.HostNodeId, err = readNodeId(r); err != nil {
			return e, err
		}
		if e.At, err = readTime(r); err != nil {
			return e, err
		}
	case KindEndpointOffline:
		var code string
		if code, err = readString(r); err != nil {
			return e, err
		}
		e.TopicCode = broker.TopicCode(code)
		if e.Ep, err = readEp(r); err != nil {
			return e, err
		}
		if e.HostNodeId, err = readNodeId(r); err != nil {
			return e, err
		}
	case KindSetEpInterest:
		var code string
		if code, err = readString(r); err != nil {
			return e, err
		}
		e.TopicCode = broker.TopicCode(code)
		if e.Ep, err = readEp(r); err != nil {
			return e, err
		}
		if e.Interests, err = readStrings(r); err != nil {
			return e, err
		}
	case KindDelegateMessage:
		var code string
		if code, err = readString(r); err != nil {
			return e, err
		}
		e.TopicCode = broker.TopicCode(code)
		if e.At, err = readTime(r); err != nil {
			return e, err
		}
		if e.Message, err = readMessage(r); err != nil {
			return e, err
		}
	case KindMessageStateUpdate:
		var code string
		if code, err = readString(r); err != nil {
			return e, err
		}
		e.TopicCode = broker.TopicCode(code)
		var midBytes []byte
		if midBytes, err = readFixed(r, 16); err != nil {
			return e, err
		}
		copy(e.MessageId[:], midBytes)
		var n uint32
		if err = binary.Read(r, binary.BigEndian, &n); err != nil {
			return e, err
		}
		e.Updates = make([]StatusUpdate, n)
		for i := uint32(0); i < n; i++ {
			var epBytes []byte
			if epBytes, err = readFixed(r, 16); err != nil {
				return e, err
			}
			var ep broker.EndpointAddr
			copy(ep[:], epBytes)
			statusByte, err2 := r.ReadByte()
			if err2 != nil {
				return e, err2
			}
			e.Updates[i] = StatusUpdate{Ep: ep, Status: broker.MessageStatus(statusByte)}
		}
	default:
		return e, brokererr.Unsupported(fmt.Sprintf("wire: unsupported entry kind %d", kind))
	}

	return e, nil
}
