package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/chris-alexander-pop/relaymq/pkg/broker"
	"github.com/chris-alexander-pop/relaymq/pkg/broker/queue"
	"github.com/chris-alexander-pop/relaymq/pkg/broker/topic"
)

var snapshotMagic = [4]byte{'r', 'm', 'q', 's'}

const snapshotVersion = 1

// EncodeSnapshot serializes a single topic's snapshot: the four tables and
// an admission-ordered list of durable hold messages (§4.8).
func EncodeSnapshot(s topic.Snapshot) []byte {
	var buf bytes.Buffer
	buf.Write(snapshotMagic[:])
	buf.WriteByte(snapshotVersion)

	binary.Write(&buf, binary.BigEndian, uint32(s.Config.Overflow.Size))
	buf.WriteByte(byte(s.Config.Overflow.Policy))
	if s.Config.Overflow.Enabled {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}

	binary.Write(&buf, binary.BigEndian, uint32(len(s.Endpoints)))
	for _, e := range s.Endpoints {
		writeBytes(&buf, e.Ep.Bytes())
		writeBytes(&buf, hostBytes(e.Host))
		writeTime(&buf, e.LastActive)
		writeStrings(&buf, e.Interests)
	}

	binary.Write(&buf, binary.BigEndian, uint32(len(s.Queue)))
	for _, hm := range s.Queue {
		writeMessage(&buf, hm.Message)
		writeTime(&buf, hm.AdmittedAt)
		buf.WriteByte(byte(hm.WaitAck.RequiredKind))
		binary.Write(&buf, binary.BigEndian, uint32(len(hm.WaitAck.Status)))
		eps := make([]broker.EndpointAddr, 0, len(hm.WaitAck.Status))
		for ep := range hm.WaitAck.Status {
			eps = append(eps, ep)
		}
		sort.Slice(eps, func(i, j int) bool { return eps[i].Less(eps[j]) })
		for _, ep := range eps {
			writeBytes(&buf, ep.Bytes())
			buf.WriteByte(byte(hm.WaitAck.Status[ep]))
		}
	}

	return buf.Bytes()
}

// DecodeSnapshot parses the encoding produced by EncodeSnapshot.
func DecodeSnapshot(data []byte) (topic.Snapshot, error) {
	r := bytes.NewReader(data)
	var magic [4]byte
	if _, err := readFixedInto(r, magic[:]); err != nil {
		return topic.Snapshot{}, err
	}
	if magic != snapshotMagic {
		return topic.Snapshot{}, fmt.Errorf("wire: bad snapshot magic")
	}
	version, err := readByte(r)
	if err != nil {
		return topic.Snapshot{}, err
	}
	if version != snapshotVersion {
		return topic.Snapshot{}, fmt.Errorf("wire: unsupported snapshot version %d", version)
	}

	var s topic.Snapshot
	var size uint32
	if err := binary.Read(r, binary.BigEndian, &size); err != nil {
		return s, err
	}
	s.Config.Overflow.Size = int(size)
	policyByte, err := readByte(r)
	if err != nil {
		return s, err
	}
	s.Config.Overflow.Policy = queue.OverflowPolicy(policyByte)
	enabledByte, err := readByte(r)
	if err != nil {
		return s, err
	}
	s.Config.Overflow.Enabled = enabledByte == 1

	var epCount uint32
	if err := binary.Read(r, binary.BigEndian, &epCount); err != nil {
		return s, err
	}
	for i := uint32(0); i < epCount; i++ {
		ep, err := readEp(r)
		if err != nil {
			return s, err
		}
		host, err := readNodeId(r)
		if err != nil {
			return s, err
		}
		at, err := readTime(r)
		if err != nil {
			return s, err
		}
		interests, err := readStrings(r)
		if err != nil {
			return s, err
		}
		s.Endpoints = append(s.Endpoints, topic.EndpointSnapshot{
			Ep: ep, Host: host, LastActive: at, Interests: interests,
		})
	}

	var qCount uint32
	if err := binary.Read(r, binary.BigEndian, &qCount); err != nil {
		return s, err
	}
	for i := uint32(0); i < qCount; i++ {
		m, err := readMessage(r)
		if err != nil {
			return s, err
		}
		admittedAt, err := readTime(r)
		if err != nil {
			return s, err
		}
		requiredByte, err := readByte(r)
		if err != nil {
			return s, err
		}
		var statusCount uint32
		if err := binary.Read(r, binary.BigEndian, &statusCount); err != nil {
			return s, err
		}
		status := make(map[broker.EndpointAddr]broker.MessageStatus, statusCount)
		for j := uint32(0); j < statusCount; j++ {
			ep, err := readEp(r)
			if err != nil {
				return s, err
			}
			stByte, err := readByte(r)
			if err != nil {
				return s, err
			}
			status[ep] = broker.MessageStatus(stByte)
		}
		s.Queue = append(s.Queue, broker.HoldMessage{
			Message:    m,
			AdmittedAt: admittedAt,
			WaitAck: broker.WaitAck{
				RequiredKind: broker.AckKind(requiredByte),
				Status:       status,
			},
		})
	}

	return s, nil
}

func readFixedInto(r *bytes.Reader, dst []byte) (int, error) {
	b, err := readFixed(r, len(dst))
	if err != nil {
		return 0, err
	}
	copy(dst, b)
	return len(dst), nil
}
