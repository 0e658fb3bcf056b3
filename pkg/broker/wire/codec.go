package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	"github.com/chris-alexander-pop/relaymq/pkg/broker"
)

func writeBytes(buf *bytes.Buffer, b []byte) {
	binary.Write(buf, binary.BigEndian, uint32(len(b)))
	buf.Write(b)
}

func writeString(buf *bytes.Buffer, s string) {
	writeBytes(buf, []byte(s))
}

func writeStrings(buf *bytes.Buffer, ss []string) {
	binary.Write(buf, binary.BigEndian, uint32(len(ss)))
	for _, s := range ss {
		writeString(buf, s)
	}
}

func writeTime(buf *bytes.Buffer, t time.Time) {
	binary.Write(buf, binary.BigEndian, t.UnixNano())
}

func hostBytes(n broker.NodeId) []byte {
	return n[:]
}

func writeMessage(buf *bytes.Buffer, m broker.Message) error {
	writeBytes(buf, m.Id.Bytes())
	buf.WriteByte(byte(m.Header.TargetKind))
	buf.WriteByte(byte(m.Header.AckKind))
	writeStrings(buf, m.Header.Subjects)
	writeBytes(buf, m.Payload)
	return nil
}

func readFixed(r io.Reader, n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("wire: short read: %w", err)
	}
	return b, nil
}

func readBytes(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, fmt.Errorf("wire: reading length prefix: %w", err)
	}
	if n == 0 {
		return nil, nil
	}
	return readFixed(r, int(n))
}

func readString(r io.Reader) (string, error) {
	b, err := readBytes(r)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", fmt.Errorf("wire: invalid utf-8 string field")
	}
	return string(b), nil
}

func readStrings(r io.Reader) ([]string, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, fmt.Errorf("wire: reading string list length: %w", err)
	}
	out := make([]string, n)
	for i := uint32(0); i < n; i++ {
		s, err := readString(r)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

func readEp(r io.Reader) (broker.EndpointAddr, error) {
	b, err := readFixed(r, 16)
	if err != nil {
		return broker.EndpointAddr{}, err
	}
	var ep broker.EndpointAddr
	copy(ep[:], b)
	return ep, nil
}

func readNodeId(r io.Reader) (broker.NodeId, error) {
	b, err := readFixed(r, 16)
	if err != nil {
		return broker.NodeId{}, err
	}
	var n broker.NodeId
	copy(n[:], b)
	return n, nil
}

func readTime(r io.Reader) (time.Time, error) {
	var nanos int64
	if err := binary.Read(r, binary.BigEndian, &nanos); err != nil {
		return time.Time{}, fmt.Errorf("wire: reading timestamp: %w", err)
	}
	return time.Unix(0, nanos).UTC(), nil
}

func readMessage(r io.Reader) (broker.Message, error) {
	idBytes, err := readFixed(r, 16)
	if err != nil {
		return broker.Message{}, err
	}
	var m broker.Message
	copy(m.Id[:], idBytes)

	targetByte, err := readByte(r)
	if err != nil {
		return m, err
	}
	m.Header.TargetKind = broker.TargetKind(targetByte)

	ackByte, err := readByte(r)
	if err != nil {
		return m, err
	}
	m.Header.AckKind = broker.AckKind(ackByte)

	if m.Header.Subjects, err = readStrings(r); err != nil {
		return m, err
	}
	if m.Payload, err = readBytes(r); err != nil {
		return m, err
	}
	return m, nil
}

func readByte(r io.Reader) (byte, error) {
	b, err := readFixed(r, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}
