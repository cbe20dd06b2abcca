package base

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"
)

const (
	headerSize = 28

	// maxFrameSize bounds the payload of a single frame
	maxFrameSize = 256 << 20 // 256 MB
)

// frameHeader precedes every payload on the wire
type frameHeader struct {
	serviceID uint64
	requestID uint64
	// deadline of the request in unix nanoseconds, 0 if there is none
	deadline int64
}

// deadlineTime returns the deadline as time, zero if there is none
func (h frameHeader) deadlineTime() time.Time {
	if h.deadline == 0 {
		return time.Time{}
	}
	return time.Unix(0, h.deadline)
}

// writeFrame writes a frame to the connection with the format:
// - 8 bytes: serviceID (uint64, big endian)
// - 8 bytes: requestID (uint64, big endian)
// - 8 bytes: deadline (int64 unix nanoseconds, big endian, 0 = none)
// - 4 bytes: data length (uint32, big endian)
// - N bytes: data payload
func writeFrame(conn net.Conn, h frameHeader, data []byte) error {
	if len(data) > maxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds the limit of %d bytes", len(data), maxFrameSize)
	}

	header := make([]byte, headerSize)
	binary.BigEndian.PutUint64(header[:8], h.serviceID)
	binary.BigEndian.PutUint64(header[8:16], h.requestID)
	binary.BigEndian.PutUint64(header[16:24], uint64(h.deadline))
	binary.BigEndian.PutUint32(header[24:28], uint32(len(data)))

	b := net.Buffers{header, data}
	_, err := b.WriteTo(conn)
	return err
}

// readFrame reads a frame from the connection using the provided buffer
// If the buffer is too small, it will allocate a new temporary buffer for the data
func readFrame(r io.Reader, buf []byte) (frameHeader, []byte, error) {
	if len(buf) < headerSize {
		buf = make([]byte, headerSize)
	}

	if _, err := io.ReadFull(r, buf[:headerSize]); err != nil {
		return frameHeader{}, nil, err
	}

	h := frameHeader{
		serviceID: binary.BigEndian.Uint64(buf[:8]),
		requestID: binary.BigEndian.Uint64(buf[8:16]),
		deadline:  int64(binary.BigEndian.Uint64(buf[16:24])),
	}
	contentLength := int(binary.BigEndian.Uint32(buf[24:28]))

	if contentLength == 0 {
		return h, []byte{}, nil
	}
	if contentLength > maxFrameSize {
		return h, nil, fmt.Errorf("frame of %d bytes exceeds the limit of %d bytes", contentLength, maxFrameSize)
	}

	if len(buf) < contentLength {
		buf = make([]byte, contentLength)
	}

	if _, err := io.ReadFull(r, buf[:contentLength]); err != nil {
		return h, nil, err
	}

	return h, buf[:contentLength], nil
}
