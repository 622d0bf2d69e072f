package exchange

import (
	"encoding/binary"
	"io"

	"github.com/zoolite/zoolite/pkg/coorderr"
)

// MessageType identifies the kind of hint an exchange message carries.
type MessageType byte

const (
	// MessageUnknown is the reserved "unknown" type; receivers log and
	// drop frames carrying it.
	MessageUnknown MessageType = 0

	// MessageInvalidateCacheEntry instructs the receiver to drop its
	// cached copy of an entry and release the associated read lock.
	MessageInvalidateCacheEntry MessageType = 1

	// MessageReleasedReadLock informs the receiver that a read lock it
	// was waiting on has been released.
	MessageReleasedReadLock MessageType = 2

	// MessageReleasedWriteLock informs the receiver that a write lock it
	// was waiting on has been released.
	MessageReleasedWriteLock MessageType = 3
)

const maxFieldLen = 1 << 20

// Message is the decoded form of an exchange wire frame.
type Message struct {
	Type MessageType
	// Path is the escaped path the message concerns.
	Path string
	// SessionID is the subject session: for InvalidateCacheEntry, the
	// read-lock owner being told to drop its cache; for the two release
	// messages, the former lock holder.
	SessionID string
}

// Encode serializes m into the bit-exact wire frame: 1 byte message
// type, a 4-byte-big-endian-length-prefixed UTF-8 path, and a
// 4-byte-big-endian-length-prefixed UTF-8 session id.
func Encode(m Message) []byte {
	pathBytes := []byte(m.Path)
	sidBytes := []byte(m.SessionID)

	buf := make([]byte, 1+4+len(pathBytes)+4+len(sidBytes))
	buf[0] = byte(m.Type)
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(pathBytes)))
	copy(buf[5:5+len(pathBytes)], pathBytes)
	offset := 5 + len(pathBytes)
	binary.BigEndian.PutUint32(buf[offset:offset+4], uint32(len(sidBytes)))
	copy(buf[offset+4:], sidBytes)
	return buf
}

// Decode parses a wire frame produced by Encode. It fails with
// DecodeError on truncated input or a field exceeding maxFieldLen.
func Decode(raw []byte) (Message, error) {
	if len(raw) < 1 {
		return Message{}, coorderr.DecodeError("empty frame")
	}
	msgType := MessageType(raw[0])
	rest := raw[1:]

	path, rest, err := readField(rest)
	if err != nil {
		return Message{}, err
	}
	sid, rest, err := readField(rest)
	if err != nil {
		return Message{}, err
	}
	if len(rest) != 0 {
		return Message{}, coorderr.DecodeError("trailing bytes after frame")
	}

	return Message{Type: msgType, Path: path, SessionID: sid}, nil
}

func readField(buf []byte) (value string, rest []byte, err error) {
	if len(buf) < 4 {
		return "", nil, coorderr.DecodeError("truncated length prefix")
	}
	length := binary.BigEndian.Uint32(buf[:4])
	if length > maxFieldLen {
		return "", nil, coorderr.DecodeError("field length exceeds maximum")
	}
	buf = buf[4:]
	if uint32(len(buf)) < length {
		return "", nil, coorderr.DecodeError("truncated field")
	}
	return string(buf[:length]), buf[length:], nil
}

// ReadMessage reads and decodes exactly one frame from r, for transports
// that deliver a raw byte stream rather than already-delimited payloads.
// It is unused by the current transport adapters (both deliver whole
// payloads per Receive call) but is kept as the stream-oriented
// counterpart to Encode/Decode.
func ReadMessage(r io.Reader) (Message, error) {
	var header [1]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Message{}, coorderr.DecodeError(err.Error())
	}
	msgType := MessageType(header[0])

	path, err := readStreamField(r)
	if err != nil {
		return Message{}, err
	}
	sid, err := readStreamField(r)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: msgType, Path: path, SessionID: sid}, nil
}

func readStreamField(r io.Reader) (string, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", coorderr.DecodeError(err.Error())
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length > maxFieldLen {
		return "", coorderr.DecodeError("field length exceeds maximum")
	}
	data := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, data); err != nil {
			return "", coorderr.DecodeError(err.Error())
		}
	}
	return string(data), nil
}
