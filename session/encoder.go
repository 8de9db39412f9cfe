package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const sessionFormatVersionCurrent = 1

const (
	flagAdmin byte = 1 << 0
)

// maxUserAgentBytes bounds the stored user agent. Longer values are truncated, not rejected.
const maxUserAgentBytes = 255

// Encode serializes s into the current binary format. SessionID is not part of the
// record; it is the Redis key.
func Encode(s *Session) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(64 + len(s.Username) + len(s.FamilyID) + len(s.UserAgent))

	buf.WriteByte(sessionFormatVersionCurrent)

	if err := binary.Write(&buf, binary.BigEndian, s.UserID); err != nil {
		return nil, err
	}

	var flags byte
	if s.IsAdmin {
		flags |= flagAdmin
	}
	buf.WriteByte(flags)

	ua := s.UserAgent
	if len(ua) > maxUserAgentBytes {
		ua = ua[:maxUserAgentBytes]
	}
	for _, f := range []struct {
		name, value string
	}{
		{"username", s.Username},
		{"authSource", s.AuthSource},
		{"familyID", s.FamilyID},
		{"ip", s.IP},
		{"userAgent", ua},
	} {
		if len(f.value) > 255 {
			return nil, fmt.Errorf("%s too long", f.name)
		}
		buf.WriteByte(byte(len(f.value)))
		buf.WriteString(f.value)
	}

	if err := binary.Write(&buf, binary.BigEndian, s.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.ExpiresAt); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Decode parses a record written by Encode.
func Decode(data []byte) (*Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != sessionFormatVersionCurrent {
		return nil, fmt.Errorf("unsupported session schema version %d", version)
	}

	s := &Session{}
	if err := binary.Read(reader, binary.BigEndian, &s.UserID); err != nil {
		return nil, err
	}

	flags, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	s.IsAdmin = flags&flagAdmin != 0

	for _, dst := range []*string{&s.Username, &s.AuthSource, &s.FamilyID, &s.IP, &s.UserAgent} {
		if *dst, err = readString(reader); err != nil {
			return nil, err
		}
	}

	if err := binary.Read(reader, binary.BigEndian, &s.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &s.ExpiresAt); err != nil {
		return nil, err
	}
	if reader.Len() != 0 {
		return nil, errors.New("trailing bytes in session record")
	}

	return s, nil
}

func readString(r *bytes.Reader) (string, error) {
	n, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
