package session

import (
	"bytes"
	"encoding/binary"
	"io"
	"time"

	"github.com/samber/oops"
)

const (
	formatVersionCurrent = 1
	maxFieldLen          = 255
	maxRoles             = 255
)

// Encode serializes s into the compact binary form stored in Redis. The
// session ID is the key and is not part of the blob.
func Encode(s *Session) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(formatVersionCurrent)

	for _, f := range []struct {
		name, value string
	}{
		{"principal_id", s.PrincipalID},
		{"username", s.Username},
		{"device_id", s.DeviceID},
	} {
		if err := writeString(&buf, f.name, f.value); err != nil {
			return nil, err
		}
	}

	buf.WriteByte(byte(s.State))

	if len(s.Roles) > maxRoles {
		return nil, oops.In("session").
			Code("SESSION_ENCODE").
			With("roles", len(s.Roles)).
			Wrapf(ErrCorrupt, "too many roles")
	}
	buf.WriteByte(byte(len(s.Roles)))
	for _, role := range s.Roles {
		if err := writeString(&buf, "role", role); err != nil {
			return nil, err
		}
	}

	for _, ts := range []time.Time{s.CreatedAt, s.LastSeenAt, s.ExpiresAt} {
		if err := binary.Write(&buf, binary.BigEndian, ts.UnixMilli()); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// Decode parses a blob produced by Encode. Any structural problem wraps
// [ErrCorrupt].
func Decode(data []byte) (*Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, corrupt(err)
	}
	if version != formatVersionCurrent {
		return nil, oops.In("session").
			Code("SESSION_DECODE").
			With("version", version).
			Wrapf(ErrCorrupt, "invalid session version")
	}

	s := &Session{}
	for _, dst := range []*string{&s.PrincipalID, &s.Username, &s.DeviceID} {
		v, err := readString(reader)
		if err != nil {
			return nil, err
		}
		*dst = v
	}

	state, err := reader.ReadByte()
	if err != nil {
		return nil, corrupt(err)
	}
	s.State = State(state)

	roleCount, err := reader.ReadByte()
	if err != nil {
		return nil, corrupt(err)
	}
	if roleCount > 0 {
		s.Roles = make([]string, 0, roleCount)
	}
	for i := 0; i < int(roleCount); i++ {
		role, err := readString(reader)
		if err != nil {
			return nil, err
		}
		s.Roles = append(s.Roles, role)
	}

	for _, dst := range []*time.Time{&s.CreatedAt, &s.LastSeenAt, &s.ExpiresAt} {
		var ms int64
		if err := binary.Read(reader, binary.BigEndian, &ms); err != nil {
			return nil, corrupt(err)
		}
		*dst = time.UnixMilli(ms)
	}

	if reader.Len() != 0 {
		return nil, oops.In("session").
			Code("SESSION_DECODE").
			With("trailing", reader.Len()).
			Wrapf(ErrCorrupt, "trailing bytes")
	}

	return s, nil
}

func writeString(buf *bytes.Buffer, name, v string) error {
	if len(v) > maxFieldLen {
		return oops.In("session").
			Code("SESSION_ENCODE").
			With("field", name).
			Wrapf(ErrCorrupt, "%s too long", name)
	}
	buf.WriteByte(byte(len(v)))
	buf.WriteString(v)
	return nil
}

func readString(reader *bytes.Reader) (string, error) {
	n, err := reader.ReadByte()
	if err != nil {
		return "", corrupt(err)
	}
	raw := make([]byte, n)
	if _, err := io.ReadFull(reader, raw); err != nil {
		return "", corrupt(err)
	}
	return string(raw), nil
}

func corrupt(err error) error {
	return oops.In("session").Code("SESSION_DECODE").Wrapf(ErrCorrupt, "%v", err)
}
