// Package wire frames item records for byte providers.
//
//	magic(4) "ITMS" | ver(1) | rev(u64 be) | len(u32 be) | payload(len)
//
// rev is the item revision the record was written under.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
)

const (
	version byte = 1
	header       = 4 + 1 + 8 + 4
)

var (
	ErrCorrupt  = errors.New("wire: corrupt record")
	ErrTooLarge = errors.New("wire: payload exceeds 4GiB")
	magic       = [4]byte{'I', 'T', 'M', 'S'}
)

// Encode frames payload under rev.
func Encode(rev uint64, payload []byte) ([]byte, error) {
	if uint64(len(payload)) > math.MaxUint32 {
		return nil, ErrTooLarge
	}
	b := make([]byte, 0, header+len(payload))
	b = append(b, magic[:]...)
	b = append(b, version)
	b = binary.BigEndian.AppendUint64(b, rev)
	b = binary.BigEndian.AppendUint32(b, uint32(len(payload)))
	return append(b, payload...), nil
}

// Decode validates b and returns its revision and payload. The payload
// aliases b. Trailing bytes are rejected.
func Decode(b []byte) (rev uint64, payload []byte, err error) {
	if len(b) < header || !bytes.Equal(b[:4], magic[:]) || b[4] != version {
		return 0, nil, ErrCorrupt
	}
	rev = binary.BigEndian.Uint64(b[5:13])
	n := uint64(binary.BigEndian.Uint32(b[13:header]))
	if n != uint64(len(b)-header) {
		return 0, nil, ErrCorrupt
	}
	return rev, b[header:], nil
}
