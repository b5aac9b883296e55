package uvf

import (
	"encoding/binary"
	"sort"

	"github.com/pkg/errors"

	"github.com/BlueBrain/TuvokIO/basics"
)

// Well-known key-value block keys written by the converter.
const (
	KVSourceFile  = "source-file"
	KVDatasetUUID = "dataset-uuid"
	KVCreated     = "created"
)

// EncodeKeyValue renders string pairs as a key-value block payload. Keys
// are written in sorted order so identical inputs produce identical bytes.
func EncodeKeyValue(kv map[string]string, order binary.ByteOrder) []byte {
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	size := 8
	for _, k := range keys {
		size += 8 + len(k) + len(kv[k])
	}
	buf := make([]byte, 0, size)
	var tmp [8]byte
	order.PutUint64(tmp[:], uint64(len(keys)))
	buf = append(buf, tmp[:]...)
	for _, k := range keys {
		order.PutUint32(tmp[:4], uint32(len(k)))
		buf = append(buf, tmp[:4]...)
		buf = append(buf, k...)
		order.PutUint32(tmp[:4], uint32(len(kv[k])))
		buf = append(buf, tmp[:4]...)
		buf = append(buf, kv[k]...)
	}
	return buf
}

// DecodeKeyValue parses a key-value block payload.
func DecodeKeyValue(payload []byte, order binary.ByteOrder) (map[string]string, error) {
	if len(payload) < 8 {
		return nil, errors.Wrap(basics.ErrFormat, "key-value block too short")
	}
	count := order.Uint64(payload[0:])
	kv := make(map[string]string, count)
	pos := uint64(8)
	readString := func() (string, error) {
		if pos+4 > uint64(len(payload)) {
			return "", errors.Wrap(basics.ErrFormat, "truncated key-value block")
		}
		n := uint64(order.Uint32(payload[pos:]))
		pos += 4
		if pos+n > uint64(len(payload)) {
			return "", errors.Wrap(basics.ErrFormat, "truncated key-value block")
		}
		s := string(payload[pos : pos+n])
		pos += n
		return s, nil
	}
	for i := uint64(0); i < count; i++ {
		k, err := readString()
		if err != nil {
			return nil, err
		}
		v, err := readString()
		if err != nil {
			return nil, err
		}
		kv[k] = v
	}
	return kv, nil
}
