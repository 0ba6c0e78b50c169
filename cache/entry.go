package cache

import (
	"github.com/vmihailenco/msgpack/v5"
)

// Entry is a cached response: a body plus the header subset selected for
// storage. The provider owns an entry once stored; callers hold only a
// transient copy during capture and replay.
type Entry struct {
	Status  int               `msgpack:"status"`
	Headers map[string]string `msgpack:"headers"`
	Body    []byte            `msgpack:"body"`
}

// Encode serializes the entry for storage.
func (e *Entry) Encode() ([]byte, error) {
	return msgpack.Marshal(e)
}

// DecodeEntry deserializes a stored entry. A malformed payload returns an
// error; callers treat that as a miss.
func DecodeEntry(b []byte) (*Entry, error) {
	var e Entry
	if err := msgpack.Unmarshal(b, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Size approximates the in-memory footprint of the entry in bytes.
func (e *Entry) Size() int64 {
	total := int64(len(e.Body))
	for name, value := range e.Headers {
		total += int64(len(name) + len(value))
	}
	return total
}
