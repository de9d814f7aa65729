package snapshot

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/samirrijal/mapoverlay/internal/core/domain"
)

// Batch message: { 1: layer, 2: repeated Object, 3: repeated removed key }.
const (
	fBatchLayer   protowire.Number = 1
	fBatchObject  protowire.Number = 2
	fBatchRemoved protowire.Number = 3
)

// EncodeBatch serialises a batch for the message bus using the same object
// encoding as the state files.
func EncodeBatch(b domain.Batch) ([]byte, error) {
	out := appendString(nil, fBatchLayer, b.Layer)
	for _, o := range b.Objects {
		m, err := appendObject(nil, o)
		if err != nil {
			return nil, err
		}
		out = appendMessage(out, fBatchObject, m)
	}
	for _, key := range b.Removed {
		out = appendString(out, fBatchRemoved, key)
	}
	return out, nil
}

// DecodeBatch parses a message produced by EncodeBatch.
func DecodeBatch(data []byte) (domain.Batch, error) {
	var b domain.Batch
	err := eachField(data, func(num protowire.Number, typ protowire.Type, buf []byte) (int, error) {
		switch num {
		case fBatchLayer:
			v, n, err := consumeString(typ, buf)
			b.Layer = v
			return n, err
		case fBatchObject:
			m, n, err := consumeBytes(typ, buf)
			if err != nil {
				return 0, err
			}
			obj, err := decodeObject(m)
			if err != nil {
				return 0, err
			}
			b.Objects = append(b.Objects, obj)
			return n, nil
		case fBatchRemoved:
			v, n, err := consumeString(typ, buf)
			b.Removed = append(b.Removed, v)
			return n, err
		}
		return 0, nil
	})
	if err != nil {
		return domain.Batch{}, fmt.Errorf("decode batch: %w", err)
	}
	return b, nil
}
