// Package snapshot persists layer indexes as versioned files.
//
// A file is a 9 byte header (magic "OVLY", big-endian uint32 format version,
// flags byte) followed by a protobuf-wire body. Flag bit 0 marks a zstd
// compressed body.
//
// Version 2 stores the node graph:
//
//	Snapshot { 1: min_fanout, 2: max_fanout, 3: count, 4: Node root }
//	Node     { 1: leaf, 2: repeated Entry }
//	Entry    { 1: Box, 2: Node child | 3: Object object }
//	Box      { 1: min_lon, 2: min_lat, 3: max_lon, 4: max_lat }  (zigzag)
//	Object   { 1: Photo | 2: RemoteFeature | 3: TaskMarker }
//
// Version 1 stored a flat list of objects (field 1, repeated Object) and is
// migrated on load by inserting every object into a fresh tree.
package snapshot

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/paulmach/orb/geojson"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/samirrijal/mapoverlay/internal/core/domain"
	"github.com/samirrijal/mapoverlay/internal/core/spatial"
)

const (
	magic = "OVLY"

	// CurrentVersion is written by Encode.
	CurrentVersion uint32 = 2
	legacyVersion  uint32 = 1

	headerLen = len(magic) + 4 + 1
	flagZstd  = 1 << 0

	maxDepth = 64
)

// Snapshot fields.
const (
	fSnapMinFanout protowire.Number = 1
	fSnapMaxFanout protowire.Number = 2
	fSnapCount     protowire.Number = 3
	fSnapRoot      protowire.Number = 4

	fNodeLeaf  protowire.Number = 1
	fNodeEntry protowire.Number = 2

	fEntryBox    protowire.Number = 1
	fEntryChild  protowire.Number = 2
	fEntryObject protowire.Number = 3

	fLegacyObject protowire.Number = 1
)

// Codec converts snapshots to and from the file format.
type Codec struct {
	compress bool
	enc      *zstd.Encoder
	dec      *zstd.Decoder
}

// NewCodec creates a codec. Compressed and uncompressed files are always
// readable; compress only controls what Encode writes.
func NewCodec(compress bool) (*Codec, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &Codec{compress: compress, enc: enc, dec: dec}, nil
}

// Close releases the compression state.
func (c *Codec) Close() {
	c.enc.Close()
	c.dec.Close()
}

// Encode writes s in the current format version.
func (c *Codec) Encode(s spatial.Snapshot[domain.Object]) ([]byte, error) {
	var body []byte
	body = appendUvarint(body, fSnapMinFanout, uint64(s.MinFanout))
	body = appendUvarint(body, fSnapMaxFanout, uint64(s.MaxFanout))
	body = appendUvarint(body, fSnapCount, uint64(s.Count))
	if s.Root != nil {
		node, err := appendNode(nil, s.Root)
		if err != nil {
			return nil, err
		}
		body = appendMessage(body, fSnapRoot, node)
	}
	return c.frame(CurrentVersion, body), nil
}

func (c *Codec) encodeLegacy(objs []domain.Object) ([]byte, error) {
	var body []byte
	for _, o := range objs {
		m, err := appendObject(nil, o)
		if err != nil {
			return nil, err
		}
		body = appendMessage(body, fLegacyObject, m)
	}
	return c.frame(legacyVersion, body), nil
}

func (c *Codec) frame(version uint32, body []byte) []byte {
	var flags byte
	if c.compress {
		flags |= flagZstd
		body = c.enc.EncodeAll(body, nil)
	}
	out := make([]byte, 0, headerLen+len(body))
	out = append(out, magic...)
	out = binary.BigEndian.AppendUint32(out, version)
	out = append(out, flags)
	return append(out, body...)
}

// Decode parses a file. Legacy files are migrated into a fresh node graph
// with the default fanout.
func (c *Codec) Decode(data []byte) (spatial.Snapshot[domain.Object], error) {
	var zero spatial.Snapshot[domain.Object]

	if len(data) < headerLen || string(data[:len(magic)]) != magic {
		return zero, fmt.Errorf("%w: unrecognised header", domain.ErrIncompatibleVersion)
	}
	version := binary.BigEndian.Uint32(data[len(magic):])
	flags := data[headerLen-1]
	if flags&^flagZstd != 0 {
		return zero, fmt.Errorf("%w: unknown flags %#x", domain.ErrIncompatibleVersion, flags)
	}
	if version != CurrentVersion && version != legacyVersion {
		return zero, fmt.Errorf("%w: version %d", domain.ErrIncompatibleVersion, version)
	}

	body := data[headerLen:]
	if flags&flagZstd != 0 {
		var err error
		body, err = c.dec.DecodeAll(body, nil)
		if err != nil {
			return zero, fmt.Errorf("%w: decompress: %v", domain.ErrCorruptSnapshot, err)
		}
	}

	var (
		s   spatial.Snapshot[domain.Object]
		err error
	)
	if version == legacyVersion {
		s, err = decodeLegacy(body)
	} else {
		s, err = decodeSnapshot(body)
	}
	if err != nil {
		return zero, fmt.Errorf("%w: %v", domain.ErrCorruptSnapshot, err)
	}
	return s, nil
}

func decodeSnapshot(b []byte) (spatial.Snapshot[domain.Object], error) {
	var s spatial.Snapshot[domain.Object]
	err := eachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fSnapMinFanout:
			v, n, err := consumeVarint(typ, b)
			s.MinFanout = int(v)
			return n, err
		case fSnapMaxFanout:
			v, n, err := consumeVarint(typ, b)
			s.MaxFanout = int(v)
			return n, err
		case fSnapCount:
			v, n, err := consumeVarint(typ, b)
			s.Count = int(v)
			return n, err
		case fSnapRoot:
			m, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			s.Root, err = decodeNode(m, 0)
			return n, err
		}
		return 0, nil
	})
	return s, err
}

func decodeLegacy(b []byte) (spatial.Snapshot[domain.Object], error) {
	var zero spatial.Snapshot[domain.Object]
	ix, err := spatial.New[domain.Object](spatial.DefaultMinFanout, spatial.DefaultMaxFanout)
	if err != nil {
		return zero, err
	}
	err = eachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != fLegacyObject {
			return 0, nil
		}
		m, n, err := consumeBytes(typ, b)
		if err != nil {
			return 0, err
		}
		obj, err := decodeObject(m)
		if errors.Is(err, domain.ErrInvalidBounds) {
			slog.Warn("legacy snapshot object skipped", "error", err)
			return n, nil
		}
		if err != nil {
			return 0, err
		}
		if err := ix.Insert(obj); err != nil {
			// Rejected objects are dropped; the rest of the file still migrates.
			slog.Warn("legacy snapshot object skipped", "kind", obj.Kind().String(), "key", obj.Key(), "error", err)
		}
		return n, nil
	})
	if err != nil {
		return zero, err
	}
	return ix.Snapshot(), nil
}

func appendNode(b []byte, n *spatial.SnapshotNode[domain.Object]) ([]byte, error) {
	if n.Leaf {
		b = appendUvarint(b, fNodeLeaf, 1)
	}
	for i, box := range n.Boxes {
		var e []byte
		e = appendBox(e, fEntryBox, box)
		if n.Leaf {
			obj, err := appendObject(nil, n.Items[i])
			if err != nil {
				return nil, err
			}
			e = appendMessage(e, fEntryObject, obj)
		} else {
			child, err := appendNode(nil, n.Children[i])
			if err != nil {
				return nil, err
			}
			e = appendMessage(e, fEntryChild, child)
		}
		b = appendMessage(b, fNodeEntry, e)
	}
	return b, nil
}

func decodeNode(b []byte, depth int) (*spatial.SnapshotNode[domain.Object], error) {
	if depth > maxDepth {
		return nil, errors.New("tree too deep")
	}
	n := &spatial.SnapshotNode[domain.Object]{}
	type rawEntry struct {
		box          domain.BoundingBox
		child, object []byte
	}
	var entries []rawEntry

	err := eachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fNodeLeaf:
			v, n2, err := consumeVarint(typ, b)
			n.Leaf = v != 0
			return n2, err
		case fNodeEntry:
			m, n2, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			var e rawEntry
			err = eachField(m, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
				switch num {
				case fEntryBox:
					bm, n3, err := consumeBytes(typ, b)
					if err != nil {
						return 0, err
					}
					e.box, err = decodeBox(bm)
					return n3, err
				case fEntryChild:
					bm, n3, err := consumeBytes(typ, b)
					e.child = bm
					return n3, err
				case fEntryObject:
					bm, n3, err := consumeBytes(typ, b)
					e.object = bm
					return n3, err
				}
				return 0, nil
			})
			entries = append(entries, e)
			return n2, err
		}
		return 0, nil
	})
	if err != nil {
		return nil, err
	}

	for _, e := range entries {
		n.Boxes = append(n.Boxes, e.box)
		if n.Leaf {
			if e.object == nil {
				return nil, errors.New("leaf entry without object")
			}
			obj, err := decodeObject(e.object)
			if err != nil {
				return nil, err
			}
			n.Items = append(n.Items, obj)
			continue
		}
		if e.child == nil {
			return nil, errors.New("internal entry without child")
		}
		child, err := decodeNode(e.child, depth+1)
		if err != nil {
			return nil, err
		}
		n.Children = append(n.Children, child)
	}
	return n, nil
}

func appendBox(b []byte, num protowire.Number, box domain.BoundingBox) []byte {
	var m []byte
	m = appendSint(m, 1, box.MinLon)
	m = appendSint(m, 2, box.MinLat)
	m = appendSint(m, 3, box.MaxLon)
	m = appendSint(m, 4, box.MaxLat)
	return appendMessage(b, num, m)
}

func decodeBox(b []byte) (domain.BoundingBox, error) {
	var box domain.BoundingBox
	err := eachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		var dst *int32
		switch num {
		case 1:
			dst = &box.MinLon
		case 2:
			dst = &box.MinLat
		case 3:
			dst = &box.MaxLon
		case 4:
			dst = &box.MaxLat
		default:
			return 0, nil
		}
		v, n, err := consumeSint(typ, b)
		*dst = v
		return n, err
	})
	return box, err
}

// Object variant fields.
const (
	fObjPhoto         protowire.Number = 1
	fObjRemoteFeature protowire.Number = 2
	fObjTaskMarker    protowire.Number = 3

	fPhotoLon       protowire.Number = 1
	fPhotoLat       protowire.Number = 2
	fPhotoDirection protowire.Number = 3
	fPhotoDir       protowire.Number = 4
	fPhotoName      protowire.Number = 5

	fFeatureGeoJSON protowire.Number = 1

	fTaskID       protowire.Number = 1
	fTaskLon      protowire.Number = 2
	fTaskLat      protowire.Number = 3
	fTaskCategory protowire.Number = 4
	fTaskTitle    protowire.Number = 5
	fTaskClosed   protowire.Number = 6
)

func appendObject(b []byte, obj domain.Object) ([]byte, error) {
	var m []byte
	switch o := obj.(type) {
	case *domain.Photo:
		m = appendSint(m, fPhotoLon, o.Lon)
		m = appendSint(m, fPhotoLat, o.Lat)
		if o.HasDirection {
			m = appendSint(m, fPhotoDirection, o.Direction)
		}
		m = appendString(m, fPhotoDir, o.Dir)
		m = appendString(m, fPhotoName, o.Name)
		return appendMessage(b, fObjPhoto, m), nil
	case *domain.RemoteFeature:
		raw, err := json.Marshal(o.Feature)
		if err != nil {
			return nil, fmt.Errorf("marshal feature %s: %w", o.Key(), err)
		}
		m = protowire.AppendTag(m, fFeatureGeoJSON, protowire.BytesType)
		m = protowire.AppendBytes(m, raw)
		return appendMessage(b, fObjRemoteFeature, m), nil
	case *domain.TaskMarker:
		m = protowire.AppendTag(m, fTaskID, protowire.BytesType)
		m = protowire.AppendBytes(m, o.ID[:])
		m = appendSint(m, fTaskLon, o.Lon)
		m = appendSint(m, fTaskLat, o.Lat)
		m = appendString(m, fTaskCategory, o.Category)
		m = appendString(m, fTaskTitle, o.Title)
		if o.Closed {
			m = appendUvarint(m, fTaskClosed, 1)
		}
		return appendMessage(b, fObjTaskMarker, m), nil
	default:
		return nil, fmt.Errorf("%w: %T", domain.ErrUnknownObject, obj)
	}
}

func decodeObject(b []byte) (domain.Object, error) {
	var obj domain.Object
	err := eachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		var (
			m   []byte
			n   int
			err error
		)
		switch num {
		case fObjPhoto, fObjRemoteFeature, fObjTaskMarker:
			m, n, err = consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
		default:
			return 0, nil
		}
		if obj != nil {
			return 0, errors.New("object has more than one variant")
		}
		switch num {
		case fObjPhoto:
			obj, err = decodePhoto(m)
		case fObjRemoteFeature:
			obj, err = decodeFeature(m)
		case fObjTaskMarker:
			obj, err = decodeTask(m)
		}
		return n, err
	})
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, domain.ErrUnknownObject
	}
	return obj, nil
}

func decodePhoto(b []byte) (*domain.Photo, error) {
	p := &domain.Photo{}
	err := eachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fPhotoLon:
			v, n, err := consumeSint(typ, b)
			p.Lon = v
			return n, err
		case fPhotoLat:
			v, n, err := consumeSint(typ, b)
			p.Lat = v
			return n, err
		case fPhotoDirection:
			v, n, err := consumeSint(typ, b)
			p.Direction, p.HasDirection = v, true
			return n, err
		case fPhotoDir:
			v, n, err := consumeString(typ, b)
			p.Dir = v
			return n, err
		case fPhotoName:
			v, n, err := consumeString(typ, b)
			p.Name = v
			return n, err
		}
		return 0, nil
	})
	return p, err
}

func decodeFeature(b []byte) (*domain.RemoteFeature, error) {
	var raw []byte
	err := eachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != fFeatureGeoJSON {
			return 0, nil
		}
		v, n, err := consumeBytes(typ, b)
		raw = v
		return n, err
	})
	if err != nil {
		return nil, err
	}
	f, err := geojson.UnmarshalFeature(raw)
	if err != nil {
		return nil, fmt.Errorf("feature geojson: %w", err)
	}
	return domain.NewRemoteFeature(f)
}

func decodeTask(b []byte) (*domain.TaskMarker, error) {
	t := &domain.TaskMarker{}
	err := eachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fTaskID:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			t.ID, err = uuid.FromBytes(v)
			return n, err
		case fTaskLon:
			v, n, err := consumeSint(typ, b)
			t.Lon = v
			return n, err
		case fTaskLat:
			v, n, err := consumeSint(typ, b)
			t.Lat = v
			return n, err
		case fTaskCategory:
			v, n, err := consumeString(typ, b)
			t.Category = v
			return n, err
		case fTaskTitle:
			v, n, err := consumeString(typ, b)
			t.Title = v
			return n, err
		case fTaskClosed:
			v, n, err := consumeVarint(typ, b)
			t.Closed = v != 0
			return n, err
		}
		return 0, nil
	})
	return t, err
}
