package wire

import (
	"encoding/binary"
	"strconv"
	"strings"

	"github.com/steveyegge/clusterconfig/settings"
)

// Node tags shared by both tree formats.
const (
	tagObject byte = 1
	tagArray  byte = 2
	tagValue  byte = 3
)

// TreeFormat converts settings trees to and from their binary form.
//
// An absent (nil) tree serializes to an empty payload and an empty payload
// deserializes to a nil tree.
type TreeFormat interface {
	// Name identifies the format in logs.
	Name() string

	// Serialize encodes the whole tree.
	Serialize(n *settings.Node) []byte

	// Deserialize decodes the subtree found at path, or returns nil when
	// nothing exists there.
	Deserialize(data []byte, path settings.Path) (*settings.Node, error)
}

var (
	// V1 is the plain recursive format. Reading any part of it decodes the
	// whole tree.
	V1 TreeFormat = v1Format{}

	// V2 length-prefixes every child so that a single subtree can be
	// located by skipping over its siblings. It is the only format that
	// patches are defined on.
	V2 TreeFormat = v2Format{}
)

type v1Format struct{}

func (v1Format) Name() string { return "v1" }

func (v1Format) Serialize(n *settings.Node) []byte {
	if n == nil {
		return []byte{}
	}
	return appendV1(nil, n)
}

func appendV1(buf []byte, n *settings.Node) []byte {
	switch n.Kind() {
	case settings.KindObject:
		buf = append(buf, tagObject)
		buf = binary.AppendUvarint(buf, uint64(n.Len()))
		for _, c := range n.Children() {
			buf = appendString(buf, c.Name())
			buf = appendV1(buf, c)
		}
	case settings.KindArray:
		buf = append(buf, tagArray)
		buf = binary.AppendUvarint(buf, uint64(n.Len()))
		for _, c := range n.Children() {
			buf = appendV1(buf, c)
		}
	default:
		buf = append(buf, tagValue)
		buf = appendString(buf, n.Value())
	}
	return buf
}

func (v1Format) Deserialize(data []byte, path settings.Path) (*settings.Node, error) {
	if len(data) == 0 {
		return nil, nil
	}
	r := &reader{buf: data}
	root, err := readV1(r, "")
	if err != nil {
		return nil, err
	}
	if !r.done() {
		return nil, corruptf("%d trailing bytes after tree", r.remaining())
	}
	return root.ScopePath(path), nil
}

func readV1(r *reader, name string) (*settings.Node, error) {
	tag, err := r.byte()
	if err != nil {
		return nil, err
	}
	switch tag {
	case tagValue:
		v, err := r.string()
		if err != nil {
			return nil, err
		}
		return settings.NewValue(name, v), nil
	case tagObject, tagArray:
		count, err := r.count()
		if err != nil {
			return nil, err
		}
		children := make([]*settings.Node, 0, count)
		for i := 0; i < count; i++ {
			childName := ""
			if tag == tagObject {
				if childName, err = r.string(); err != nil {
					return nil, err
				}
			}
			child, err := readV1(r, childName)
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
		if tag == tagObject {
			return settings.NewObject(name, children...), nil
		}
		return settings.NewArray(name, children...), nil
	default:
		return nil, corruptf("unknown node tag %d", tag)
	}
}

type v2Format struct{}

func (v2Format) Name() string { return "v2" }

func (v2Format) Serialize(n *settings.Node) []byte {
	if n == nil {
		return []byte{}
	}
	return appendV2(nil, n)
}

func appendV2(buf []byte, n *settings.Node) []byte {
	switch n.Kind() {
	case settings.KindObject:
		buf = append(buf, tagObject)
		buf = binary.AppendUvarint(buf, uint64(n.Len()))
		for _, c := range n.Children() {
			buf = appendString(buf, c.Name())
			buf = appendBytes(buf, appendV2(nil, c))
		}
	case settings.KindArray:
		buf = append(buf, tagArray)
		buf = binary.AppendUvarint(buf, uint64(n.Len()))
		for _, c := range n.Children() {
			buf = appendBytes(buf, appendV2(nil, c))
		}
	default:
		buf = append(buf, tagValue)
		buf = appendString(buf, n.Value())
	}
	return buf
}

func (v2Format) Deserialize(data []byte, path settings.Path) (*settings.Node, error) {
	if len(data) == 0 {
		return nil, nil
	}
	body, name := data, ""
	for _, seg := range path.Segments() {
		childName, child, found, err := lookupV2(body, seg)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, nil
		}
		body, name = child, childName
	}
	return decodeV2(name, body)
}

// lookupV2 finds the encoded body of a direct child without decoding its
// siblings.
func lookupV2(body []byte, segment string) (string, []byte, bool, error) {
	r := &reader{buf: body}
	tag, err := r.byte()
	if err != nil {
		return "", nil, false, err
	}
	switch tag {
	case tagValue:
		return "", nil, false, nil
	case tagObject:
		count, err := r.count()
		if err != nil {
			return "", nil, false, err
		}
		for i := 0; i < count; i++ {
			name, err := r.string()
			if err != nil {
				return "", nil, false, err
			}
			child, err := r.lenBytes()
			if err != nil {
				return "", nil, false, err
			}
			if strings.EqualFold(name, segment) {
				return name, child, true, nil
			}
		}
		return "", nil, false, nil
	case tagArray:
		idx, convErr := strconv.Atoi(segment)
		count, err := r.count()
		if err != nil {
			return "", nil, false, err
		}
		if convErr != nil || idx < 0 || idx >= count {
			return "", nil, false, nil
		}
		for i := 0; i < count; i++ {
			child, err := r.lenBytes()
			if err != nil {
				return "", nil, false, err
			}
			if i == idx {
				return segment, child, true, nil
			}
		}
		return "", nil, false, nil
	default:
		return "", nil, false, corruptf("unknown node tag %d", tag)
	}
}

// decodeV2 decodes one complete node body.
func decodeV2(name string, body []byte) (*settings.Node, error) {
	r := &reader{buf: body}
	tag, err := r.byte()
	if err != nil {
		return nil, err
	}
	var node *settings.Node
	switch tag {
	case tagValue:
		v, err := r.string()
		if err != nil {
			return nil, err
		}
		node = settings.NewValue(name, v)
	case tagObject, tagArray:
		count, err := r.count()
		if err != nil {
			return nil, err
		}
		children := make([]*settings.Node, 0, count)
		for i := 0; i < count; i++ {
			childName := ""
			if tag == tagObject {
				if childName, err = r.string(); err != nil {
					return nil, err
				}
			}
			childBody, err := r.lenBytes()
			if err != nil {
				return nil, err
			}
			child, err := decodeV2(childName, childBody)
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
		if tag == tagObject {
			node = settings.NewObject(name, children...)
		} else {
			node = settings.NewArray(name, children...)
		}
	default:
		return nil, corruptf("unknown node tag %d", tag)
	}
	if !r.done() {
		return nil, corruptf("%d trailing bytes after node", r.remaining())
	}
	return node, nil
}
