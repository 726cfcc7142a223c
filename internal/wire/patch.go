package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/steveyegge/clusterconfig/settings"
)

// Patch operations. A patch mirrors the shape of the tree it changes: the
// root op either keeps the old body, replaces it, or edits object entries,
// and each entry edit may carry a nested patch.
const (
	opKeep    byte = 0
	opReplace byte = 1
	opObject  byte = 2
)

// Object entry edits, listed in ascending lowercased-name order.
const (
	entryDelete byte = 0
	entrySet    byte = 1
	entryPatch  byte = 2
)

// Diff produces a patch that turns V2.Serialize(from) into exactly
// V2.Serialize(to).
func Diff(from, to *settings.Node) []byte {
	return appendDiff(nil, from, to)
}

func appendDiff(buf []byte, from, to *settings.Node) []byte {
	if from != nil && to != nil && from.Kind() == settings.KindObject && to.Kind() == settings.KindObject {
		count, entries := diffObject(from, to)
		if count == 0 {
			return append(buf, opKeep)
		}
		buf = append(buf, opObject)
		buf = binary.AppendUvarint(buf, uint64(count))
		return append(buf, entries...)
	}

	fromBody, toBody := V2.Serialize(from), V2.Serialize(to)
	if bytes.Equal(fromBody, toBody) {
		return append(buf, opKeep)
	}
	buf = append(buf, opReplace)
	return appendBytes(buf, toBody)
}

func diffObject(from, to *settings.Node) (int, []byte) {
	var (
		buf   []byte
		count int
	)
	fc, tc := from.Children(), to.Children()
	i, j := 0, 0
	for i < len(fc) || j < len(tc) {
		switch {
		case j >= len(tc) || (i < len(fc) && strings.ToLower(fc[i].Name()) < strings.ToLower(tc[j].Name())):
			buf = appendString(buf, fc[i].Name())
			buf = append(buf, entryDelete)
			count++
			i++
		case i >= len(fc) || strings.ToLower(fc[i].Name()) > strings.ToLower(tc[j].Name()):
			buf = appendString(buf, tc[j].Name())
			buf = append(buf, entrySet)
			buf = appendBytes(buf, V2.Serialize(tc[j]))
			count++
			j++
		default:
			f, t := fc[i], tc[j]
			i++
			j++
			if f.Name() != t.Name() {
				// A rename that only changes case must rewrite the entry name.
				buf = appendString(buf, t.Name())
				buf = append(buf, entrySet)
				buf = appendBytes(buf, V2.Serialize(t))
				count++
				continue
			}
			sub := appendDiff(nil, f, t)
			if sub[0] == opKeep {
				continue
			}
			buf = appendString(buf, t.Name())
			buf = append(buf, entryPatch)
			buf = appendBytes(buf, sub)
			count++
		}
	}
	return count, buf
}

// ApplyPatch applies a patch produced by Diff to a V2 payload. Any
// malformed patch, or one that does not fit the payload, yields an error
// wrapping ErrCorrupt.
func ApplyPatch(old, patch []byte) ([]byte, error) {
	if len(patch) == 0 {
		return nil, corruptf("empty patch")
	}
	return applyBody(old, patch)
}

func applyBody(old, patch []byte) ([]byte, error) {
	r := &reader{buf: patch}
	out, err := applyNode(old, r)
	if err != nil {
		return nil, err
	}
	if !r.done() {
		return nil, corruptf("%d trailing bytes after patch", r.remaining())
	}
	return out, nil
}

type objectEntry struct {
	name string
	body []byte
}

func applyNode(old []byte, r *reader) ([]byte, error) {
	op, err := r.byte()
	if err != nil {
		return nil, err
	}
	switch op {
	case opKeep:
		return old, nil
	case opReplace:
		body, err := r.lenBytes()
		if err != nil {
			return nil, err
		}
		return body, nil
	case opObject:
		entries, err := readObjectEntries(old)
		if err != nil {
			return nil, err
		}
		merged, err := applyObject(entries, r)
		if err != nil {
			return nil, err
		}
		out := []byte{tagObject}
		out = binary.AppendUvarint(out, uint64(len(merged)))
		for _, e := range merged {
			out = appendString(out, e.name)
			out = appendBytes(out, e.body)
		}
		return out, nil
	default:
		return nil, corruptf("unknown patch op %d", op)
	}
}

func applyObject(entries []objectEntry, r *reader) ([]objectEntry, error) {
	count, err := r.count()
	if err != nil {
		return nil, err
	}
	merged := make([]objectEntry, 0, len(entries)+count)
	i := 0
	prevKey := ""
	for n := 0; n < count; n++ {
		name, err := r.string()
		if err != nil {
			return nil, err
		}
		key := strings.ToLower(name)
		if n > 0 && key <= prevKey {
			return nil, corruptf("patch entries out of order at %q", name)
		}
		prevKey = key

		for i < len(entries) && strings.ToLower(entries[i].name) < key {
			merged = append(merged, entries[i])
			i++
		}
		var match *objectEntry
		if i < len(entries) && strings.ToLower(entries[i].name) == key {
			match = &entries[i]
			i++
		}

		op, err := r.byte()
		if err != nil {
			return nil, err
		}
		switch op {
		case entryDelete:
			if match == nil {
				return nil, corruptf("delete of missing entry %q", name)
			}
		case entrySet:
			body, err := r.lenBytes()
			if err != nil {
				return nil, err
			}
			if len(body) == 0 {
				return nil, corruptf("empty body for entry %q", name)
			}
			merged = append(merged, objectEntry{name: name, body: body})
		case entryPatch:
			if match == nil {
				return nil, corruptf("patch of missing entry %q", name)
			}
			sub, err := r.lenBytes()
			if err != nil {
				return nil, err
			}
			body, err := applyBody(match.body, sub)
			if err != nil {
				return nil, fmt.Errorf("entry %q: %w", name, err)
			}
			merged = append(merged, objectEntry{name: name, body: body})
		default:
			return nil, corruptf("unknown entry op %d for %q", op, name)
		}
	}
	return append(merged, entries[i:]...), nil
}

func readObjectEntries(body []byte) ([]objectEntry, error) {
	r := &reader{buf: body}
	tag, err := r.byte()
	if err != nil {
		return nil, corruptf("object patch applied to empty tree")
	}
	if tag != tagObject {
		return nil, corruptf("object patch applied to node with tag %d", tag)
	}
	count, err := r.count()
	if err != nil {
		return nil, err
	}
	entries := make([]objectEntry, 0, count)
	for i := 0; i < count; i++ {
		name, err := r.string()
		if err != nil {
			return nil, err
		}
		child, err := r.lenBytes()
		if err != nil {
			return nil, err
		}
		entries = append(entries, objectEntry{name: name, body: child})
	}
	if !r.done() {
		return nil, corruptf("%d trailing bytes after object", r.remaining())
	}
	return entries, nil
}
