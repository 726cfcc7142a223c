package wire

import (
	"encoding/binary"
	"time"

	"github.com/steveyegge/clusterconfig/settings"
)

// SubtreeRequest asks for one subtree of a zone. A zero Version means the
// client holds nothing for the prefix yet.
type SubtreeRequest struct {
	Prefix    settings.Path
	Version   time.Time
	ForceFull bool
}

// Subtree is one entry of a subtrees response.
type Subtree struct {
	Prefix settings.Path

	// Modified is false when the server reports the subtree unchanged since
	// the requested version; no content follows then.
	Modified bool

	// HasContent is false for a modified subtree that no longer exists.
	HasContent bool

	// IsPatch marks Content as a patch against the previous V2 payload.
	IsPatch bool

	// Compressed marks Content as gzipped.
	Compressed bool

	Content []byte
}

const (
	flagModified   byte = 1 << 0
	flagHasContent byte = 1 << 1
	flagPatch      byte = 1 << 2
	flagCompressed byte = 1 << 3
)

// EncodeSubtreesRequest encodes the body of a subtrees request.
func EncodeSubtreesRequest(reqs []SubtreeRequest) []byte {
	buf := binary.AppendUvarint(nil, uint64(len(reqs)))
	for _, req := range reqs {
		buf = appendString(buf, req.Prefix.String())
		if req.Version.IsZero() {
			buf = append(buf, 0)
		} else {
			buf = append(buf, 1)
			buf = binary.AppendVarint(buf, req.Version.UnixNano())
		}
		if req.ForceFull {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	}
	return buf
}

// DecodeSubtreesRequest decodes the body of a subtrees request.
func DecodeSubtreesRequest(data []byte) ([]SubtreeRequest, error) {
	r := &reader{buf: data}
	count, err := r.count()
	if err != nil {
		return nil, err
	}
	reqs := make([]SubtreeRequest, 0, count)
	for i := 0; i < count; i++ {
		prefix, err := r.string()
		if err != nil {
			return nil, err
		}
		req := SubtreeRequest{Prefix: settings.ParsePath(prefix)}
		hasVersion, err := r.byte()
		if err != nil {
			return nil, err
		}
		if hasVersion != 0 {
			nanos, err := r.varint()
			if err != nil {
				return nil, err
			}
			req.Version = time.Unix(0, nanos).UTC()
		}
		force, err := r.byte()
		if err != nil {
			return nil, err
		}
		req.ForceFull = force != 0
		reqs = append(reqs, req)
	}
	if !r.done() {
		return nil, corruptf("%d trailing bytes after subtrees request", r.remaining())
	}
	return reqs, nil
}

// EncodeSubtreesResponse encodes the body of a subtrees response.
func EncodeSubtreesResponse(subtrees []Subtree) []byte {
	buf := binary.AppendUvarint(nil, uint64(len(subtrees)))
	for _, st := range subtrees {
		buf = appendString(buf, st.Prefix.String())
		var flags byte
		if st.Modified {
			flags |= flagModified
		}
		if st.HasContent {
			flags |= flagHasContent
		}
		if st.IsPatch {
			flags |= flagPatch
		}
		if st.Compressed {
			flags |= flagCompressed
		}
		buf = append(buf, flags)
		buf = appendBytes(buf, st.Content)
	}
	return buf
}

// DecodeSubtreesResponse decodes the body of a subtrees response. Content
// slices alias data.
func DecodeSubtreesResponse(data []byte) ([]Subtree, error) {
	r := &reader{buf: data}
	count, err := r.count()
	if err != nil {
		return nil, err
	}
	subtrees := make([]Subtree, 0, count)
	for i := 0; i < count; i++ {
		prefix, err := r.string()
		if err != nil {
			return nil, err
		}
		flags, err := r.byte()
		if err != nil {
			return nil, err
		}
		content, err := r.lenBytes()
		if err != nil {
			return nil, err
		}
		if len(content) == 0 {
			content = nil
		}
		st := Subtree{
			Prefix:     settings.ParsePath(prefix),
			Modified:   flags&flagModified != 0,
			HasContent: flags&flagHasContent != 0,
			IsPatch:    flags&flagPatch != 0,
			Compressed: flags&flagCompressed != 0,
			Content:    content,
		}
		if st.HasContent && !st.Modified {
			return nil, corruptf("unmodified subtree %q carries content", prefix)
		}
		subtrees = append(subtrees, st)
	}
	if !r.done() {
		return nil, corruptf("%d trailing bytes after subtrees response", r.remaining())
	}
	return subtrees, nil
}
