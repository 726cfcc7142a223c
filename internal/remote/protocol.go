package remote

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/steveyegge/clusterconfig/internal/wire"
	"github.com/steveyegge/clusterconfig/settings"
)

// ProtocolVersion selects how the client talks to the service.
type ProtocolVersion int

const (
	// V1 fetches the whole zone in the plain tree format.
	V1 ProtocolVersion = iota + 1
	// V2 fetches the whole zone in the indexed tree format, with patches.
	V2
	// V3 fetches only the observed subtrees.
	V3
	// V3_1 is V3 plus compressed subtrees and a server-side fallback to the
	// whole zone.
	V3_1
)

// DefaultProtocol is used until the service recommends otherwise.
const DefaultProtocol = V2

func (v ProtocolVersion) String() string {
	switch v {
	case V1:
		return "V1"
	case V2:
		return "V2"
	case V3:
		return "V3"
	case V3_1:
		return "V3_1"
	default:
		return fmt.Sprintf("ProtocolVersion(%d)", int(v))
	}
}

// ParseProtocolVersion accepts "V2", "v3_1", "3.1" and similar spellings.
func ParseProtocolVersion(s string) (ProtocolVersion, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.TrimPrefix(norm, "V")
	norm = strings.ReplaceAll(norm, ".", "_")
	switch norm {
	case "1":
		return V1, nil
	case "2":
		return V2, nil
	case "3":
		return V3, nil
	case "3_1":
		return V3_1, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedProtocol, s)
	}
}

// Protocol header and query names.
const (
	HeaderRecommendedProtocol = "X-ClusterConfig-Recommended-Protocol"
	HeaderZoneHash            = "X-ClusterConfig-Zone-Hash"
	HeaderTreeDescription     = "X-ClusterConfig-Tree-Description"

	QueryZone      = "zoneName"
	QueryForceFull = "forceFull"
)

// ForceFullProtocolChanged is the forceFull reason sent right after the
// client switches protocols.
const ForceFullProtocolChanged = "ProtocolChanged"

// requestParams is what a strategy needs to build one request.
type requestParams struct {
	zone        string
	lastVersion string
	forceFull   string
	subtrees    []SubtreeRequest
	critical    bool
}

// strategy captures how one protocol version differs from the others.
type strategy interface {
	version() ProtocolVersion
	format() wire.TreeFormat
	supportsPatch() bool
	supportsSubtrees() bool
	supportsCompression() bool
	supportsRootFallback() bool
	buildRequest(p requestParams) *Request
}

func strategyFor(v ProtocolVersion) (strategy, error) {
	switch v {
	case V1:
		return zoneStrategy{v: V1, path: "/_v1/zone", tree: wire.V1}, nil
	case V2:
		return zoneStrategy{v: V2, path: "/_v2/zone", tree: wire.V2, patch: true}, nil
	case V3:
		return subtreesStrategy{v: V3, path: "/_v3/subtrees"}, nil
	case V3_1:
		return subtreesStrategy{v: V3_1, path: "/_v3_1/subtrees", extended: true}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedProtocol, int(v))
	}
}

type zoneStrategy struct {
	v     ProtocolVersion
	path  string
	tree  wire.TreeFormat
	patch bool
}

func (s zoneStrategy) version() ProtocolVersion   { return s.v }
func (s zoneStrategy) format() wire.TreeFormat    { return s.tree }
func (s zoneStrategy) supportsPatch() bool        { return s.patch }
func (s zoneStrategy) supportsSubtrees() bool     { return false }
func (s zoneStrategy) supportsCompression() bool  { return false }
func (s zoneStrategy) supportsRootFallback() bool { return false }

func (s zoneStrategy) buildRequest(p requestParams) *Request {
	query := url.Values{}
	query.Set(QueryZone, p.zone)
	if p.forceFull != "" {
		query.Set(QueryForceFull, p.forceFull)
	}
	header := http.Header{}
	if p.lastVersion != "" {
		header.Set("If-Modified-Since", p.lastVersion)
	}
	return &Request{
		Method:   http.MethodGet,
		Path:     s.path,
		Query:    query,
		Header:   header,
		Critical: p.critical,
	}
}

type subtreesStrategy struct {
	v        ProtocolVersion
	path     string
	extended bool
}

func (s subtreesStrategy) version() ProtocolVersion   { return s.v }
func (s subtreesStrategy) format() wire.TreeFormat    { return wire.V2 }
func (s subtreesStrategy) supportsPatch() bool        { return true }
func (s subtreesStrategy) supportsSubtrees() bool     { return true }
func (s subtreesStrategy) supportsCompression() bool  { return s.extended }
func (s subtreesStrategy) supportsRootFallback() bool { return s.extended }

func (s subtreesStrategy) buildRequest(p requestParams) *Request {
	query := url.Values{}
	query.Set(QueryZone, p.zone)
	if p.forceFull != "" {
		query.Set(QueryForceFull, p.forceFull)
	}
	reqs := make([]wire.SubtreeRequest, 0, len(p.subtrees))
	for _, st := range p.subtrees {
		reqs = append(reqs, wire.SubtreeRequest{
			Prefix:    st.Path,
			Version:   st.LastVersion,
			ForceFull: p.forceFull != "",
		})
	}
	header := http.Header{}
	header.Set("Content-Type", "application/octet-stream")
	return &Request{
		Method:   http.MethodPost,
		Path:     s.path,
		Query:    query,
		Header:   header,
		Body:     wire.EncodeSubtreesRequest(reqs),
		Critical: p.critical,
	}
}

// SubtreeRequest names one observed path and the version last received
// for it. A zero LastVersion means nothing was received yet.
type SubtreeRequest struct {
	Path        settings.Path
	LastVersion time.Time
}
