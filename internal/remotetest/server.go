// Package remotetest provides an in-process cluster config service for
// tests. It speaks every protocol version the client supports and can be
// told to misbehave in the ways real deployments do.
package remotetest

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/steveyegge/clusterconfig/internal/remote"
	"github.com/steveyegge/clusterconfig/internal/wire"
	"github.com/steveyegge/clusterconfig/settings"
)

// RecordedRequest is a summary of one request the server received.
type RecordedRequest struct {
	Path            string
	Zone            string
	ForceFull       string
	IfModifiedSince string
	Subtrees        []wire.SubtreeRequest
}

// Server is a fake cluster config service.
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	zone        string
	tree        *settings.Node
	version     time.Time
	exists      bool
	history     map[int64]*settings.Node
	recommended string
	corrupt     bool
	wrongHash   bool
	compress    bool
	rejectFull  bool
	status      int
	requests    []RecordedRequest
}

// NewServer starts a server hosting zone. The zone does not exist until
// SetTree is called.
func NewServer(zone string) *Server {
	s := &Server{
		zone:    zone,
		history: make(map[int64]*settings.Node),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/_v1/zone", s.handleZone(wire.V1, false))
	mux.HandleFunc("/_v2/zone", s.handleZone(wire.V2, true))
	mux.HandleFunc("/_v3/subtrees", s.handleSubtrees(false))
	mux.HandleFunc("/_v3_1/subtrees", s.handleSubtrees(true))
	s.Server = httptest.NewServer(mux)
	return s
}

// Cluster returns a static cluster pointing at the server.
func (s *Server) Cluster() remote.StaticCluster {
	return remote.StaticCluster{s.URL}
}

// SetTree publishes a new zone tree. Versions have one-second precision
// on the wire, so callers should use whole seconds.
func (s *Server) SetTree(tree *settings.Node, version time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree = tree
	s.version = version.UTC().Truncate(time.Second)
	s.exists = true
	s.history[s.version.Unix()] = tree
}

// DeleteZone makes the zone disappear.
func (s *Server) DeleteZone() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exists = false
	s.tree = nil
}

// RecommendProtocol makes every response recommend v. Zero clears it.
func (s *Server) RecommendProtocol(v remote.ProtocolVersion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v == 0 {
		s.recommended = ""
		return
	}
	s.recommended = v.String()
}

// CorruptPatches makes patch responses undecodable.
func (s *Server) CorruptPatches(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.corrupt = on
}

// SendWrongHash makes patch responses announce a bogus zone hash.
func (s *Server) SendWrongHash(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wrongHash = on
}

// CompressSubtrees makes V3.1 responses gzip subtree contents.
func (s *Server) CompressSubtrees(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compress = on
}

// RejectForcedFull makes requests that carry a forceFull reason fail
// with 503, so a client that rejected a patch cannot recover.
func (s *Server) RejectForcedFull(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectFull = on
}

// FailWith makes every request fail with code. Zero restores service.
func (s *Server) FailWith(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = code
}

// Requests returns the requests received so far.
func (s *Server) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RecordedRequest(nil), s.requests...)
}

func (s *Server) writeCommon(w http.ResponseWriter) {
	if s.recommended != "" {
		w.Header().Set(remote.HeaderRecommendedProtocol, s.recommended)
	}
	w.Header().Set("Last-Modified", s.version.Format(http.TimeFormat))
	w.Header().Set(remote.HeaderTreeDescription, "remotetest")
}

func (s *Server) handleZone(format wire.TreeFormat, patches bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()

		rec := RecordedRequest{
			Path:            r.URL.Path,
			Zone:            r.URL.Query().Get(remote.QueryZone),
			ForceFull:       r.URL.Query().Get(remote.QueryForceFull),
			IfModifiedSince: r.Header.Get("If-Modified-Since"),
		}
		s.requests = append(s.requests, rec)

		if s.status != 0 {
			w.WriteHeader(s.status)
			return
		}
		if s.rejectFull && rec.ForceFull != "" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if !strings.EqualFold(rec.Zone, s.zone) || !s.exists {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		s.writeCommon(w)
		full := format.Serialize(s.tree)

		if since, err := http.ParseTime(rec.IfModifiedSince); err == nil {
			if !s.version.After(since) {
				w.WriteHeader(http.StatusNotModified)
				return
			}
			base, known := s.history[since.Unix()]
			if patches && known && rec.ForceFull == "" {
				patch := wire.Diff(base, s.tree)
				if s.corrupt {
					patch = append(patch, 0xff)
				}
				hash := wire.Hash(full)
				if s.wrongHash {
					hash = wire.Hash(append(full, 0))
				}
				w.Header().Set(remote.HeaderZoneHash, hash)
				w.WriteHeader(http.StatusPartialContent)
				_, _ = w.Write(patch)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(full)
	}
}

func (s *Server) handleSubtrees(extended bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		reqs, err := wire.DecodeSubtreesRequest(body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		s.mu.Lock()
		defer s.mu.Unlock()

		rec := RecordedRequest{
			Path:      r.URL.Path,
			Zone:      r.URL.Query().Get(remote.QueryZone),
			ForceFull: r.URL.Query().Get(remote.QueryForceFull),
			Subtrees:  reqs,
		}
		s.requests = append(s.requests, rec)

		if s.status != 0 {
			w.WriteHeader(s.status)
			return
		}
		if !strings.EqualFold(rec.Zone, s.zone) || !s.exists {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		subtrees := make([]wire.Subtree, 0, len(reqs))
		for _, req := range reqs {
			st := wire.Subtree{Prefix: req.Prefix}
			if !req.ForceFull && !req.Version.IsZero() && !s.version.After(req.Version) {
				subtrees = append(subtrees, st)
				continue
			}
			st.Modified = true
			if node := s.tree.ScopePath(req.Prefix); node != nil {
				st.HasContent = true
				st.Content = wire.V2.Serialize(node)
				if extended && s.compress {
					packed, err := wire.Compress(st.Content)
					if err != nil {
						w.WriteHeader(http.StatusInternalServerError)
						return
					}
					st.Content, st.Compressed = packed, true
				}
			}
			subtrees = append(subtrees, st)
		}

		s.writeCommon(w)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(wire.EncodeSubtreesResponse(subtrees))
	}
}
