package remote

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/steveyegge/clusterconfig/internal/metrics"
	"github.com/steveyegge/clusterconfig/internal/state"
	"github.com/steveyegge/clusterconfig/internal/wire"
	"github.com/steveyegge/clusterconfig/settings"
)

// UpdaterConfig holds the settings of an Updater.
type UpdaterConfig struct {
	// Enabled turns remote settings on. A disabled updater never touches
	// the transport and always reports an empty result.
	Enabled bool

	Zone      string
	Transport Transport

	// AssumeDeployed makes a missing service an error instead of an empty
	// zone.
	AssumeDeployed bool

	// MaxDecompressedSize bounds gzipped subtrees. Zero means no limit.
	MaxDecompressedSize int64

	Logger logrus.FieldLogger

	// OnUpdate, if set, is called for every accepted payload.
	OnUpdate func(UpdateEvent)
}

// Updater fetches zone data from the service. It is not safe for
// concurrent use; the client calls it from its single update loop.
type Updater struct {
	config UpdaterConfig
	log    logrus.FieldLogger
}

// NewUpdater creates an updater.
func NewUpdater(config UpdaterConfig) (*Updater, error) {
	if config.Enabled && config.Transport == nil {
		return nil, fmt.Errorf("transport cannot be nil when remote settings are enabled")
	}
	if config.Enabled && config.Zone == "" {
		return nil, fmt.Errorf("zone cannot be empty when remote settings are enabled")
	}
	log := config.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Updater{
		config: config,
		log:    log.WithField("zone", config.Zone),
	}, nil
}

// Update performs one request against the service.
//
// paths lists the observed subtrees; it is only used by subtree
// protocols. last is the previous result, or nil on the first call.
func (u *Updater) Update(ctx context.Context, paths []SubtreeRequest, protocol ProtocolVersion, last *UpdateResult) (*UpdateResult, error) {
	if !u.config.Enabled {
		return emptyResult(last), nil
	}

	strat, err := strategyFor(protocol)
	if err != nil {
		return nil, u.fail(err)
	}

	protocolChanged := last != nil && last.Protocol != 0 && last.Protocol != protocol
	params := requestParams{
		zone:     u.config.Zone,
		subtrees: paths,
		critical: last == nil,
	}
	switch {
	case last != nil && last.PatchFailure != "":
		params.forceFull = string(last.PatchFailure)
	case protocolChanged:
		params.forceFull = ForceFullProtocolChanged
	}
	if last != nil && !last.Version.IsZero() && !strat.supportsSubtrees() {
		params.lastVersion = last.Version.UTC().Format(http.TimeFormat)
	}

	res, err := u.config.Transport.Send(ctx, strat.buildRequest(params))
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, u.fail(err)
	}

	if result, ok := u.handleFailure(res, last); ok {
		return result, nil
	}
	if res.Status != StatusSuccess || res.Response == nil {
		return nil, u.fail(fmt.Errorf("%w: request status = %s, replica responses = %s",
			ErrNoAcceptableResponse, res.Status, res.describeReplicas()))
	}

	resp := res.Response
	recommended := recommendedProtocol(resp.Header, u.log)

	switch resp.StatusCode {
	case http.StatusNotModified:
		if last == nil {
			return nil, u.fail(ErrUnexpectedNotModified)
		}
		return unchangedResult(last, protocol, recommended), nil
	case http.StatusOK, http.StatusPartialContent:
		return u.handleData(res, strat, paths, protocolChanged, last, recommended)
	default:
		return nil, u.fail(fmt.Errorf("%w: %d from %s", ErrUnexpectedStatus, resp.StatusCode, res.Replica))
	}
}

func (u *Updater) fail(err error) error {
	return &UpdateError{Zone: u.config.Zone, Err: err}
}

// handleFailure turns a missing service or a missing zone into an empty
// result where that is the right answer.
func (u *Updater) handleFailure(res *Result, last *UpdateResult) (*UpdateResult, bool) {
	switch res.Status {
	case StatusReplicasNotFound:
		hasData := last != nil && (last.Tree != nil || last.Subtrees != nil)
		if hasData || u.config.AssumeDeployed {
			return nil, false
		}
		if last == nil {
			u.log.Info("Cluster config service replicas not found, assuming the service is not deployed")
		}
		return emptyResult(last), true
	case StatusReplicasExhausted:
		if !res.anyReplicaStatus(http.StatusNotFound) {
			return nil, false
		}
		result := emptyResult(last)
		if result.Changed {
			u.log.Warn("Zone not found in cluster config service")
		}
		return result, true
	default:
		return nil, false
	}
}

func (u *Updater) handleData(res *Result, strat strategy, paths []SubtreeRequest, protocolChanged bool, last *UpdateResult, recommended ProtocolVersion) (*UpdateResult, error) {
	resp := res.Response
	lastModified := resp.Header.Get("Last-Modified")
	if lastModified == "" {
		return nil, u.fail(fmt.Errorf("%w: %d from %s", ErrMissingVersion, resp.StatusCode, res.Replica))
	}
	version, err := http.ParseTime(lastModified)
	if err != nil {
		return nil, u.fail(fmt.Errorf("%w: bad Last-Modified %q: %v", ErrMalformedResponse, lastModified, err))
	}
	isPatch := resp.StatusCode == http.StatusPartialContent
	if isPatch && protocolChanged {
		return nil, u.fail(fmt.Errorf("%w: patch received right after switching to %s", ErrUnexpectedPatch, strat.version()))
	}

	if last != nil && !last.Version.IsZero() {
		stale := version.Before(last.Version)
		// Subtree responses answer for several prefixes at once, so an equal
		// version may still carry news. Protocol switches must also accept
		// an equal version, since the held data is in the old format.
		if !strat.supportsSubtrees() && !protocolChanged && version.Equal(last.Version) {
			return unchangedResult(last, strat.version(), recommended), nil
		}
		if stale {
			u.log.WithFields(logrus.Fields{
				"received": version,
				"held":     last.Version,
				"replica":  res.Replica,
			}).Warn("Received settings are older than the ones already held, ignoring")
			metrics.ReportStaleResponse(u.config.Zone)
			return unchangedResult(last, strat.version(), recommended), nil
		}
	}

	if strat.supportsSubtrees() {
		return u.handleSubtrees(res, strat, paths, version, last, recommended)
	}
	if isPatch {
		return u.handlePatch(res, strat, version, last, recommended)
	}
	return u.handleFullTree(res, strat, version, recommended)
}

func (u *Updater) handleFullTree(res *Result, strat strategy, version time.Time, recommended ProtocolVersion) (*UpdateResult, error) {
	body := res.Response.Body
	if len(body) == 0 {
		return nil, u.fail(fmt.Errorf("%w: empty zone body from %s", ErrMalformedResponse, res.Replica))
	}
	description := res.Response.Header.Get(HeaderTreeDescription)
	tree := state.NewRemoteTree(body, strat.format(), description)

	u.log.WithFields(logrus.Fields{
		"version":  version,
		"protocol": strat.version(),
		"size":     len(body),
		"replica":  res.Replica,
	}).Info("Received new settings from server")
	u.emit(res, strat, version, false, 0, len(body), description)

	return &UpdateResult{
		Changed:             true,
		Tree:                tree,
		Protocol:            strat.version(),
		Version:             version,
		RecommendedProtocol: recommended,
	}, nil
}

func (u *Updater) handlePatch(res *Result, strat strategy, version time.Time, last *UpdateResult, recommended ProtocolVersion) (*UpdateResult, error) {
	if !strat.supportsPatch() {
		return nil, u.fail(fmt.Errorf("%w: protocol %s has no patches", ErrUnexpectedPatch, strat.version()))
	}
	if last == nil || last.Tree == nil || last.Tree.Format() != strat.format() {
		return nil, u.fail(fmt.Errorf("%w: no %s base tree to patch", ErrUnexpectedPatch, strat.format().Name()))
	}

	patched, err := tryApplyPatch(last.Tree.Bytes(), res.Response.Body)
	if err != nil {
		u.log.WithError(err).Warn("Failed to apply settings patch, requesting the full zone")
		metrics.ReportPatchFailure(u.config.Zone, string(PatchApplyFailed))
		return patchFailedResult(last, recommended, PatchApplyFailed), nil
	}
	if expected := res.Response.Header.Get(HeaderZoneHash); !wire.VerifyHash(patched, expected) {
		u.log.WithFields(logrus.Fields{
			"expected": expected,
			"actual":   wire.Hash(patched),
		}).Warn("Patched settings hash mismatch, requesting the full zone")
		metrics.ReportPatchFailure(u.config.Zone, string(PatchHashMismatch))
		return patchFailedResult(last, recommended, PatchHashMismatch), nil
	}

	description := res.Response.Header.Get(HeaderTreeDescription)
	u.log.WithFields(logrus.Fields{
		"version":    version,
		"protocol":   strat.version(),
		"size":       len(patched),
		"patch_size": len(res.Response.Body),
		"replica":    res.Replica,
	}).Info("Received settings patch from server")
	u.emit(res, strat, version, true, 0, len(patched), description)

	return &UpdateResult{
		Changed:             true,
		Tree:                state.NewRemoteTree(patched, strat.format(), description),
		Protocol:            strat.version(),
		Version:             version,
		RecommendedProtocol: recommended,
	}, nil
}

func (u *Updater) handleSubtrees(res *Result, strat strategy, paths []SubtreeRequest, version time.Time, last *UpdateResult, recommended ProtocolVersion) (*UpdateResult, error) {
	if res.Response.StatusCode == http.StatusPartialContent {
		return nil, u.fail(fmt.Errorf("%w: subtree protocols patch per subtree", ErrUnexpectedPatch))
	}
	received, err := wire.DecodeSubtreesResponse(res.Response.Body)
	if err != nil {
		return nil, u.fail(fmt.Errorf("%w: %v", ErrMalformedResponse, err))
	}
	if err := checkRequested(received, paths, strat.supportsRootFallback()); err != nil {
		return nil, u.fail(err)
	}

	var lastSet *state.RemoteSubtreeSet
	if last != nil {
		lastSet = last.Subtrees
	}

	description := res.Response.Header.Get(HeaderTreeDescription)
	entries := make([]state.SubtreeEntry, 0, len(received))
	changed, patched, size, modified := false, false, 0, 0
	for _, st := range received {
		if !st.Modified {
			prevState, prevTree := lastSet.Lookup(st.Prefix)
			entries = append(entries, state.SubtreeEntry{Path: st.Prefix, State: prevState, Tree: prevTree})
			continue
		}
		changed = true
		modified++
		if !st.HasContent {
			entries = append(entries, state.SubtreeEntry{Path: st.Prefix, State: state.SubtreeAbsent})
			continue
		}

		content := st.Content
		if st.Compressed {
			if !strat.supportsCompression() {
				return nil, u.fail(fmt.Errorf("%w: compressed subtree %q under %s", ErrMalformedResponse, st.Prefix, strat.version()))
			}
			if content, err = wire.Decompress(content, u.config.MaxDecompressedSize); err != nil {
				return nil, u.fail(fmt.Errorf("%w: subtree %q: %v", ErrMalformedResponse, st.Prefix, err))
			}
		}
		if st.IsPatch {
			if !st.Prefix.IsRoot() {
				return nil, u.fail(fmt.Errorf("%w: patch for non-root subtree %q", ErrUnexpectedPatch, st.Prefix))
			}
			prevState, prevTree := lastSet.Lookup(st.Prefix)
			if prevState != state.SubtreePresent {
				return nil, u.fail(fmt.Errorf("%w: no base for root subtree patch", ErrUnexpectedPatch))
			}
			result, err := tryApplyPatch(prevTree.Bytes(), content)
			if err != nil {
				u.log.WithError(err).Warn("Failed to apply root subtree patch, requesting full subtrees")
				metrics.ReportPatchFailure(u.config.Zone, string(PatchApplyFailed))
				return patchFailedResult(last, recommended, PatchApplyFailed), nil
			}
			if expected := res.Response.Header.Get(HeaderZoneHash); !wire.VerifyHash(result, expected) {
				u.log.WithField("expected", expected).Warn("Patched root subtree hash mismatch, requesting full subtrees")
				metrics.ReportPatchFailure(u.config.Zone, string(PatchHashMismatch))
				return patchFailedResult(last, recommended, PatchHashMismatch), nil
			}
			content, patched = result, true
		}
		size += len(content)
		entries = append(entries, state.SubtreeEntry{
			Path:  st.Prefix,
			State: state.SubtreePresent,
			Tree:  state.NewRemoteTree(content, wire.V2, description),
		})
	}

	if changed {
		u.log.WithFields(logrus.Fields{
			"version":  version,
			"protocol": strat.version(),
			"modified": modified,
			"size":     size,
			"replica":  res.Replica,
		}).Info("Received new subtrees from server")
		u.emit(res, strat, version, patched, modified, size, description)
	}

	return &UpdateResult{
		Changed:             changed,
		Subtrees:            state.NewRemoteSubtreeSet(entries...),
		Protocol:            strat.version(),
		Version:             version,
		RecommendedProtocol: recommended,
	}, nil
}

// checkRequested rejects subtrees that were never asked for. Servers
// with root fallback may answer with the root instead of the requested
// prefixes.
func checkRequested(received []wire.Subtree, paths []SubtreeRequest, rootFallback bool) error {
	requested := make(map[settings.Path]bool, len(paths))
	for _, p := range paths {
		requested[p.Path] = true
	}
	for _, st := range received {
		if requested[st.Prefix] || (rootFallback && st.Prefix.IsRoot()) {
			continue
		}
		return fmt.Errorf("%w: unrequested subtree %q", ErrMalformedResponse, st.Prefix)
	}
	return nil
}

func (u *Updater) emit(res *Result, strat strategy, version time.Time, patch bool, subtrees, size int, description string) {
	if u.config.OnUpdate == nil {
		return
	}
	u.config.OnUpdate(UpdateEvent{
		Zone:        u.config.Zone,
		Replica:     res.Replica,
		Protocol:    strat.version(),
		Version:     version,
		Patch:       patch,
		Subtrees:    subtrees,
		Size:        size,
		Description: description,
		ReceivedAt:  time.Now(),
	})
}

// tryApplyPatch applies a patch, converting any panic from malformed input
// into an error.
func tryApplyPatch(base, patch []byte) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("patch application panicked: %v", r)
		}
	}()
	return wire.ApplyPatch(base, patch)
}

func recommendedProtocol(header http.Header, log logrus.FieldLogger) ProtocolVersion {
	raw := header.Get(HeaderRecommendedProtocol)
	if raw == "" {
		return 0
	}
	v, err := ParseProtocolVersion(raw)
	if err != nil {
		log.WithField("value", raw).Warn("Ignoring unknown recommended protocol")
		return 0
	}
	return v
}

// emptyResult is the result for a missing zone or disabled remote
// settings. It counts as a change unless the previous result was empty
// too.
func emptyResult(last *UpdateResult) *UpdateResult {
	result := &UpdateResult{Changed: last == nil || !last.IsEmpty()}
	if last != nil {
		result.Protocol = last.Protocol
	}
	return result
}

func unchangedResult(last *UpdateResult, protocol ProtocolVersion, recommended ProtocolVersion) *UpdateResult {
	return &UpdateResult{
		Changed:             false,
		Tree:                last.Tree,
		Subtrees:            last.Subtrees,
		Protocol:            protocol,
		Version:             last.Version,
		RecommendedProtocol: recommended,
	}
}

func patchFailedResult(last *UpdateResult, recommended ProtocolVersion, reason PatchFailure) *UpdateResult {
	return &UpdateResult{
		Changed:             false,
		Tree:                last.Tree,
		Subtrees:            last.Subtrees,
		Protocol:            last.Protocol,
		Version:             last.Version,
		RecommendedProtocol: recommended,
		PatchFailure:        reason,
	}
}
