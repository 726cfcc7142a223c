package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Request is a protocol request, addressed to whichever replica the
// transport picks.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte

	// Critical marks the first request of a client. Transports may retry
	// critical requests more aggressively.
	Critical bool
}

// Response is one replica's answer.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// ResultStatus summarizes how a request went across replicas.
type ResultStatus int

const (
	// StatusSuccess means Response holds an accepted answer.
	StatusSuccess ResultStatus = iota
	// StatusReplicasNotFound means the cluster resolved to no replicas.
	StatusReplicasNotFound
	// StatusReplicasExhausted means every replica was tried and none gave
	// an accepted answer.
	StatusReplicasExhausted
	// StatusTimeExpired means the request timeout elapsed.
	StatusTimeExpired
	// StatusCanceled means the caller's context was cancelled.
	StatusCanceled
)

func (s ResultStatus) String() string {
	switch s {
	case StatusSuccess:
		return "Success"
	case StatusReplicasNotFound:
		return "ReplicasNotFound"
	case StatusReplicasExhausted:
		return "ReplicasExhausted"
	case StatusTimeExpired:
		return "TimeExpired"
	case StatusCanceled:
		return "Canceled"
	default:
		return fmt.Sprintf("ResultStatus(%d)", int(s))
	}
}

// ReplicaResult records one attempt against one replica.
type ReplicaResult struct {
	Replica  string
	Response *Response
	Err      error
}

func (r ReplicaResult) String() string {
	switch {
	case r.Err != nil:
		return fmt.Sprintf("%s: %v", r.Replica, r.Err)
	case r.Response != nil:
		return fmt.Sprintf("%s: %d", r.Replica, r.Response.StatusCode)
	default:
		return r.Replica + ": no response"
	}
}

// Result is the outcome of sending a Request.
type Result struct {
	Status   ResultStatus
	Response *Response
	Replica  string
	Replicas []ReplicaResult
}

func (r *Result) describeReplicas() string {
	if len(r.Replicas) == 0 {
		return "none"
	}
	parts := make([]string, 0, len(r.Replicas))
	for _, rr := range r.Replicas {
		parts = append(parts, rr.String())
	}
	return strings.Join(parts, ", ")
}

func (r *Result) anyReplicaStatus(code int) bool {
	for _, rr := range r.Replicas {
		if rr.Response != nil && rr.Response.StatusCode == code {
			return true
		}
	}
	return false
}

// Transport delivers requests to the cluster config service.
//
// Send returns an error only for failures outside the protocol, such as
// an unusable cluster definition. Replica-level failures are reported
// through the Result.
type Transport interface {
	Send(ctx context.Context, req *Request) (*Result, error)
}
