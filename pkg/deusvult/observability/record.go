package observability

import (
	"math/big"
	"os"
	"sync"
)

// Status codes stored in TraceRecord.StatusCode.
const (
	StatusUnset = "UNSET"
	StatusOK    = "OK"
	StatusError = "ERROR"
)

// TraceRecord is the flat, storage-ready projection of a finished span.
//
// Every field is a primitive, a string map or a slice of those. Events and
// links are flattened into parallel slices indexed by position.
type TraceRecord struct {
	Timestamp          int64             `json:"timestamp" msgpack:"timestamp"`
	TraceID            string            `json:"trace_id" msgpack:"trace_id"`
	SpanID             string            `json:"span_id" msgpack:"span_id"`
	ParentSpanID       string            `json:"parent_span_id" msgpack:"parent_span_id"`
	TraceState         string            `json:"trace_state" msgpack:"trace_state"`
	SpanName           string            `json:"span_name" msgpack:"span_name"`
	SpanKind           string            `json:"span_kind" msgpack:"span_kind"`
	ServiceName        string            `json:"service_name" msgpack:"service_name"`
	ResourceAttributes map[string]string `json:"resource_attributes" msgpack:"resource_attributes"`
	SpanAttributes     map[string]string `json:"span_attributes" msgpack:"span_attributes"`
	Duration           int64             `json:"duration" msgpack:"duration"`
	StatusCode         string            `json:"status_code" msgpack:"status_code"`
	StatusMessage      string            `json:"status_message" msgpack:"status_message"`

	EventsTimestamps []int64             `json:"events_timestamps" msgpack:"events_timestamps"`
	EventsNames      []string            `json:"events_names" msgpack:"events_names"`
	EventsAttributes []map[string]string `json:"events_attributes" msgpack:"events_attributes"`

	LinksTraceIDs    []string            `json:"links_trace_ids" msgpack:"links_trace_ids"`
	LinksSpanIDs     []string            `json:"links_span_ids" msgpack:"links_span_ids"`
	LinksTraceStates []string            `json:"links_trace_states" msgpack:"links_trace_states"`
	LinksAttributes  []map[string]string `json:"links_attributes" msgpack:"links_attributes"`

	AppEnv string `json:"app_env" msgpack:"app_env"`
	Stage  string `json:"stage" msgpack:"stage"`
}

// Deployment identifies where records were produced.
type Deployment struct {
	AppEnv string
	Stage  string
}

// DeploymentFunc supplies the deployment at export time.
type DeploymentFunc func() Deployment

// StaticDeployment returns a DeploymentFunc that always reports d.
func StaticDeployment(d Deployment) DeploymentFunc {
	return func() Deployment { return d }
}

// hexID renders an identifier the way the storage schema expects:
// "0x" followed by the minimal lowercase hex of its big-endian value.
func hexID(id []byte) string {
	return "0x" + new(big.Int).SetBytes(id).Text(16)
}

var (
	hostnameOnce sync.Once
	hostname     string
)

// defaultServiceName is the host name, resolved once.
func defaultServiceName() string {
	hostnameOnce.Do(func() {
		h, err := os.Hostname()
		if err != nil || h == "" {
			h = "unknown"
		}
		hostname = h
	})
	return hostname
}
