package store

import "time"

// Record is the shape every entity persisted through the Store Adapter
// contract takes (§6): a keyed, write-through value with optional vector
// data for similarity search. The core never inspects Vector for
// correctness -- it is opaque passthrough, zero-filled when irrelevant.
type Record struct {
	ID        string                 `json:"id"`
	Metadata  map[string]interface{} `json:"metadata"`
	Vector    []float32              `json:"vector,omitempty"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// Resource namespaces a record key the way the teacher's TenantKey/
// TenantPrefix helpers do, generalized from per-tenant resources to the
// swarm's persisted record layouts (§6 table).
type Resource string

const (
	ResourceAgent   Resource = "agent"
	ResourceMessage Resource = "message"
	ResourceTask    Resource = "task"
	ResourceResult  Resource = "result"
	ResourceCounter Resource = "counter"
	ResourceLock    Resource = "lock"
)

// Key builds the fully qualified record id for a resource, matching the
// `<kind>/<id>` layout from §6 ("agent/<id>", "message/<id>", ...).
func Key(resource Resource, id string) string {
	return string(resource) + "/" + id
}

// NamespacedKey builds `<ns>/<kind>/<id>` keys, used for per-agent task and
// result envelopes ("<ns>/task/<taskId>", "<ns>/result/<taskId>").
func NamespacedKey(namespace string, resource Resource, id string) string {
	return namespace + "/" + string(resource) + "/" + id
}

// Prefix builds the scan prefix for a resource, e.g. for list(prefix).
func Prefix(resource Resource) string {
	return string(resource) + "/"
}
