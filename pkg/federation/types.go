package federation

import (
	"strings"
	"sync"

	"fedmgr/pkg/transport"
)

// FederationInfo identifies the federation the local cluster belongs to.
// The zero value means "not federated".
type FederationInfo struct {
	Name string
	ID   uint32
}

// Empty reports whether the cluster is not part of any federation.
func (f FederationInfo) Empty() bool { return f.Name == "" }

// ClusterRecord is one member of the current federation roster. The local
// cluster appears in its own roster as the self-entry, which is never
// dialed or probed. The connection handle is guarded by the record's own
// lock so siblings never block each other on I/O.
type ClusterRecord struct {
	Name    string
	Host    string
	Port    int
	FedName string
	FedID   uint32
	IsSelf  bool

	mu   sync.Mutex
	conn transport.Conn
}

// Connected reports whether the record currently holds a live connection.
func (r *ClusterRecord) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn != nil
}

// ClusterInfo is a read-only snapshot of one roster entry.
type ClusterInfo struct {
	Name      string
	Host      string
	Port      int
	FedID     uint32
	IsSelf    bool
	Connected bool
}

// Info snapshots the record for status reporting.
func (r *ClusterRecord) Info() ClusterInfo {
	return ClusterInfo{
		Name:      r.Name,
		Host:      r.Host,
		Port:      r.Port,
		FedID:     r.FedID,
		IsSelf:    r.IsSelf,
		Connected: r.Connected(),
	}
}

// sameCluster compares cluster names case-insensitively.
func sameCluster(a, b string) bool { return strings.EqualFold(a, b) }

// newRoster builds the sibling records for one federation definition.
// Marking the self-entry happens here and nowhere else.
func newRoster(fed FederationDef, localName string) []*ClusterRecord {
	recs := make([]*ClusterRecord, 0, len(fed.Clusters))
	for _, c := range fed.Clusters {
		// Accounting definitions are not validated upstream; an
		// out-of-range port would silently truncate when persisted, so
		// it is dropped here and the record stays undialable.
		port := c.ControlPort
		if port < 0 || port > 65535 {
			port = 0
		}
		recs = append(recs, &ClusterRecord{
			Name:    c.Name,
			Host:    c.ControlHost,
			Port:    port,
			FedName: fed.Name,
			FedID:   c.FederationID,
			IsSelf:  sameCluster(c.Name, localName),
		})
	}
	return recs
}

// rosterEqual reports whether two rosters describe the same set of
// clusters with the same endpoints. Connection state is ignored.
func rosterEqual(a, b []*ClusterRecord) bool {
	if len(a) != len(b) {
		return false
	}
	byName := make(map[string]*ClusterRecord, len(a))
	for _, rec := range a {
		byName[strings.ToLower(rec.Name)] = rec
	}
	for _, rec := range b {
		prev, ok := byName[strings.ToLower(rec.Name)]
		if !ok {
			return false
		}
		if prev.Host != rec.Host || prev.Port != rec.Port ||
			prev.FedName != rec.FedName || prev.FedID != rec.FedID {
			return false
		}
	}
	return true
}
