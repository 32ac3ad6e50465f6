package federation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"fedmgr/config"
	"fedmgr/pkg/transport"
)

// Manager is the federation membership state machine. It consumes
// membership updates from the accounting service, owns the sibling
// roster and federation identity, and drives the connection pool and
// liveness prober through join and leave transitions.
//
// All identity and roster mutations happen under the write lock; the
// prober and status queries read under the read lock, so no reader ever
// observes an identity that does not match its roster. Per-record
// connection locks are strictly finer-grained and are only taken after
// (or without) the roster lock.
type Manager struct {
	mu sync.RWMutex

	clusterName string
	inited      bool

	fed      FederationInfo
	siblings []*ClusterRecord

	pool   *ConnPool
	prober *Prober
	store  *Store
	log    *zap.Logger
}

// NewManager wires the state machine to its collaborators. The dialer is
// the opaque control-plane transport; cfg supplies the local cluster
// name, probe timing, and the state save location.
func NewManager(cfg *config.Config, dialer transport.Dialer, log *zap.Logger) *Manager {
	log = log.With(zap.String("component", "fed_mgr"))
	m := &Manager{
		clusterName: cfg.Cluster.Name,
		log:         log,
	}
	m.pool = NewConnPool(dialer, log)
	m.prober = newProber(m, cfg.Federation.PingInterval, cfg.Federation.StopWait, log)
	m.store = NewStore(cfg.State.SaveLocation, log)
	return m
}

// Init marks the manager initialized. Idempotent; the local cluster name
// is fixed at construction and never changes afterward.
func (m *Manager) Init() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inited = true
}

// ApplyUpdate processes one membership-update batch. The first
// federation whose member list contains the local cluster name wins and
// the scan stops; a batch with no such federation while previously
// federated triggers the leave transition. The whole transition runs
// under the write lock.
func (m *Manager) ApplyUpdate(ctx context.Context, u *Update) error {
	if u == nil || len(u.Federations) == 0 {
		return nil
	}
	m.Init()

	m.mu.Lock()
	defer m.mu.Unlock()

	log := m.log.With(zap.String("update_id", u.ID))

	partOfFed := false
	for _, fed := range u.Federations {
		log.Debug("federation update",
			zap.String("federation", fed.Name),
			zap.Int("clusters", len(fed.Clusters)))

		var self *ClusterDef
		for i := range fed.Clusters {
			if sameCluster(fed.Clusters[i].Name, m.clusterName) {
				self = &fed.Clusters[i]
				break
			}
		}
		if self == nil {
			continue
		}
		partOfFed = true

		m.fed = FederationInfo{Name: fed.Name, ID: self.FederationID}
		roster := newRoster(fed, m.clusterName)
		if rosterEqual(m.siblings, roster) {
			log.Info("federation roster unchanged",
				zap.String("federation", fed.Name))
		} else {
			log.Info("joined federation",
				zap.String("federation", fed.Name),
				zap.Uint32("cluster_id", self.FederationID),
				zap.Int("clusters", len(roster)))
			m.closeSiblingsLocked()
			m.siblings = roster
			for _, rec := range m.siblings {
				if !rec.IsSelf {
					m.pool.Open(ctx, rec)
				}
			}
		}
		m.prober.Start()
		// first matching federation wins
		break
	}

	if !partOfFed {
		log.Debug("not part of any federation")
		if !m.fed.Empty() {
			log.Info("leaving federation", zap.String("federation", m.fed.Name))
			m.finiLocked()
			if err := m.saveLocked(); err != nil {
				log.Error("failed to save federation state", zap.Error(err))
			}
		}
		return nil
	}

	if err := m.saveLocked(); err != nil {
		log.Error("failed to save federation state", zap.Error(err))
	}
	return nil
}

// Run consumes membership updates from one channel until ctx is
// canceled or the channel closes, serializing concurrent producers
// through a single actor.
func (m *Manager) Run(ctx context.Context, updates <-chan *Update) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			if err := m.ApplyUpdate(ctx, u); err != nil {
				m.log.Error("failed to apply membership update",
					zap.String("update_id", u.ID), zap.Error(err))
			}
		}
	}
}

// GetInfo returns a consistent snapshot of the federation identity and
// roster for status reporting. Both are copies; callers cannot alias the
// live records. Empty when unfederated.
func (m *Manager) GetInfo() (FederationInfo, []ClusterInfo) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.fed.Empty() {
		return FederationInfo{}, nil
	}
	clusters := make([]ClusterInfo, 0, len(m.siblings))
	for _, rec := range m.siblings {
		clusters = append(clusters, rec.Info())
	}
	return m.fed, clusters
}

// FindSiblingByHost returns the name of the sibling whose control host
// matches host exactly.
func (m *Manager) FindSiblingByHost(host string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, rec := range m.siblings {
		if rec.Host == host {
			return rec.Name, true
		}
	}
	return "", false
}

// IsActive reports whether the cluster is part of a federation.
func (m *Manager) IsActive() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.fed.Empty()
}

// FederatedJobID tags a local job id with the current federation cluster
// id. When unfederated the id passes through unchanged.
func (m *Manager) FederatedJobID(localID uint32) uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return ComposeJobID(localID, m.fed.ID)
}

// Save persists the current roster and identity. Called after membership
// changes and at shutdown.
func (m *Manager) Save() error {
	m.mu.RLock()
	data := encodeState(time.Now(), m.siblings)
	m.mu.RUnlock()
	return m.store.Write(data)
}

func (m *Manager) saveLocked() error {
	return m.store.Write(encodeState(time.Now(), m.siblings))
}

// LoadState recovers persisted federation state at startup. A missing
// file is not an error. A recovered roster that does not contain the
// locally-configured cluster name is rejected as stale or foreign, and
// nothing is installed. On success the manager performs normal federated
// startup: connections are opened and the prober starts.
func (m *Manager) LoadState(ctx context.Context) error {
	data, err := m.store.Read()
	if err != nil {
		return err
	}
	if data == nil {
		m.log.Info("no federation state file to recover",
			zap.String("path", m.store.Path()))
		return nil
	}

	savedAt, recs, err := decodeState(data)
	if err != nil {
		return fmt.Errorf("recover %s: %w", m.store.Path(), err)
	}
	if len(recs) == 0 {
		m.log.Info("recovered empty federation state",
			zap.Time("saved_at", savedAt))
		return nil
	}

	var self *ClusterRecord
	for _, rec := range recs {
		if sameCluster(rec.Name, m.clusterName) {
			rec.IsSelf = true
			self = rec
			break
		}
	}
	if self == nil {
		return fmt.Errorf("recover %s: local cluster %q not in sibling list",
			m.store.Path(), m.clusterName)
	}

	m.Init()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.closeSiblingsLocked()
	m.siblings = recs
	m.fed = FederationInfo{Name: self.FedName, ID: self.FedID}

	m.log.Info("recovered federation state",
		zap.String("federation", m.fed.Name),
		zap.Int("siblings", len(recs)),
		zap.Time("saved_at", savedAt))

	for _, rec := range m.siblings {
		if !rec.IsSelf {
			m.pool.Open(ctx, rec)
		}
	}
	m.prober.Start()

	return nil
}

// Fini tears everything down: connections closed, prober stopped, state
// cleared. Used at process shutdown; the leave transition runs the same
// logic under the already-held write lock.
func (m *Manager) Fini() {
	m.mu.Lock()
	m.finiLocked()
	m.mu.Unlock()

	// Joining the prober under the write lock would deadlock against a
	// pass waiting on the read lock, so the bounded wait happens here.
	m.prober.StopWait()
}

// finiLocked requires the write lock. The prober is only signaled, never
// joined.
func (m *Manager) finiLocked() {
	m.closeSiblingsLocked()
	m.prober.Stop()
	m.fed = FederationInfo{}
	m.siblings = nil
	m.inited = false
}

// closeSiblingsLocked requires the write lock.
func (m *Manager) closeSiblingsLocked() {
	for _, rec := range m.siblings {
		if rec.IsSelf {
			continue
		}
		m.pool.Close(rec)
	}
}
