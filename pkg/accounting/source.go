// Package accounting delivers federation membership updates from the
// authoritative accounting service. The production deployment consumes a
// push feed; this package ships a file-backed source that watches a
// federation definition file and re-emits the full definition set on
// every change, which is also what integration environments use.
package accounting

import (
	"context"
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"fedmgr/pkg/federation"
)

// Source is an inbound membership-update feed.
type Source interface {
	// Updates returns the event channel. Events are full snapshots, not
	// deltas.
	Updates() <-chan *federation.Update
	// Start begins producing events until ctx is canceled.
	Start(ctx context.Context) error
}

// FileSource reads federation definitions from a YAML file:
//
//	federations:
//	  - name: fedA
//	    clusters:
//	      - name: cluster1
//	        control_host: c1.example.com
//	        control_port: 6817
//	        federation_id: 1
type FileSource struct {
	path string
	log  *zap.Logger

	v       *viper.Viper
	updates chan *federation.Update

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// NewFileSource returns a source watching path.
func NewFileSource(path string, log *zap.Logger) *FileSource {
	return &FileSource{
		path:    path,
		log:     log.With(zap.String("component", "fed_acct")),
		updates: make(chan *federation.Update, 4),
	}
}

// Updates returns the event channel.
func (s *FileSource) Updates() <-chan *federation.Update { return s.updates }

// Start reads the file once, emits the initial update, and then watches
// for changes. The watcher runs until ctx is canceled.
func (s *FileSource) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.ctx != nil {
		s.mu.Unlock()
		return fmt.Errorf("accounting source already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.v = viper.New()
	s.v.SetConfigFile(s.path)
	if err := s.v.ReadInConfig(); err != nil {
		s.cancel()
		s.ctx, s.cancel = nil, nil
		s.mu.Unlock()
		return fmt.Errorf("read federation definitions: %w", err)
	}
	s.mu.Unlock()

	s.emit()

	s.v.OnConfigChange(func(e fsnotify.Event) {
		s.log.Debug("federation definition file changed",
			zap.String("file", e.Name), zap.String("op", e.Op.String()))
		s.emit()
	})
	s.v.WatchConfig()

	return nil
}

// emit parses the current definitions and pushes one update. A full
// channel drops the event; the next change resends the complete set, so
// nothing is lost for long.
func (s *FileSource) emit() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx != nil && ctx.Err() != nil {
		return
	}

	var feds []federation.FederationDef
	if err := s.v.UnmarshalKey("federations", &feds); err != nil {
		s.log.Error("malformed federation definitions", zap.Error(err))
		return
	}

	u := federation.NewUpdate(feds)
	select {
	case s.updates <- u:
		s.log.Info("membership update",
			zap.String("update_id", u.ID),
			zap.Int("federations", len(feds)))
	default:
		s.log.Warn("membership update dropped, consumer busy",
			zap.String("update_id", u.ID))
	}
}

// Stop cancels the source. The underlying file watcher goroutine is
// owned by viper and stops emitting once canceled.
func (s *FileSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}
