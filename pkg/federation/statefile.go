package federation

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// StateFileName is the canonical state file inside the save location.
const StateFileName = "fed_mgr_state"

// Store persists the encoded federation state under one directory. A
// save never touches the canonical file until the replacement is fully
// written and synced, and the previous contents survive as a .old
// backup.
type Store struct {
	dir string
	log *zap.Logger
}

// NewStore returns a store rooted at dir.
func NewStore(dir string, log *zap.Logger) *Store {
	return &Store{dir: dir, log: log.With(zap.String("component", "fed_state"))}
}

// Path returns the canonical state file path.
func (s *Store) Path() string { return filepath.Join(s.dir, StateFileName) }

// Write stages data in a .new file, fsyncs it, then swaps it in with a
// link shuffle: unlink .old, link canonical to .old, unlink canonical,
// link .new to canonical, unlink .new. On any write error the staging
// file is removed and the canonical file is left untouched.
func (s *Store) Write(data []byte) error {
	regFile := s.Path()
	oldFile := regFile + ".old"
	newFile := regFile + ".new"

	f, err := os.OpenFile(newFile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create %s: %w", newFile, err)
	}
	_, werr := f.Write(data)
	if werr == nil {
		werr = f.Sync()
	}
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = os.Remove(newFile)
		return fmt.Errorf("write %s: %w", newFile, werr)
	}

	// file shuffle
	_ = os.Remove(oldFile)
	if err := os.Link(regFile, oldFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Debug("unable to link backup", zap.String("from", regFile),
			zap.String("to", oldFile), zap.Error(err))
	}
	_ = os.Remove(regFile)
	if err := os.Link(newFile, regFile); err != nil {
		return fmt.Errorf("link %s -> %s: %w", newFile, regFile, err)
	}
	_ = os.Remove(newFile)

	return nil
}

// Read returns the canonical file's contents, or (nil, nil) when no file
// exists: a missing file means no prior federation, not an error.
func (s *Store) Read() ([]byte, error) {
	data, err := os.ReadFile(s.Path())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.Path(), err)
	}
	return data, nil
}
