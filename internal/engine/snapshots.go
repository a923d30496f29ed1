package engine

import (
	"errors"
	"fmt"

	"github.com/lazypower/thoughtloop/internal/memory"
	"github.com/lazypower/thoughtloop/internal/session"
	"go.uber.org/zap"
)

var errNoSnapshots = errors.New("no snapshot store configured")

// SaveSnapshot captures the live state under tag and returns the record name.
func (e *Engine) SaveSnapshot(tag string) (string, error) {
	return e.save(session.SanitizeTag(tag))
}

func (e *Engine) save(tag string) (string, error) {
	if e.snaps == nil {
		return "", errNoSnapshots
	}
	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	e.mu.Lock()
	snap := session.Capture(e.store, e.count, e.opts.Model, tag, e.scorer, e.opts.Threshold)
	e.mu.Unlock()

	name, err := e.snaps.Save(snap)
	if err != nil {
		return "", fmt.Errorf("save snapshot: %w", err)
	}
	e.mu.Lock()
	e.lastSave = name
	e.mu.Unlock()
	e.logger.Debug("session: saved", zap.String("name", name))
	return name, nil
}

// LoadSnapshot replaces the live state with a saved record. The record is
// validated before anything changes; the engine must be stopped.
func (e *Engine) LoadSnapshot(name string) error {
	if e.snaps == nil {
		return errNoSnapshots
	}
	release, err := e.acquire()
	if err != nil {
		return err
	}
	defer release()

	if e.Alive() {
		return ErrRunning
	}
	snap, err := e.snaps.Load(name)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.clearLocked(memory.NewStore(snap.Segments), snap.ThoughtCount)
	e.lastSave = name
	e.mu.Unlock()

	e.rotate("")
	e.logger.Info("session: loaded",
		zap.String("name", name),
		zap.Int("thoughts", snap.ThoughtCount),
		zap.Int("segments", len(snap.Segments)))
	return nil
}

// ResumeLatest loads the highest-numbered record. It returns the record name,
// or session.ErrNotFound when there is nothing to resume.
func (e *Engine) ResumeLatest() (string, error) {
	if e.snaps == nil {
		return "", errNoSnapshots
	}
	info, err := session.Latest(e.snaps)
	if err != nil {
		return "", err
	}
	if err := e.LoadSnapshot(info.Name); err != nil {
		return "", err
	}
	return info.Name, nil
}

// DeleteSnapshot removes a record permanently.
func (e *Engine) DeleteSnapshot(name string) error {
	if e.snaps == nil {
		return errNoSnapshots
	}
	e.saveMu.Lock()
	defer e.saveMu.Unlock()
	return e.snaps.Delete(name)
}

// ListSnapshots lists records, newest first.
func (e *Engine) ListSnapshots() ([]session.Info, error) {
	if e.snaps == nil {
		return nil, errNoSnapshots
	}
	return e.snaps.List()
}

// PreviewSnapshot loads a record and renders its preview.
func (e *Engine) PreviewSnapshot(name string) (session.Snapshot, string, error) {
	if e.snaps == nil {
		return session.Snapshot{}, "", errNoSnapshots
	}
	snap, err := e.snaps.Load(name)
	if err != nil {
		return session.Snapshot{}, "", err
	}
	return snap, session.Describe(snap), nil
}
