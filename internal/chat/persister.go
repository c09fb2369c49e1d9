package chat

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/derat/smartychat/internal/metrics"
)

// Persister watches the engine's version counter and writes a snapshot
// whenever the model changes, but no more often than the save interval.
// Writes go to a temp file first and are renamed into place, so a crash
// mid-write never corrupts the previous snapshot.
type Persister struct {
	eng      *Engine
	path     string
	interval time.Duration
	logger   zerolog.Logger
	met      *metrics.Registry

	mu       sync.Mutex // guards lastSave
	lastSave time.Time  // worker and signal-path saves both touch this
}

func newPersister(e *Engine, path string, interval time.Duration, logger zerolog.Logger, met *metrics.Registry) *Persister {
	// Seeding lastSave at construction makes the cooldown count from process
	// start, so a burst of boot-time mutations coalesces into one write.
	return &Persister{eng: e, path: path, interval: interval, logger: logger, met: met, lastSave: time.Now()}
}

func (p *Persister) start() {
	go p.run()
}

func (p *Persister) run() {
	for {
		// Block until the model is dirty. The predicate is re-checked under
		// the lock after every wake.
		p.eng.mu.Lock()
		for p.eng.currentVersion == p.eng.savedVersion {
			p.eng.versionCond.Wait()
		}
		p.eng.mu.Unlock()

		// Cooldown outside the engine lock so a chatty channel doesn't turn
		// every message into a disk write.
		p.mu.Lock()
		since := time.Since(p.lastSave)
		p.mu.Unlock()
		if d := p.interval - since; d > 0 {
			time.Sleep(d)
		}

		p.saveIfChanged()
	}
}

// saveIfChanged snapshots and writes the state if the model changed since
// the last save. Serialization happens under the engine mutex; file I/O
// does not. Write failures are logged; the snapshot is retried on the next
// version change.
func (p *Persister) saveIfChanged() {
	p.eng.mu.Lock()
	if p.eng.currentVersion == p.eng.savedVersion {
		p.eng.mu.Unlock()
		return
	}
	data, err := p.eng.serializeLocked()
	if err != nil {
		p.eng.mu.Unlock()
		p.logger.Error().Err(err).Msg("Failed to serialize state")
		if p.met != nil {
			p.met.StateSaveErrors.Inc()
		}
		return
	}
	version := p.eng.currentVersion
	p.eng.savedVersion = p.eng.currentVersion
	p.eng.mu.Unlock()

	p.mu.Lock()
	p.lastSave = time.Now()
	p.mu.Unlock()
	if err := writeFileAtomic(p.path, data); err != nil {
		p.logger.Error().Err(err).Str("path", p.path).Msg("Failed to write state")
		if p.met != nil {
			p.met.StateSaveErrors.Inc()
		}
		return
	}
	if p.met != nil {
		p.met.StateSaves.Inc()
	}
	p.logger.Debug().Uint64("version", version).Str("path", p.path).Msg("Saved state")
}

// writeFileAtomic writes data to path via an exclusively-created temp file
// with mode 0600 and an atomic rename.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	// A temp file left behind by an earlier failed save would break the
	// exclusive create.
	_ = os.Remove(tmp)

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}
