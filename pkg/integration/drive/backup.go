// Package drive backs the local store up to a Google Drive folder.
package drive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultInterval is the time between backups.
const DefaultInterval = 6 * time.Hour

// Snapshotter writes a consistent copy of a database to a file.
type Snapshotter interface {
	Snapshot(path string) error
}

// Backup periodically uploads a snapshot of the store, replacing the
// previous upload of the same name.
type Backup struct {
	service  DriveAPI
	store    Snapshotter
	fileName string
	interval time.Duration
	log      zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewBackup creates a Drive backup of store uploaded as fileName.
func NewBackup(service DriveAPI, store Snapshotter, fileName string, interval time.Duration, log zerolog.Logger) *Backup {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Backup{
		service:  service,
		store:    store,
		fileName: fileName,
		interval: interval,
		log:      log.With().Str("component", "drive").Logger(),
	}
}

// Start runs a backup immediately and then every interval.
func (b *Backup) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()

		for {
			if id, err := b.Once(ctx); err != nil {
				if ctx.Err() == nil {
					b.log.Warn().Err(err).Msg("store backup failed")
				}
			} else {
				b.log.Info().Str("file_id", id).Msg("store backed up")
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}(b.done)
}

// Stop ends the loop and waits for an in-flight upload.
func (b *Backup) Stop() {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.cancel, b.done = nil, nil
	b.mu.Unlock()
	if done == nil {
		return
	}
	cancel()
	<-done
}

// Once snapshots the store and uploads it, returning the Drive file ID.
func (b *Backup) Once(ctx context.Context) (string, error) {
	dir, err := os.MkdirTemp("", "crm-pilot-backup-")
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	local := filepath.Join(dir, b.fileName)
	if err := b.store.Snapshot(local); err != nil {
		return "", err
	}

	files, err := b.service.ListFiles(ctx)
	if err != nil {
		return "", err
	}
	existing := ""
	for _, f := range files {
		if f.Name == b.fileName {
			existing = f.ID
			break
		}
	}
	return b.service.UploadFile(ctx, local, b.fileName, existing)
}
