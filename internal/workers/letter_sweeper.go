package workers

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/smartdigilab/backend/internal/services"
	"github.com/smartdigilab/backend/internal/storage"
	"go.uber.org/zap"
)

// maxSweepBatch bounds the paths handled in one sweep
const maxSweepBatch = 100

// LetterSweeper removes request letters that were stored for a borrowing
// that was never committed.
type LetterSweeper struct {
	db       *sql.DB
	queue    services.OrphanQueue
	letters  storage.LetterStore
	interval time.Duration
	logger   *zap.Logger
}

func NewLetterSweeper(db *sql.DB, queue services.OrphanQueue, letters storage.LetterStore, interval time.Duration, logger *zap.Logger) *LetterSweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &LetterSweeper{
		db:       db,
		queue:    queue,
		letters:  letters,
		interval: interval,
		logger:   logger.Named("letter_sweeper"),
	}
}

// Start sweeps once and then on every tick until ctx is cancelled
func (s *LetterSweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		s.run(ctx)
		for {
			select {
			case <-ctx.Done():
				s.logger.Info("letter sweeper stopped")
				return
			case <-ticker.C:
				s.run(ctx)
			}
		}
	}()
}

func (s *LetterSweeper) run(ctx context.Context) {
	removed, err := s.Sweep(ctx)
	if err != nil {
		s.logger.Error("letter sweep failed", zap.Int("removed", removed), zap.Error(err))
		return
	}
	if removed > 0 {
		s.logger.Info("orphaned letters removed", zap.Int("removed", removed))
	}
}

// Sweep drains up to maxSweepBatch queued paths and returns how many files
// were deleted. Paths whose delete fails go back on the queue.
func (s *LetterSweeper) Sweep(ctx context.Context) (int, error) {
	removed := 0
	var retry []string
	var popErr error

	for i := 0; i < maxSweepBatch; i++ {
		path, ok, err := s.queue.Pop(ctx)
		if err != nil {
			popErr = fmt.Errorf("pop orphaned letter: %w", err)
			break
		}
		if !ok {
			break
		}

		referenced, err := s.referenced(ctx, path)
		if err != nil {
			retry = append(retry, path)
			s.logger.Warn("could not check letter reference", zap.String("path", path), zap.Error(err))
			continue
		}
		if referenced {
			continue
		}

		if err := s.letters.Delete(ctx, path); err != nil {
			retry = append(retry, path)
			s.logger.Warn("failed to delete orphaned letter", zap.String("path", path), zap.Error(err))
			continue
		}
		removed++
	}

	for _, path := range retry {
		if err := s.queue.Push(ctx, path); err != nil {
			return removed, fmt.Errorf("requeue orphaned letter %s: %w", path, err)
		}
	}

	return removed, popErr
}

func (s *LetterSweeper) referenced(ctx context.Context, path string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM borrowings
		WHERE request_letter_path = $1`, path).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
