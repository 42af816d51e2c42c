package dropfolder

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"caseimport/internal/bootstrap/logging"
	"caseimport/internal/domain/importing"
	"caseimport/internal/errs"
	"caseimport/internal/usecase/importer"
)

const defaultDebounce = 500 * time.Millisecond

// Submitter accepts import jobs.
type Submitter interface {
	Submit(ctx context.Context, sub importer.Submission) (importer.SubmitResult, error)
}

type Config struct {
	Dir string
	// Debounce is how long a file must stay quiet before it is submitted.
	Debounce time.Duration
	// Live requests dryRun=false for every submitted file.
	Live bool
}

// Watcher submits .csv files that appear in a directory. Existing files are
// left alone; only files created or written after Run starts are submitted.
type Watcher struct {
	cfg    Config
	submit Submitter
	now    func() time.Time
}

func New(cfg Config, submit Submitter) (*Watcher, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, errors.New("watch dir is required")
	}
	if submit == nil {
		return nil, errors.New("submitter is required")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaultDebounce
	}
	return &Watcher{cfg: cfg, submit: submit, now: time.Now}, nil
}

// Run blocks until ctx ends. Submission failures are logged and do not stop it.
func (w *Watcher) Run(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	logCtx := logging.WithAttrs(ctx, slog.String("component", "dropfolder"), slog.String("dir", w.cfg.Dir))

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return errs.Wrap(err, "create fsnotify watcher")
	}
	defer fsw.Close()
	if err := fsw.Add(w.cfg.Dir); err != nil {
		return errs.Wrapf(err, "watch %s", w.cfg.Dir)
	}
	logging.Info(logCtx, "watching drop folder", slog.Duration("debounce", w.cfg.Debounce))

	pending := make(map[string]time.Time)
	ticker := time.NewTicker(w.cfg.Debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if isCSV(ev.Name) && ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				pending[ev.Name] = w.now()
			}
			if ev.Op&fsnotify.Remove != 0 {
				delete(pending, ev.Name)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			logging.Warn(logCtx, "watcher error", slog.Any("err", errs.Loggable(err)))
		case <-ticker.C:
			cutoff := w.now().Add(-w.cfg.Debounce)
			for path, seen := range pending {
				if seen.After(cutoff) {
					continue
				}
				delete(pending, path)
				w.submitFile(logCtx, path)
			}
		}
	}
}

func (w *Watcher) submitFile(ctx context.Context, path string) {
	sub := importer.Submission{FilePath: path}
	if w.cfg.Live {
		live := false
		sub.DryRun = &live
	}

	res, err := w.submit.Submit(ctx, sub)
	switch {
	case err == nil:
		logging.Info(ctx, "dropped file submitted", slog.String("path", path), slog.String("batch_id", res.BatchID))
	case errors.Is(err, importing.ErrDuplicateSubmission):
		logging.Info(ctx, "dropped file already queued", slog.String("path", path))
	default:
		logging.Warn(ctx, "submit dropped file failed", slog.String("path", path), slog.Any("err", errs.Loggable(err)))
	}
}

func isCSV(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".csv")
}
