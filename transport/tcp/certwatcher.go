package tcp

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// CertWatcher loads a TLS certificate/key pair from disk and reloads it
// whenever either file changes, so a long-running broker doesn't need a
// restart to pick up a renewed certificate. Grounded on the teacher's
// hooks package, which watches config files with fsnotify and swaps state
// atomically on change.
type CertWatcher struct {
	certPath, keyPath string
	log               *slog.Logger

	cert    atomic.Pointer[tls.Certificate]
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewCertWatcher loads certPath/keyPath once and starts watching both
// files for changes.
func NewCertWatcher(certPath, keyPath string, log *slog.Logger) (*CertWatcher, error) {
	if log == nil {
		log = slog.Default()
	}
	w := &CertWatcher{certPath: certPath, keyPath: keyPath, log: log, done: make(chan struct{})}

	if err := w.reload(); err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("certwatcher: %w", err)
	}
	if err := fw.Add(certPath); err != nil {
		fw.Close()
		return nil, fmt.Errorf("certwatcher: watch cert: %w", err)
	}
	if err := fw.Add(keyPath); err != nil {
		fw.Close()
		return nil, fmt.Errorf("certwatcher: watch key: %w", err)
	}
	w.watcher = fw

	go w.watchLoop()
	return w, nil
}

func (w *CertWatcher) reload() error {
	cert, err := tls.LoadX509KeyPair(w.certPath, w.keyPath)
	if err != nil {
		return fmt.Errorf("certwatcher: load key pair: %w", err)
	}
	w.cert.Store(&cert)
	return nil
}

func (w *CertWatcher) watchLoop() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := w.reload(); err != nil {
				w.log.Error("certwatcher.reload_failed", slog.String("err", err.Error()))
			} else {
				w.log.Info("certwatcher.reloaded", slog.String("cert", w.certPath))
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error("certwatcher.watch_error", slog.String("err", err.Error()))
		}
	}
}

// GetCertificate satisfies tls.Config.GetCertificate.
func (w *CertWatcher) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return w.cert.Load(), nil
}

// Close stops watching.
func (w *CertWatcher) Close() error {
	close(w.done)
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}
