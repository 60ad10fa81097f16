// Package app is the composition root: it resolves the configured storage
// backend once and wires the repository, asset store and engine around it.
package app

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"bulletin/internal/config"
	"bulletin/internal/engine"
	"bulletin/internal/notify"
	"bulletin/internal/repo"
	"bulletin/internal/store"
	"bulletin/internal/store/blobstore"
	"bulletin/internal/store/github"
	"bulletin/internal/store/memstore"
	"bulletin/internal/store/objectstore"
)

// Selector resolves the adapter named by storage.provider on first use and
// hands out the same instance afterwards.
type Selector struct {
	workspace string
	cfg       config.StorageConfig
	log       zerolog.Logger

	once    sync.Once
	adapter store.Adapter
	closer  io.Closer
	err     error
}

func NewSelector(workspace string, cfg config.StorageConfig, log zerolog.Logger) *Selector {
	return &Selector{workspace: workspace, cfg: cfg, log: log}
}

// Adapter returns the instrumented adapter.
func (s *Selector) Adapter() (store.Adapter, error) {
	s.once.Do(func() {
		var a store.Adapter
		a, s.closer, s.err = s.open()
		if s.err != nil {
			return
		}
		s.adapter = store.Instrument(a)
		s.log.Info().Str("provider", s.cfg.Provider).Str("cas", string(a.Capabilities().CAS)).Msg("storage backend ready")
	})
	return s.adapter, s.err
}

// Close releases the backend if it holds resources.
func (s *Selector) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

func (s *Selector) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || s.workspace == "" {
		return p
	}
	return filepath.Join(s.workspace, p)
}

func (s *Selector) open() (store.Adapter, io.Closer, error) {
	switch s.cfg.Provider {
	case config.ProviderGitHub:
		gh := s.cfg.GitHub
		c, err := github.New(github.Config{
			BaseURL: gh.APIURL,
			Owner:   gh.Owner,
			Repo:    gh.Repo,
			Branch:  gh.Branch,
			Token:   gh.Token,
			Timeout: s.cfg.Timeout(),
		})
		if err != nil {
			return nil, nil, err
		}
		if gh.Token == "" {
			s.log.Warn().Msg("github token is empty; only public repositories are readable")
		}
		return c, nil, nil
	case config.ProviderObjectStore:
		obj, err := objectstore.New(s.resolve(s.cfg.ObjectStore.Root))
		if err != nil {
			return nil, nil, err
		}
		obj.SetLogger(s.log)
		return obj, nil, nil
	case config.ProviderBlobStore:
		bs, err := blobstore.Open(s.resolve(s.cfg.BlobStore.Path))
		if err != nil {
			return nil, nil, err
		}
		return bs, bs, nil
	case config.ProviderMemory, "":
		return memstore.New(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage provider %q", s.cfg.Provider)
	}
}

// App holds the wired components.
type App struct {
	Config   *config.Config
	Selector *Selector
	Repo     repo.Repo
	Engine   engine.Engine
	Log      zerolog.Logger
}

// Build wires an App from cfg. The caller owns Close.
func Build(workspace string, cfg *config.Config, log zerolog.Logger) (*App, error) {
	sel := NewSelector(workspace, cfg.Storage, log)
	adapter, err := sel.Adapter()
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	policy := repo.DefaultRetryPolicy()
	if cfg.Retry.Attempts > 0 {
		policy = repo.RetryPolicy{Attempts: cfg.Retry.Attempts, BaseDelay: cfg.Retry.BaseDelay(), MaxDelay: cfg.Retry.MaxDelay()}
	}
	r := repo.New(adapter, policy, log)
	var n notify.Notifier = notify.Nop{}
	if len(cfg.Notify.Webhooks) > 0 {
		n = notify.NewWebhooks(cfg.Notify.Webhooks, log)
	}
	return &App{
		Config:   cfg,
		Selector: sel,
		Repo:     r,
		Engine:   engine.New(r, cfg, n, log),
		Log:      log,
	}, nil
}

// Bootstrap seeds the configuration documents a fresh backend needs.
func (a *App) Bootstrap(ctx context.Context) error {
	return a.Engine.Bootstrap(ctx)
}

func (a *App) Close() error {
	return a.Selector.Close()
}
