package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/config"
	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/store"
)

// Registry keeps one started Service per signed-in user over a shared
// document store.
type Registry struct {
	cfg    config.Config
	docs   store.DocumentStore
	opts   []Option
	logger *slog.Logger

	mu       sync.Mutex
	services map[string]*Service
}

func NewRegistry(cfg config.Config, docs store.DocumentStore, logger *slog.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		cfg:      cfg,
		docs:     docs,
		opts:     append([]Option{WithLogger(logger)}, opts...),
		logger:   logger,
		services: make(map[string]*Service),
	}
}

// Acquire returns the user's running session, starting one if needed. A
// blocked session is restarted.
func (r *Registry) Acquire(ctx context.Context, id Identity) (*Service, error) {
	r.mu.Lock()
	svc, ok := r.services[id.ID]
	if !ok {
		svc = New(r.cfg, r.docs, r.opts...)
		r.services[id.ID] = svc
	}
	r.mu.Unlock()

	switch status, _ := svc.Status(); status {
	case StatusActive:
		return svc, nil
	case StatusBlocked:
		r.logger.Info("restarting blocked session", "user_id", id.ID)
		if err := svc.Restart(ctx); err != nil {
			return nil, err
		}
		return svc, nil
	}
	if err := svc.Start(ctx, id); err != nil && !errors.Is(err, ErrStarted) {
		r.mu.Lock()
		if r.services[id.ID] == svc {
			delete(r.services, id.ID)
		}
		r.mu.Unlock()
		return nil, err
	}
	return svc, nil
}

// Lookup returns a running session without starting one.
func (r *Registry) Lookup(userID string) (*Service, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	svc, ok := r.services[userID]
	return svc, ok
}

// Release stops and forgets the user's session.
func (r *Registry) Release(userID string) {
	r.mu.Lock()
	svc, ok := r.services[userID]
	delete(r.services, userID)
	r.mu.Unlock()
	if ok {
		svc.Stop()
	}
}

// Len is the number of tracked sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.services)
}

func (r *Registry) Ping(ctx context.Context) error {
	return r.docs.Ping(ctx)
}

// Close stops every session.
func (r *Registry) Close() {
	r.mu.Lock()
	services := r.services
	r.services = make(map[string]*Service)
	r.mu.Unlock()
	for _, svc := range services {
		svc.Stop()
	}
}
