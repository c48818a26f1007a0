// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package relayer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/luxfi/log"
)

// DefaultLoadTimeout bounds fetching the vendor library.
const DefaultLoadTimeout = 30 * time.Second

// SessionConfig configures a Session.
type SessionConfig struct {
	// ChainID overrides the chain of the library's default instance config
	// when non-zero.
	ChainID     uint64        `json:"chainId"     toml:"chain-id"`
	LoadTimeout time.Duration `json:"loadTimeout" toml:"load-timeout"`
}

// Observer is notified of every state transition.
type Observer func(from, to State)

// Session owns the vendor library lifecycle for the process:
// Unloaded, Loading, LoadedUninitialized, Ready, with Error reachable from
// every state but Ready.
type Session struct {
	loader Loader
	host   Host
	config SessionConfig
	log    log.Logger

	group singleflight.Group

	lock      sync.RWMutex
	state     State
	err       error
	library   Library
	instance  Instance
	chainID   uint64
	observers []Observer
}

// NewSession returns an Unloaded session. host may be nil.
func NewSession(loader Loader, host Host, config SessionConfig, logger log.Logger) *Session {
	if config.LoadTimeout <= 0 {
		config.LoadTimeout = DefaultLoadTimeout
	}
	return &Session{
		loader: loader,
		host:   host,
		config: config,
		log:    logger,
	}
}

func (s *Session) State() State {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.state
}

// Err returns the error that moved the session to Error, if any.
func (s *Session) Err() error {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.err
}

// Instance returns the chain scoped instance once the session is Ready.
func (s *Session) Instance() (Instance, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if s.state != Ready {
		return nil, fmt.Errorf("%w: %s", ErrNotReady, s.state)
	}
	return s.instance, nil
}

// ChainID is the chain the instance was created for. It is zero until the
// session is Ready.
func (s *Session) ChainID() uint64 {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.chainID
}

// Observe registers f for every future transition.
func (s *Session) Observe(f Observer) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.observers = append(s.observers, f)
}

// Ensure brings the session to Ready. It returns immediately when already
// Ready; concurrent callers share one attempt. A session in Error starts
// over from Unloaded.
func (s *Session) Ensure(ctx context.Context) error {
	if s.State() == Ready {
		return nil
	}
	_, err, _ := s.group.Do("ensure", func() (any, error) {
		return nil, s.ensure(ctx)
	})
	return err
}

// Reset drops the library and instance and returns to Unloaded.
func (s *Session) Reset() {
	s.lock.Lock()
	s.library = nil
	s.instance = nil
	s.chainID = 0
	s.err = nil
	s.lock.Unlock()
	s.transition(Unloaded)
}

func (s *Session) ensure(ctx context.Context) error {
	switch s.State() {
	case Ready:
		return nil
	case Error:
		s.lock.Lock()
		s.err = nil
		s.lock.Unlock()
		s.transition(Unloaded)
	}

	lib, err := s.acquire(ctx)
	if err != nil {
		return s.fail("load", err)
	}
	s.lock.Lock()
	s.library = lib
	s.lock.Unlock()
	s.transition(LoadedUninitialized)

	if lib.Initialized() {
		s.log.Debug("relayer sdk already initialized")
	} else {
		ok, err := lib.InitSDK(ctx)
		switch {
		case err != nil:
			return s.fail("init", fmt.Errorf("%w: %w", ErrInitFailed, err))
		case !ok:
			return s.fail("init", ErrInitFailed)
		}
	}

	config := lib.DefaultConfig()
	if s.config.ChainID != 0 {
		config.ChainID = s.config.ChainID
	}
	instance, err := lib.CreateInstance(ctx, config)
	if err != nil {
		return s.fail("create instance", fmt.Errorf("%w: %w", ErrInitFailed, err))
	}

	s.lock.Lock()
	s.instance = instance
	s.chainID = config.ChainID
	s.lock.Unlock()
	s.transition(Ready)
	s.log.Info("relayer sdk ready",
		log.Uint64("chainID", config.ChainID),
	)
	return nil
}

// acquire returns the library, preferring one already present in the
// process over loading it.
func (s *Session) acquire(ctx context.Context) (Library, error) {
	if s.host != nil {
		if raw, ok := s.host.Lookup(); ok {
			return Adapt(raw)
		}
	}

	s.transition(Loading)
	loadCtx, cancel := context.WithTimeout(ctx, s.config.LoadTimeout)
	defer cancel()

	type result struct {
		raw any
		err error
	}
	done := make(chan result, 1)
	go func() {
		raw, err := s.loader.Load(loadCtx)
		done <- result{raw: raw, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			if errors.Is(loadCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				return nil, ErrLoadTimeout
			}
			return nil, fmt.Errorf("%w: %w", ErrLoadFailed, r.err)
		}
		return Adapt(r.raw)
	case <-loadCtx.Done():
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrLoadFailed, ctx.Err())
		}
		return nil, ErrLoadTimeout
	}
}

func (s *Session) fail(op string, err error) error {
	lerr := &LifecycleError{Op: op, Err: err}
	s.lock.Lock()
	s.err = lerr
	s.library = nil
	s.instance = nil
	s.lock.Unlock()
	s.transition(Error)
	s.log.Warn("relayer sdk lifecycle failed",
		log.String("op", op),
		log.Err(err),
	)
	return lerr
}

func (s *Session) transition(to State) {
	s.lock.Lock()
	from := s.state
	s.state = to
	observers := append([]Observer(nil), s.observers...)
	s.lock.Unlock()

	if from == to {
		return
	}
	for _, f := range observers {
		f(from, to)
	}
}
