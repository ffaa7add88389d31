package engine

import "sync"

// ConfigSource is the read-only configuration accessor behind the second
// tier of input resolution.
type ConfigSource interface {
	Lookup(path string) (any, bool)
}

type inputSource struct {
	fromConfig  func() (any, bool)
	fromDefault func() any
}

// InputRegistry maps input keys to their configuration and default
// suppliers. Registration happens at startup; resolution is read-only.
type InputRegistry struct {
	mu      sync.RWMutex
	config  ConfigSource
	sources map[Input]inputSource
}

// NewInputRegistry creates a registry backed by src, which may be nil.
func NewInputRegistry(src ConfigSource) *InputRegistry {
	return &InputRegistry{
		config:  src,
		sources: make(map[Input]inputSource),
	}
}

// Register installs both suppliers for key. Either may be nil.
func (r *InputRegistry) Register(key Input, fromConfig func() (any, bool), fromDefault func() any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[key] = inputSource{fromConfig: fromConfig, fromDefault: fromDefault}
}

// Bind maps key to a configuration path plus an optional default supplier.
func (r *InputRegistry) Bind(key Input, path string, fromDefault func() any) {
	r.Register(key, func() (any, bool) {
		if r.config == nil {
			return nil, false
		}
		return r.config.Lookup(path)
	}, fromDefault)
}

// Default installs only a default supplier for key, keeping any config
// supplier already registered.
func (r *InputRegistry) Default(key Input, fromDefault func() any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sources[key]
	s.fromDefault = fromDefault
	r.sources[key] = s
}

// Resolve evaluates the configuration tier, then the default tier, lazily.
func (r *InputRegistry) Resolve(key Input) (any, bool) {
	r.mu.RLock()
	s, ok := r.sources[key]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if s.fromConfig != nil {
		if v, ok := s.fromConfig(); ok {
			return v, true
		}
	}
	if s.fromDefault != nil {
		return s.fromDefault(), true
	}
	return nil, false
}
