package settings

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"github.com/kylemclaren/chat-tasks/internal/chat"
)

// Setting keys in the settings table
const (
	keyPrefix      = "model."
	KeyProvider    = keyPrefix + "provider"
	KeyBaseURL     = keyPrefix + "base_url"
	KeyAPIKey      = keyPrefix + "api_key"
	KeyModel       = keyPrefix + "model"
	KeyTemperature = keyPrefix + "temperature"
	KeyMaxTokens   = keyPrefix + "max_tokens"
)

// ErrInvalid is returned by Save for out of range values
var ErrInvalid = errors.New("invalid model settings")

// Store persists raw setting values
type Store interface {
	GetSettings(prefix string) (map[string]string, error)
	SetSettings(values map[string]string) error
}

// Provider loads the model configuration once, caches it and tells
// subscribers when it changes
type Provider struct {
	store Store

	mu       sync.RWMutex
	defaults chat.ModelConfig
	cached   *chat.ModelConfig
	subs     map[chan chat.ModelConfig]struct{}
}

// New creates a provider with fallback values for unset keys
func New(store Store, defaults chat.ModelConfig) *Provider {
	return &Provider{
		store:    store,
		defaults: defaults,
		subs:     make(map[chan chat.ModelConfig]struct{}),
	}
}

// Load returns the current configuration
func (p *Provider) Load(_ context.Context) (chat.ModelConfig, error) {
	p.mu.RLock()
	if p.cached != nil {
		cfg := *p.cached
		p.mu.RUnlock()
		return cfg, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cached != nil {
		return *p.cached, nil
	}

	values, err := p.store.GetSettings(keyPrefix)
	if err != nil {
		return chat.ModelConfig{}, fmt.Errorf("failed to load model settings: %w", err)
	}
	cfg, err := fromValues(values, p.defaults)
	if err != nil {
		return chat.ModelConfig{}, err
	}
	p.cached = &cfg
	return cfg, nil
}

// Save validates, persists and caches cfg, then notifies subscribers
func (p *Provider) Save(_ context.Context, cfg chat.ModelConfig) error {
	if err := check(cfg); err != nil {
		return err
	}
	if err := p.store.SetSettings(toValues(cfg)); err != nil {
		return fmt.Errorf("failed to save model settings: %w", err)
	}

	p.mu.Lock()
	p.cached = &cfg
	subs := make([]chan chat.ModelConfig, 0, len(p.subs))
	for ch := range p.subs {
		subs = append(subs, ch)
	}
	p.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- cfg:
		default:
		}
	}
	return nil
}

// Refresh drops the cache so the next Load reads the store
func (p *Provider) Refresh() {
	p.mu.Lock()
	p.cached = nil
	p.mu.Unlock()
}

// SetDefaults replaces the fallback values and drops the cache
func (p *Provider) SetDefaults(d chat.ModelConfig) {
	p.mu.Lock()
	p.defaults = d
	p.cached = nil
	p.mu.Unlock()
}

// Subscribe returns a channel receiving every saved configuration and a
// function that cancels the subscription
func (p *Provider) Subscribe() (<-chan chat.ModelConfig, func()) {
	ch := make(chan chat.ModelConfig, 1)
	p.mu.Lock()
	p.subs[ch] = struct{}{}
	p.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, ch)
			p.mu.Unlock()
		})
	}
}

func check(cfg chat.ModelConfig) error {
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		return fmt.Errorf("%w: temperature must be between 0 and 2", ErrInvalid)
	}
	if cfg.MaxTokens <= 0 {
		return fmt.Errorf("%w: max tokens must be positive", ErrInvalid)
	}
	if cfg.BaseURL != "" {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: base URL must be an http(s) URL", ErrInvalid)
		}
	}
	return nil
}

func fromValues(values map[string]string, d chat.ModelConfig) (chat.ModelConfig, error) {
	cfg := d
	if v, ok := values[KeyProvider]; ok && v != "" {
		cfg.Provider = v
	}
	if v, ok := values[KeyBaseURL]; ok && v != "" {
		cfg.BaseURL = v
	}
	if v, ok := values[KeyAPIKey]; ok && v != "" {
		cfg.APIKey = v
	}
	if v, ok := values[KeyModel]; ok && v != "" {
		cfg.Model = v
	}
	if v, ok := values[KeyTemperature]; ok && v != "" {
		f, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return cfg, fmt.Errorf("invalid stored temperature %q: %w", v, err)
		}
		cfg.Temperature = float32(f)
	}
	if v, ok := values[KeyMaxTokens]; ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid stored max tokens %q: %w", v, err)
		}
		cfg.MaxTokens = n
	}
	return cfg, nil
}

func toValues(cfg chat.ModelConfig) map[string]string {
	return map[string]string{
		KeyProvider:    cfg.Provider,
		KeyBaseURL:     cfg.BaseURL,
		KeyAPIKey:      cfg.APIKey,
		KeyModel:       cfg.Model,
		KeyTemperature: strconv.FormatFloat(float64(cfg.Temperature), 'f', -1, 32),
		KeyMaxTokens:   strconv.Itoa(cfg.MaxTokens),
	}
}
