package calendar

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Constructor builds a provider that logs to logger.
type Constructor func(logger *slog.Logger) Provider

// DefaultProviderFactory is a registry of provider constructors
type DefaultProviderFactory struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
	logger       *slog.Logger
}

// NewDefaultProviderFactory creates an empty factory
func NewDefaultProviderFactory(logger *slog.Logger) *DefaultProviderFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultProviderFactory{
		constructors: make(map[string]Constructor),
		logger:       logger,
	}
}

// RegisterProvider registers a constructor for a provider type
func (f *DefaultProviderFactory) RegisterProvider(providerType string, constructor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[providerType] = constructor
}

// CreateProvider creates a provider of the given type
func (f *DefaultProviderFactory) CreateProvider(providerType string) (Provider, error) {
	f.mu.RLock()
	constructor, ok := f.constructors[providerType]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported provider type: %s", providerType)
	}
	return constructor(f.logger.With("provider_type", providerType)), nil
}

// SupportedTypes returns the registered provider types in sorted order
func (f *DefaultProviderFactory) SupportedTypes() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	types := make([]string, 0, len(f.constructors))
	for t := range f.constructors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
