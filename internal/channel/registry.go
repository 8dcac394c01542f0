package channel

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/db"
)

// DefaultTimeout bounds one outbound adapter call.
const DefaultTimeout = 10 * time.Second

// Registry maps channel kinds to adapter factories. It is safe for
// concurrent use; new kinds can be registered without touching dispatch.
type Registry struct {
	mu        sync.RWMutex
	factories map[db.ChannelKind]Factory
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{factories: make(map[db.ChannelKind]Factory)}
}

// Register adds or replaces the factory for kind.
func (r *Registry) Register(kind db.ChannelKind, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = f
}

// Resolve returns the factory for kind or ErrUnsupportedKind.
func (r *Registry) Resolve(kind db.ChannelKind) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKind, kind)
	}
	return f, nil
}

// Kinds lists the registered kinds in sorted order.
func (r *Registry) Kinds() []db.ChannelKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]db.ChannelKind, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Deps are the shared collaborators handed to the built-in adapters.
type Deps struct {
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *zap.Logger

	// NewSES builds an SES client for a region. Defaults to the AWS SDK
	// default credential chain.
	NewSES func(ctx context.Context, region string) (SESAPI, error)
}

func (d Deps) withDefaults() Deps {
	if d.Timeout <= 0 {
		d.Timeout = DefaultTimeout
	}
	if d.HTTPClient == nil {
		d.HTTPClient = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.NewSES == nil {
		d.NewSES = newSESClient
	}
	return d
}

// NewDefaultRegistry registers the bark, ntfy, email and feishu adapters.
func NewDefaultRegistry(deps Deps) *Registry {
	deps = deps.withDefaults()
	sesClients := newSESCache(deps.NewSES)

	r := NewRegistry()
	r.Register(db.KindBark, factoryOf(NewBark, deps))
	r.Register(db.KindNtfy, factoryOf(NewNtfy, deps))
	r.Register(db.KindEmail, factoryOf(func(cfg map[string]any, deps Deps) (*Email, error) {
		return newEmail(cfg, deps, sesClients)
	}, deps))
	r.Register(db.KindFeishu, factoryOf(NewFeishu, deps))
	return r
}

// factoryOf adapts a typed constructor to Factory without leaking a typed nil.
func factoryOf[A Adapter](build func(map[string]any, Deps) (A, error), deps Deps) Factory {
	return func(cfg map[string]any) (Adapter, error) {
		a, err := build(cfg, deps)
		if err != nil {
			return nil, err
		}
		return a, nil
	}
}
