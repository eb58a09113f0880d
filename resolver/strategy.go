package resolver

import (
	"context"
	"fmt"
	"net/url"

	"github.com/poiesic/imgembed/cache"
	"github.com/poiesic/imgembed/core"
	"github.com/poiesic/imgembed/fetch"
)

// Strategy names.
const (
	SourceCache   = "cache"
	SourceOffline = "offline"
	SourceMirror  = "mirror"
	SourceDirect  = "direct"
)

// DefaultDirectURL is the default model host.
var DefaultDirectURL = &url.URL{Scheme: "https", Host: "huggingface.co"}

// Strategy is one step of the resolution chain.
type Strategy interface {
	// Name identifies the strategy in errors, logs and metrics.
	Name() string

	// Resolve returns a complete cache entry for id.
	Resolve(ctx context.Context, id core.ModelID) (*cache.Entry, error)
}

// CacheStrategy serves complete entries from the local cache.
type CacheStrategy struct {
	Cache *cache.Cache
}

func (s *CacheStrategy) Name() string {
	return SourceCache
}

func (s *CacheStrategy) Resolve(_ context.Context, id core.ModelID) (*cache.Entry, error) {
	return s.Cache.Lookup(id)
}

// OfflineStrategy ends the chain when the network is forbidden.
type OfflineStrategy struct{}

func (OfflineStrategy) Name() string {
	return SourceOffline
}

func (OfflineStrategy) Resolve(_ context.Context, id core.ModelID) (*cache.Entry, error) {
	return nil, Halt(fmt.Errorf("%w: %s", core.ErrModelNotCached, id))
}

// FetchStrategy downloads every required file from one source and promotes them.
type FetchStrategy struct {
	Client     *fetch.Client
	Downloader *fetch.Downloader
	Files      []string
}

func (s *FetchStrategy) Name() string {
	return s.Client.Name()
}

func (s *FetchStrategy) Resolve(ctx context.Context, id core.ModelID) (*cache.Entry, error) {
	return s.Downloader.Download(ctx, s.Client, id, s.Files)
}

// Chain builds the strategy list for a policy.
// clientOpts are applied to every fetch client after the policy's proxy and retry settings.
func Chain(policy core.Policy, c *cache.Cache, d *fetch.Downloader, files []string, clientOpts ...fetch.Option) ([]Strategy, error) {
	chain := []Strategy{&CacheStrategy{Cache: c}}
	if policy.Offline {
		return append(chain, OfflineStrategy{}), nil
	}

	opts := []fetch.Option{fetch.WithRetry(policy.Retry)}
	if !policy.Proxy.IsZero() {
		opts = append(opts, fetch.WithProxy(policy.Proxy))
	}
	opts = append(opts, clientOpts...)

	if policy.MirrorURL != nil {
		mirror, err := fetch.New(SourceMirror, policy.MirrorURL, opts...)
		if err != nil {
			return nil, fmt.Errorf("mirror: %w", err)
		}
		chain = append(chain, &FetchStrategy{Client: mirror, Downloader: d, Files: files})
	}

	directURL := policy.DirectURL
	if directURL == nil {
		directURL = DefaultDirectURL
	}
	direct, err := fetch.New(SourceDirect, directURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("direct: %w", err)
	}
	return append(chain, &FetchStrategy{Client: direct, Downloader: d, Files: files}), nil
}

// Names returns the names of a chain, in order.
func Names(chain []Strategy) []string {
	names := make([]string, len(chain))
	for i, s := range chain {
		names[i] = s.Name()
	}
	return names
}
