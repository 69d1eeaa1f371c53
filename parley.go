// Package parley wires the conversational core together from configuration:
// provider adapters, rate-limited transport, and a durable conversation
// ledger. Most programs only need Open and the returned *chat.Conversation.
package parley

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/parley-ai/parley/internal/observability"
	"github.com/parley-ai/parley/internal/provider"
	"github.com/parley-ai/parley/internal/transport"
	"github.com/parley-ai/parley/pkg/chat"
	"github.com/parley-ai/parley/pkg/config"
	"github.com/parley-ai/parley/pkg/ledger"
)

// Client bundles the pieces a configured provider needs to hold
// conversations. One Client serves any number of conversations.
type Client struct {
	adapter   provider.Adapter
	transport *transport.Client
	store     ledger.Store
	retention *ledger.Manager
	cfg       *config.Config
	provider  string
}

// Open builds a Client for the named provider from configuration. An empty
// provider name selects the configured default.
func Open(cfg *config.Config, providerName string) (*Client, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if providerName == "" {
		providerName = cfg.Defaults.Provider
	}

	adapter, err := provider.Get(providerName)
	if err != nil {
		return nil, err
	}

	pc, ok := cfg.Provider(providerName)
	if !ok {
		return nil, fmt.Errorf("parley: no API key configured for provider %q", providerName)
	}

	tc := transport.Config{
		BaseURL:           pc.BaseURL,
		Headers:           adapter.Headers(pc.APIKey),
		Timeout:           pc.Timeout,
		RequestsPerSecond: pc.RequestsPerSecond,
		Burst:             pc.Burst,
	}
	if tc.BaseURL == "" {
		tc.BaseURL = provider.DefaultBaseURL(providerName)
	}

	store, err := openStore(cfg, providerName)
	if err != nil {
		return nil, err
	}

	var retention *ledger.Manager
	if cfg.Storage.MaxIdle > 0 {
		retention = ledger.NewManager(store, cfg.Storage.MaxIdle)
		if cfg.Storage.Prune != "" {
			if err := retention.Start(cfg.Storage.Prune); err != nil {
				_ = store.Close()
				return nil, err
			}
		}
	}

	return &Client{
		adapter:   adapter,
		transport: transport.NewClient(tc),
		store:     store,
		retention: retention,
		cfg:       cfg,
		provider:  providerName,
	}, nil
}

func openStore(cfg *config.Config, providerName string) (ledger.Store, error) {
	switch cfg.Storage.Backend {
	case "memory":
		return ledger.NewMemoryStore(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Addr,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		return ledger.NewRedisStoreFromClient(client, providerName, cfg.Storage.Redis.TTL), nil
	case "file", "":
		return ledger.NewFileStore(cfg.Storage.Dir, providerName)
	default:
		return nil, fmt.Errorf("parley: unknown storage backend %q", cfg.Storage.Backend)
	}
}

// Conversation starts a new conversation with the client's provider. The
// configured defaults apply first; opts override them.
func (c *Client) Conversation(opts ...chat.Option) (*chat.Conversation, error) {
	return chat.New(c.adapter, c.transport, c.store, c.withDefaults(opts)...)
}

// Resume loads a persisted conversation by id.
func (c *Client) Resume(ctx context.Context, id string, opts ...chat.Option) (*chat.Conversation, error) {
	return chat.Load(ctx, c.adapter, c.transport, c.store, id, c.withDefaults(opts)...)
}

// Store exposes the ledger store, mainly for session management commands.
func (c *Client) Store() ledger.Store {
	return c.store
}

// Provider returns the provider name the client was opened for.
func (c *Client) Provider() string {
	return c.provider
}

// PruneIdle prunes conversations idle past the configured retention limit.
// It returns the number pruned; zero when retention is not configured.
func (c *Client) PruneIdle(ctx context.Context) (int, error) {
	if c.retention == nil {
		return 0, nil
	}
	return c.retention.PruneIdle(ctx)
}

// Close stops retention and releases the ledger store.
func (c *Client) Close() error {
	if c.retention != nil {
		c.retention.Stop()
	}
	return c.store.Close()
}

func (c *Client) withDefaults(opts []chat.Option) []chat.Option {
	pc, _ := c.cfg.Provider(c.provider)
	d := c.cfg.Defaults

	base := []chat.Option{chat.WithModel(pc.Model)}
	if d.SystemPrompt != "" {
		base = append(base, chat.WithSystemPrompt(d.SystemPrompt))
	}
	if d.MaxTokens > 0 {
		base = append(base, chat.WithMaxTokens(d.MaxTokens))
	}
	if d.Temperature != 0 {
		base = append(base, chat.WithTemperature(d.Temperature))
	}
	if d.ThinkingBudget > 0 {
		base = append(base, chat.WithThinking(d.ThinkingBudget))
	}
	if d.MaxToolRounds > 0 {
		base = append(base, chat.WithMaxToolRounds(d.MaxToolRounds))
	}
	return append(base, opts...)
}

// InitObservability configures tracing and metrics from the observability
// section and returns a shutdown function. Failures are logged, never fatal.
func InitObservability(cfg *config.Config) func(context.Context) {
	o := cfg.Observability
	err := observability.Init(observability.Config{
		ServiceName:  "parley",
		Enabled:      o.Enabled,
		ExporterType: o.Exporter,
		OTLPEndpoint: o.OTLPEndpoint,
	})
	if err != nil {
		log.Printf("Warning: failed to initialize observability: %v", err)
	}

	observability.RegisterMetrics()
	var metricsSrv *http.Server
	if o.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observability.MetricsHandler())
		metricsSrv = &http.Server{Addr: o.MetricsAddr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("Warning: metrics server: %v", err)
			}
		}()
	}

	return func(ctx context.Context) {
		if metricsSrv != nil {
			if err := metricsSrv.Shutdown(ctx); err != nil {
				log.Printf("Warning: failed to stop metrics server: %v", err)
			}
		}
		if err := observability.Shutdown(ctx); err != nil {
			log.Printf("Warning: failed to shutdown observability: %v", err)
		}
	}
}
