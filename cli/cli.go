// Package cli implements the toolmesh command line interface: a serve
// command that exposes the dispatcher over stdio or SSE, a chat command
// that drives the tools through a language model, and tool inspection.
package cli

import (
	"os"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/spf13/cobra"

	"github.com/hupe1980/toolmesh/config"
	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/dispatch"
	"github.com/hupe1980/toolmesh/logging"
	"github.com/hupe1980/toolmesh/masa"
	"github.com/hupe1980/toolmesh/model"
	anthropicmodel "github.com/hupe1980/toolmesh/model/anthropic"
	openaimodel "github.com/hupe1980/toolmesh/model/openai"
	"github.com/hupe1980/toolmesh/sentiment"
	"github.com/hupe1980/toolmesh/session"
	sessionredis "github.com/hupe1980/toolmesh/session/redis"
	"github.com/hupe1980/toolmesh/tool"
)

// loadConfig reads the --config flag and resolves the effective config via
// file discovery, falling back to built-in defaults when no file exists.
func loadConfig(cmd *cobra.Command) (config.Config, string, error) {
	explicitPath, _ := cmd.Flags().GetString("config")

	cfg, path, err := config.LoadOrDefault(explicitPath)
	if err != nil {
		return config.Config{}, "", exitError(exitConfig, "%s", err)
	}
	return cfg, path, nil
}

// newLogger builds the structured logger commands hand to the library.
// Logs go to stderr: on the stdio transport stdout carries protocol frames.
func newLogger(cfg config.Config) logging.Logger {
	return logging.NewStructuredLogger(cfg.LogLevel(), cfg.Logging.Format, os.Stderr)
}

// buildRegistry assembles and seals the tool registry. The sentiment tools
// are only registered when a Masa API key is configured; the second return
// value reports whether they were.
func buildRegistry(cfg config.Config, logger logging.Logger) (*tool.Registry, bool, error) {
	tools := []tool.Tool{
		tool.NewEchoTool(),
		tool.NewVariablesTool(),
	}

	withSentiment := cfg.Masa.APIKey != ""
	if withSentiment {
		masaOpts := []func(o *masa.Options){masa.WithLogger(logger)}
		if cfg.Masa.BaseURL != "" {
			masaOpts = append(masaOpts, masa.WithBaseURL(cfg.Masa.BaseURL))
		}

		masaClient, err := masa.New(cfg.Masa.APIKey, masaOpts...)
		if err != nil {
			return nil, false, exitError(exitConfig, "creating masa client: %v", err)
		}

		tools = append(tools, sentiment.Tools(masaClient)...)
	}

	registry := tool.NewRegistry()
	for _, t := range tools {
		if err := registry.Register(t); err != nil {
			return nil, false, exitError(exitConfig, "registering tool %q: %v", t.Name(), err)
		}
	}
	registry.Seal()

	return registry, withSentiment, nil
}

// buildStore picks the session store backend. A configured Redis URL selects
// the Redis store; otherwise sessions live in process memory. The returned
// cleanup releases the backend.
func buildStore(cfg config.Config) (core.SessionStore, func(), error) {
	if cfg.Redis.URL == "" {
		return session.NewInMemoryStore(), func() {}, nil
	}

	store, err := sessionredis.NewStore(func(o *sessionredis.Options) {
		o.URL = cfg.Redis.URL
		o.IdleTimeout = time.Duration(cfg.SessionIdleTimeout)
		if cfg.Redis.KeyPrefix != "" {
			o.KeyPrefix = cfg.Redis.KeyPrefix
		}
	})
	if err != nil {
		return nil, nil, exitError(exitRuntime, "connecting to redis: %v", err)
	}

	return store, func() { _ = store.Close() }, nil
}

// meshComponents bundles the wired pieces the serve and chat commands share.
type meshComponents struct {
	dispatcher    *dispatch.Dispatcher
	registry      *tool.Registry
	cleanup       func()
	withSentiment bool
}

// buildMesh wires registry, session store and dispatcher from the config.
// Callers must run cleanup when done.
func buildMesh(cfg config.Config, logger logging.Logger) (*meshComponents, error) {
	registry, withSentiment, err := buildRegistry(cfg, logger)
	if err != nil {
		return nil, err
	}

	store, closeStore, err := buildStore(cfg)
	if err != nil {
		return nil, err
	}

	dispatcher := dispatch.New(registry, store,
		dispatch.WithLogger(logger),
		dispatch.WithInvocationTimeout(time.Duration(cfg.InvocationTimeout)),
		dispatch.WithMaxConcurrentInvocations(cfg.MaxConcurrentInvocations),
		dispatch.WithStrictSchema(cfg.StrictSchemaMode),
	)

	cleanup := closeStore

	// Redis sessions expire through key TTLs; only the in-memory store
	// needs a sweeper.
	idle := time.Duration(cfg.SessionIdleTimeout)
	if _, inMemory := store.(*session.InMemoryStore); inMemory && idle > 0 {
		janitor := session.NewJanitor(store, dispatcher.Locks(), idle, func(o *session.JanitorOptions) {
			o.Logger = logger
		})
		janitor.Start()

		cleanup = func() {
			janitor.Stop()
			closeStore()
		}
	}

	return &meshComponents{
		dispatcher:    dispatcher,
		registry:      registry,
		cleanup:       cleanup,
		withSentiment: withSentiment,
	}, nil
}

// buildModel constructs the chat model for the configured provider. Provider
// credentials come from the environment, so missing keys fail here with a
// provider exit code instead of surfacing as an opaque API error later.
func buildModel(cfg config.Config) (model.Model, error) {
	name := cfg.Model.Name

	switch cfg.Model.Provider {
	case config.ProviderOpenAI, "":
		if os.Getenv("OPENAI_API_KEY") == "" {
			return nil, exitError(exitProvider, "OPENAI_API_KEY environment variable is not set")
		}
		return openaimodel.NewModel(func(o *openaimodel.Options) {
			if name != "" {
				o.Model = name
			}
		}), nil
	case config.ProviderAnthropic:
		if os.Getenv("ANTHROPIC_API_KEY") == "" {
			return nil, exitError(exitProvider, "ANTHROPIC_API_KEY environment variable is not set")
		}
		return anthropicmodel.NewModel(func(o *anthropicmodel.Options) {
			if name != "" {
				o.Model = anthropicsdk.Model(name)
			}
		}), nil
	case config.ProviderMock:
		if name == "" {
			name = "mock-model"
		}
		return model.NewMockModel(name, "mock"), nil
	default:
		return nil, exitError(exitConfig, "unknown model provider %q", cfg.Model.Provider)
	}
}

// serverInstructions is the usage hint the server hands to connecting clients.
func serverInstructions(withSentiment bool) string {
	instructions := "Tools run against a per-session context: variables set by one call are visible to later calls in the same session."
	if withSentiment {
		instructions += " Use get_crypto_sentiment for a one-shot crypto sentiment read, or search_tweets followed by analyze_tweets for finer control."
	}
	return instructions
}
