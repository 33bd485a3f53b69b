// Package app wires configuration, stores, the agent and the HTTP surface
// into a runnable service.
package app

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/nbianchi/tasktalk/internal/agent"
	"github.com/nbianchi/tasktalk/internal/config"
	"github.com/nbianchi/tasktalk/internal/conversation"
	"github.com/nbianchi/tasktalk/internal/httpapi"
	"github.com/nbianchi/tasktalk/internal/identity"
	"github.com/nbianchi/tasktalk/internal/observability"
	"github.com/nbianchi/tasktalk/internal/orchestrator"
	"github.com/nbianchi/tasktalk/internal/reliability"
	"github.com/nbianchi/tasktalk/internal/taskstore"
)

type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Orchestrator *orchestrator.Orchestrator
	Metrics      *observability.Metrics

	// Cleanup should be called on shutdown to release external resources.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, log *zap.Logger) (*BuildResult, error) {
	if log == nil {
		log = zap.NewNop()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	conversations, err := conversation.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("conversation store init failed: %w", err)
	}
	tasks, err := taskstore.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		_ = conversations.Close()
		return nil, fmt.Errorf("task store init failed: %w", err)
	}

	ag, err := agent.New(agent.Config{
		Mode:    cfg.AgentMode,
		HTTPURL: cfg.AgentHTTPURL,
		Model:   cfg.AgentModel,
		APIKey:  cfg.AgentAPIKey,
	})
	if err != nil {
		_ = tasks.Close()
		_ = conversations.Close()
		return nil, fmt.Errorf("agent init failed: %w", err)
	}

	policy := reliability.Policy{
		Retries: cfg.StorageRetryAttempts,
		Delay:   cfg.StorageRetryDelay,
		OnRetry: metrics.ObserveStorageRetry,
	}

	orch := orchestrator.New(conversations, tasks, ag, policy, log, metrics, orchestrator.Options{
		MaxMessageRunes: cfg.MaxMessageRunes,
		HistoryLimit:    cfg.HistoryLimit,
		AgentTimeout:    cfg.AgentTimeout,
	})

	var verifier identity.Verifier
	if strings.TrimSpace(cfg.JWTSecret) != "" {
		verifier = identity.NewJWTVerifier(cfg.JWTSecret)
	} else {
		log.Warn("running without token verification, every request acts as the dev principal",
			zap.String("principal", cfg.DevPrincipal))
		verifier = identity.StaticVerifier{UserID: cfg.DevPrincipal}
	}

	api := httpapi.New(cfg, verifier, orch, conversations, log)

	cleanup := func() error {
		var errs []string
		if err := tasks.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if err := conversations.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Orchestrator: orch,
		Metrics:      metrics,
		Cleanup:      cleanup,
	}, nil
}
