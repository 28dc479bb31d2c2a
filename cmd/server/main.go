package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/clintrovert/excelsior/internal/agent"
	"github.com/clintrovert/excelsior/internal/api/rest"
	"github.com/clintrovert/excelsior/internal/audit"
	"github.com/clintrovert/excelsior/internal/cache"
	"github.com/clintrovert/excelsior/internal/config"
	"github.com/clintrovert/excelsior/internal/convo"
	jiraclient "github.com/clintrovert/excelsior/internal/jira"
	"github.com/clintrovert/excelsior/internal/mutate"
	"github.com/clintrovert/excelsior/internal/tools"
)

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("failed to create logger: %v", err))
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	model := cfg.OpenAIModel
	if model == "" {
		model = openai.GPT4TurboPreview
	}
	llm := openai.NewClient(cfg.OpenAIAPIKey)

	// One Jira client per configured project
	cacheBackends := make(map[string]cache.Backend)
	toolBackends := make(map[string]tools.Backend)
	mutateBackends := make(map[string]mutate.Backend)
	for _, project := range cfg.Projects {
		client, err := jiraclient.NewClient(project, logger)
		if err != nil {
			logger.Fatal("failed to create jira client",
				zap.String("project", project.ID), zap.Error(err))
		}
		cacheBackends[project.ID] = client
		toolBackends[project.ID] = client
		mutateBackends[project.ID] = client
	}

	store := cache.NewStore(cacheBackends, logger)
	dispatcher := tools.NewDispatcher(toolBackends, store, logger)
	executor := mutate.NewExecutor(mutateBackends, store, logger)

	var classifier convo.Classifier = convo.NewLLMClassifier(llm, model, logger)
	filterAudit := audit.NewFilterAuditor(llm, model, logger)
	factsAudit := audit.NewFactsAuditor(llm, model, logger)
	mutationAudit := audit.NewMutationAuditor(llm, model, logger)

	ag := agent.New(llm, model, dispatcher, executor, classifier,
		filterAudit, factsAudit, mutationAudit, logger)
	sessions := agent.NewSessions()

	restHandler := rest.NewHandler(ag, sessions, store, logger)

	router := chi.NewRouter()
	router.Route("/api/v1", func(r chi.Router) {
		restHandler.RegisterRoutes(r)
	})
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	restAddr := fmt.Sprintf(":%s", cfg.RESTPort)
	restServer := &http.Server{
		Addr:    restAddr,
		Handler: router,
	}

	go func() {
		logger.Info("starting REST API server",
			zap.String("address", restAddr),
			zap.Int("projects", len(cfg.Projects)))
		if err := restServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start REST server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	restServer.Shutdown(shutdownCtx)

	logger.Info("shutdown complete")
}
