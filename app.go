package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm/logger"

	"narraweave/internal/config"
	"narraweave/internal/database"
	"narraweave/internal/events"
	"narraweave/internal/llm/client"
	"narraweave/internal/logging"
	"narraweave/internal/repositories"
	"narraweave/internal/services"
	"narraweave/internal/utils"
)

// App holds everything a command needs. Project-bound parts are nil when no
// project was found.
type App struct {
	ctx        context.Context
	cfg        *config.Config
	logger     *zap.Logger
	root       string
	artifacts  repositories.ArtifactRepository
	db         *services.DbServices
	git        *services.GitService
	keyring    *services.KeyringService
	cascade    *services.CascadeService
	iterations *services.IterationService
	dbClose    func() error
}

type startupOptions struct {
	ProjectDir string
	ConfigPath string
	Verbose    bool
}

// NewApp creates a new App application struct
func NewApp() *App {
	return &App{
		git:     services.NewGitService(),
		keyring: services.NewKeyringService(),
	}
}

// startup locates the project, loads configuration and opens the history
// database.
func (a *App) startup(ctx context.Context, opts startupOptions) error {
	a.ctx = ctx

	start := opts.ProjectDir
	if start == "" {
		start = "."
	}
	root, err := utils.FindProjectRoot(start)
	if err != nil {
		if opts.ProjectDir != "" {
			root, err = filepath.Abs(opts.ProjectDir)
			if err != nil {
				return err
			}
		} else {
			root = ""
		}
	}
	a.root = root

	if a.root != "" {
		if err := utils.LoadEnv(a.root); err != nil {
			return fmt.Errorf("failed to load .env: %w", err)
		}
	}

	configPath := opts.ConfigPath
	if configPath == "" && a.root != "" {
		configPath = config.ProjectPath(a.root)
	}
	cfg := config.DefaultConfig()
	if configPath != "" {
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
	}
	if opts.Verbose {
		cfg.Logging.Level = "debug"
	}
	a.cfg = cfg

	a.logger, err = logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	events.EnableLoggerEmitter(a.logger)

	dbPath := cfg.Database.Path
	if dbPath == "" && a.root != "" {
		if err := os.MkdirAll(filepath.Join(a.root, config.DirName), 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", config.DirName, err)
		}
		dbPath = filepath.Join(a.root, config.DirName, "history.db")
	}
	db, err := database.Init(database.Config{
		Path:     dbPath,
		LogLevel: logger.Warn,
		Logger:   a.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		a.dbClose = sqlDB.Close
	}
	a.db = services.NewDbServices(db)
	if err := a.db.Models.Load(); err != nil {
		return err
	}
	a.cascade = services.NewCascadeService(a.logger)

	if a.root != "" {
		a.artifacts, err = repositories.NewArtifactRepository(a.root)
		if err != nil {
			return err
		}
	}
	a.logger.Debug("narraweave started", zap.String("project", a.root))
	return nil
}

// shutdown releases the database and flushes the logger.
func (a *App) shutdown() {
	if a.dbClose != nil {
		if err := a.dbClose(); err != nil && a.logger != nil {
			a.logger.Warn("failed to close database", zap.Error(err))
		}
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

func (a *App) project() (repositories.ArtifactRepository, error) {
	if a.artifacts == nil {
		return nil, errors.New("no narraweave project found here (use --project or run `narraweave init`)")
	}
	return a.artifacts, nil
}

func (a *App) changeLog() services.ChangeLog {
	return services.NewGitChangeLog(a.git, a.cfg.Changelog, a.logger)
}

// iterationService builds the pipeline on first use, resolving the model
// and API key only when a command needs the backend.
func (a *App) iterationService(ctx context.Context) (*services.IterationService, error) {
	if a.iterations != nil {
		return a.iterations, nil
	}
	llmCfg := a.cfg.LLM
	provider := client.CanonicalProvider(llmCfg.Provider)

	modelName := strings.TrimSpace(llmCfg.Model)
	if provider == "openai-compatible" {
		if modelName == "" {
			return nil, errors.New("llm.model is required for openai-compatible endpoints")
		}
	} else {
		resolved, err := a.db.Models.Resolve(provider, modelName)
		if err != nil {
			return nil, err
		}
		modelName = resolved.APIName
		if err := a.db.Models.MarkUsed(resolved); err != nil {
			a.logger.Warn("failed to record model use", zap.String("model", resolved.Key), zap.Error(err))
		}
	}

	apiKey := strings.TrimSpace(llmCfg.APIKey)
	if apiKey == "" {
		var err error
		apiKey, err = a.keyring.ResolveAPIKey(provider, llmCfg.APIKeyEnv)
		if err != nil {
			return nil, err
		}
	}
	timeout, err := llmCfg.TimeoutDuration()
	if err != nil {
		return nil, err
	}

	llm, err := client.New(ctx, client.Options{
		Provider:  provider,
		Model:     modelName,
		APIKey:    apiKey,
		BaseURL:   llmCfg.BaseURL,
		MaxTokens: llmCfg.MaxTokens,
		Timeout:   timeout,
		Logger:    a.logger,
	})
	if err != nil {
		return nil, err
	}
	a.logger.Info("completion backend ready", zap.String("provider", provider), zap.String("model", modelName))

	a.iterations = services.NewIterationService(llm, a.changeLog(), a.db.History, a.cfg.Iteration, a.logger)
	return a.iterations, nil
}
