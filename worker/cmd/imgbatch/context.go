package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"imgbatch/internal/counter"
	"imgbatch/internal/logging"
	"imgbatch/worker/backend"
	"imgbatch/worker/config"
	"imgbatch/worker/export"
	"imgbatch/worker/item"
	"imgbatch/worker/repository"
	"imgbatch/worker/service"
)

type globalFlags struct {
	config   string
	counter  string
	output   string
	upload   bool
	logLevel string
}

// commandContext lazily builds the collaborators a command needs and closes
// whatever it opened once the command returns.
type commandContext struct {
	flags *globalFlags

	configOnce sync.Once
	config     *config.Config
	configErr  error

	logger  *zap.Logger
	repo    *repository.SQLiteRepo
	backend *backend.Backend
}

func newCommandContext(flags *globalFlags) *commandContext {
	return &commandContext{flags: flags}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, err := config.Load(strings.TrimSpace(c.flags.config))
		if err != nil {
			c.configErr = err
			return
		}
		if c.flags.counter != "" {
			cfg.Counter.Backend = strings.ToLower(c.flags.counter)
		}
		if c.flags.output != "" {
			cfg.Output.Dir = c.flags.output
		}
		if c.flags.upload {
			cfg.Upload.Enabled = true
		}
		if c.flags.logLevel != "" {
			cfg.Logging.Level = c.flags.logLevel
		}
		if err := cfg.Validate(); err != nil {
			c.configErr = err
			return
		}

		logger, err := logging.New(logging.Config{
			Level:      cfg.Logging.Level,
			Format:     cfg.Logging.Format,
			OutputPath: cfg.Logging.File,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
		})
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.logger = logger
	})
	return c.config, c.configErr
}

func (c *commandContext) repository(ctx context.Context) (*repository.SQLiteRepo, error) {
	if c.repo != nil {
		return c.repo, nil
	}
	repo, err := repository.Open(ctx, c.config.DatabasePath(), c.logger)
	if err != nil {
		return nil, err
	}
	c.repo = repo
	return repo, nil
}

func (c *commandContext) counterBackend(ctx context.Context) (*backend.Backend, error) {
	if c.backend != nil {
		return c.backend, nil
	}
	kind, err := backend.ParseKind(c.config.Counter.Backend)
	if err != nil {
		return nil, err
	}
	bcfg := backend.Config{
		Kind:          kind,
		RedisAddr:     c.config.Counter.RedisAddr,
		RedisPassword: c.config.Counter.RedisPassword,
		RedisDB:       c.config.Counter.RedisDB,
		URL:           c.config.Counter.URL,
		Token:         c.config.Counter.Token,
		KafkaBrokers:  c.config.Counter.KafkaBrokers,
		KafkaTopic:    c.config.Counter.KafkaTopic,
	}
	if kind == backend.KindLocal {
		if bcfg.Repo, err = c.repository(ctx); err != nil {
			return nil, err
		}
	}
	b, err := backend.Open(ctx, bcfg, c.logger)
	if err != nil {
		return nil, fmt.Errorf("open %s counter: %w", kind, err)
	}
	c.backend = b
	return b, nil
}

func (c *commandContext) exporter(ctx context.Context) (export.Exporter, error) {
	up := c.config.Upload
	if !up.Enabled {
		return export.NewFileExporter(c.config.Output.Dir, c.logger), nil
	}
	return export.NewMinioExporter(ctx, export.MinioConfig{
		Endpoint:  up.Endpoint,
		AccessKey: up.AccessKey,
		SecretKey: up.SecretKey,
		Bucket:    up.Bucket,
		Region:    up.Region,
		Prefix:    up.Prefix,
		UseSSL:    up.UseSSL,
	}, c.logger)
}

// processor wires the full pipeline. The counter is wrapped so that a
// failing backend never fails a batch.
func (c *commandContext) processor(ctx context.Context, observer func(item.View)) (*service.Processor, error) {
	b, err := c.counterBackend(ctx)
	if err != nil {
		return nil, err
	}
	repo, err := c.repository(ctx)
	if err != nil {
		return nil, err
	}
	exp, err := c.exporter(ctx)
	if err != nil {
		return nil, err
	}
	timeout, _ := c.config.TaskTimeout()

	return service.NewProcessor(service.Options{
		MemoryBudget:     c.config.MemoryBudget(),
		MaxTotalSize:     c.config.MaxTotalSize(),
		EstimateFactor:   c.config.Engine.EstimateFactor,
		MaxConcurrent:    c.config.Engine.MaxConcurrent,
		EvictCount:       c.config.Engine.EvictCount,
		WarningThreshold: c.config.Engine.WarningThreshold,
		TaskTimeout:      timeout,
		SingleFileDirect: c.config.Output.SingleFileDirect,
	}, service.Deps{
		Counter:  counter.NewBestEffort(b, c.logger),
		Exporter: exp,
		History:  repo,
		Logger:   c.logger,
		Observer: observer,
	}), nil
}

func (c *commandContext) close() error {
	var errs []error
	if c.backend != nil {
		errs = append(errs, c.backend.Close())
	}
	if c.repo != nil {
		errs = append(errs, c.repo.Close())
	}
	if c.logger != nil {
		_ = c.logger.Sync()
	}
	return errors.Join(errs...)
}
