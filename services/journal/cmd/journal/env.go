package main

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"mentalia/internal/premiumtoken"
	"mentalia/internal/util"
	"mentalia/pkg/ai"
	"mentalia/pkg/domain"
	"mentalia/pkg/storage"
	"mentalia/services/journal/internal/app"
	"mentalia/services/journal/internal/checkoutclient"
	"mentalia/services/journal/internal/config"
	"mentalia/services/journal/internal/report"
)

// journalEnv is everything a command needs, built from config once per run.
type journalEnv struct {
	cfg      config.FileConfig
	app      *app.App
	reports  *report.Generator
	checkout *checkoutclient.Client

	events  chan domain.Event
	stop    chan struct{}
	done    chan struct{}
	cleanup func()
}

func openEnv(cmd *cobra.Command) (*journalEnv, error) {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return nil, err
	}
	_, fileCleanup := util.InitLoggerTo(cmd.ErrOrStderr(), cfg.LogLevel, "journal", cfg.LogsDir)
	logCleanup := func() {
		if fileCleanup != nil {
			fileCleanup()
		}
	}

	initialInterval, _ := config.ParseDuration("initInitialInterval", cfg.InitInitialInterval)
	maxInterval, _ := config.ParseDuration("initMaxInterval", cfg.InitMaxInterval)
	attemptTimeout, _ := config.ParseDuration("attemptTimeout", cfg.AttemptTimeout)
	leeway, _ := config.ParseDuration("premiumLeeway", cfg.PremiumLeeway)

	env := &journalEnv{
		cfg:    cfg,
		events: make(chan domain.Event, 64),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	appCfg := app.Config{
		DatabaseURL: cfg.DatabaseURL,
		KeyFile:     cfg.KeyFile,
		Location:    cfg.Location(),
		Retry: app.RetryPolicy{
			InitialInterval: initialInterval,
			Multiplier:      cfg.InitMultiplier,
			MaxInterval:     maxInterval,
			MaxAttempts:     cfg.InitMaxAttempts,
		},
		DecryptWorkers: cfg.DecryptWorkers,
		Events:         env.events,
	}
	if cfg.MinioEndpoint != "" {
		objects, err := storage.NewMinioStore(cmd.Context(), storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			logCleanup()
			return nil, fmt.Errorf("init backup storage: %w", err)
		}
		appCfg.Objects = objects
	}
	if cfg.CheckoutServiceURL != "" {
		env.checkout = checkoutclient.NewClient(cfg.CheckoutServiceURL)
		appCfg.Premium = env.checkout
	}
	if cfg.PremiumPublicKeyPath != "" {
		verifier, err := premiumtoken.NewVerifier(premiumtoken.VerifierOptions{
			PublicKeyPath: cfg.PremiumPublicKeyPath,
			KeyID:         cfg.PremiumKeyID,
			Issuer:        cfg.PremiumIssuer,
			Leeway:        leeway,
		})
		if err != nil {
			logCleanup()
			return nil, fmt.Errorf("init premium verifier: %w", err)
		}
		appCfg.PremiumVerifier = verifier
	}

	journal, err := app.New(appCfg)
	if err != nil {
		logCleanup()
		return nil, err
	}
	env.app = journal
	env.reports = report.New(report.Config{
		Mode:           report.Mode(cfg.ReportMode),
		AttemptTimeout: attemptTimeout,
		Primary:        providerConfig(cfg.PrimaryProvider),
		Secondary:      providerConfig(cfg.SecondaryProvider),
		Settings:       journal,
		Events:         env.events,
		Location:       cfg.Location(),
	})

	go env.printEvents(cmd.ErrOrStderr())
	var once sync.Once
	env.cleanup = func() {
		once.Do(func() {
			_ = journal.Close()
			// events is never closed; a retry still in flight may emit late
			close(env.stop)
			<-env.done
			logCleanup()
		})
	}
	return env, nil
}

func providerConfig(p config.ProviderConfig) ai.ProviderConfig {
	return ai.ProviderConfig{Provider: p.Provider, APIKey: p.APIKey, BaseURL: p.BaseURL, Model: p.Model}
}

func (e *journalEnv) printEvents(w io.Writer) {
	defer close(e.done)
	show := func(ev domain.Event) {
		if verboseFlag {
			fmt.Fprintln(w, describeEvent(ev))
		}
	}
	for {
		select {
		case ev := <-e.events:
			show(ev)
		case <-e.stop:
			for {
				select {
				case ev := <-e.events:
					show(ev)
				default:
					return
				}
			}
		}
	}
}

// withEnv wraps a command body with environment setup and teardown.
func withEnv(fn func(ctx context.Context, env *journalEnv, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		env, err := openEnv(cmd)
		if err != nil {
			return err
		}
		defer env.cleanup()
		return fn(cmd.Context(), env, cmd, args)
	}
}
