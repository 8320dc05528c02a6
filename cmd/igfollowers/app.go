package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"igfollowers/internal/worker"
	"igfollowers/pkg/auth"
	"igfollowers/pkg/config"
	"igfollowers/pkg/instagram"
	"igfollowers/pkg/logger"
	"igfollowers/pkg/proxy"
	"igfollowers/pkg/ratelimit"
	"igfollowers/pkg/scraper"
	"igfollowers/pkg/session"
	"igfollowers/pkg/source"
	"igfollowers/pkg/storage"
	"igfollowers/pkg/storage/postgres"
)

// App is the wired scraping engine behind the commands
type App struct {
	Config      *config.Config
	Logger      logger.Logger
	Storage     storage.Storage
	Credentials *auth.Manager
	Sessions    *session.Store
	Proxies     *proxy.Manager
	Pool        *worker.Pool
	Scraper     *scraper.Manager

	closers []func() error
}

// appDeps overrides parts of the wiring
type appDeps struct {
	credentials *auth.Manager
	source      source.Source
	// offline skips restoring cached sessions, which contacts the platform
	offline     bool
}

func newApp(ctx context.Context, cfg *config.Config, log logger.Logger, deps appDeps) (_ *App, err error) {
	log = logger.OrDefault(log)
	app := &App{Config: cfg, Logger: log}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	app.Storage, err = openStorage(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, app.Storage.Close)

	app.Credentials = deps.credentials
	if app.Credentials == nil {
		app.Credentials, err = auth.NewManager("")
		if err != nil {
			return nil, err
		}
	}

	app.Sessions, err = openSessions(ctx, cfg, log, app.Credentials, deps, &app.closers)
	if err != nil {
		return nil, err
	}

	app.Proxies, err = newProxies(cfg.Proxy, log)
	if err != nil {
		return nil, err
	}

	limiter, err := ratelimit.New(strings.ToLower(cfg.RateLimit.Strategy), cfg.RateLimit.RequestsPerMinute)
	if err != nil {
		return nil, err
	}
	app.Pool = worker.NewPool(cfg.Scraper.Workers, app.Sessions, limiter, log)

	login, loginProxy := loginCredentials(cfg, app.Credentials, log)
	app.Scraper, err = scraper.New(scraper.Dependencies{
		Store:       app.Storage,
		Sessions:    app.Sessions,
		Proxies:     app.Proxies,
		Pool:        app.Pool,
		Credentials: login,
		LoginProxy:  loginProxy,
		Logger:      log,
	}, scraperOptions(cfg.Scraper))
	if err != nil {
		return nil, err
	}
	return app, nil
}

// Close stops the scraper and releases storage and cache connections
func (a *App) Close() error {
	var errs []error
	if a.Scraper != nil {
		errs = append(errs, a.Scraper.Close())
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func openStorage(ctx context.Context, cfg config.DatabaseConfig) (storage.Storage, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "memory":
		return storage.NewMemory(), nil
	case "postgres":
		store, err := postgres.Open(ctx, cfg.URL, cfg.MaxConns)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

func openCache(ctx context.Context, cfg config.SessionConfig, log logger.Logger) (session.Cache, func() error, error) {
	if cfg.RedisURL != "" {
		client, err := session.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect session cache: %w", err)
		}
		return session.NewRedisCache(client, cfg.TTL), client.Close, nil
	}

	cache, err := session.NewFileCache(cfg.Dir, log)
	if err != nil {
		return nil, nil, err
	}
	return cache, func() error { return nil }, nil
}

// openSessions builds the session store over the configured cache and, unless
// offline, restores the cached sessions that are still logged in.
func openSessions(ctx context.Context, cfg *config.Config, log logger.Logger, creds *auth.Manager, deps appDeps, closers *[]func() error) (*session.Store, error) {
	cache, closeCache, err := openCache(ctx, cfg.Session, log)
	if err != nil {
		return nil, err
	}
	*closers = append(*closers, closeCache)

	src := deps.source
	if src == nil {
		src = instagram.NewSource(instagram.Options{
			BaseURL:     cfg.Instagram.BaseURL,
			UserAgent:   cfg.Instagram.UserAgent,
			Timeout:     cfg.Instagram.Timeout,
			PasswordFor: passwordLookup(cfg, creds),
			Logger:      log,
		})
	}

	sessions := session.NewStore(src, cache, session.Options{
		TTL:            cfg.Session.TTL,
		MaxChallenges:  cfg.Session.MaxChallenges,
		ChallengeGrace: cfg.Session.ChallengeGrace,
	}, log)

	if !deps.offline {
		n, err := sessions.Load(ctx)
		if err != nil {
			log.WithError(err).Warn("Failed to restore cached sessions")
		} else {
			log.WithField("sessions", n).Info("Restored cached sessions")
		}
	}
	return sessions, nil
}

// passwordLookup resolves the password of a restored session so it can log in again
func passwordLookup(cfg *config.Config, creds *auth.Manager) func(string) string {
	return func(username string) string {
		if username == cfg.Instagram.Username && cfg.Instagram.Password != "" {
			return cfg.Instagram.Password
		}
		if creds == nil {
			return ""
		}
		return creds.Password(username)
	}
}

// loginCredentials picks the identity new sessions are created with: the
// configured login, then the stored one for the configured username, then
// the default stored login. A stored login also yields its bound proxy.
func loginCredentials(cfg *config.Config, creds *auth.Manager, log logger.Logger) (source.Credentials, string) {
	if cfg.HasCredentials() {
		return source.Credentials{Username: cfg.Instagram.Username, Password: cfg.Instagram.Password}, ""
	}
	if creds == nil {
		return source.Credentials{}, ""
	}

	var account *auth.Account
	var err error
	if cfg.Instagram.Username != "" {
		account, err = creds.Retrieve(cfg.Instagram.Username)
	} else {
		account, err = creds.RetrieveDefault()
	}
	if err != nil {
		log.WithError(err).Debug("No stored login")
		return source.Credentials{}, ""
	}
	return account.Credentials(), account.Proxy
}

func newProxies(cfg config.ProxyConfig, log logger.Logger) (*proxy.Manager, error) {
	m := proxy.NewManager(cfg.RotationInterval, log)
	for _, p := range cfg.List {
		m.Add(p)
	}
	if cfg.File != "" {
		if _, err := m.LoadFromFile(cfg.File); err != nil {
			return nil, fmt.Errorf("failed to load proxies: %w", err)
		}
	}
	if cfg.FromEnvironment {
		m.LoadFromEnv()
	}
	return m, nil
}

func scraperOptions(cfg config.ScraperConfig) scraper.Options {
	return scraper.Options{
		BatchSize:         cfg.BatchSize,
		RequestDelay:      cfg.RequestDelay,
		BatchDelay:        cfg.BatchDelay,
		RateLimitCooldown: cfg.RateLimitCooldown,
		MaxErrors:         cfg.MaxErrors,
		TransientLimit:    cfg.TransientLimit,
		QueueSize:         cfg.QueueSize,
	}
}
