package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"contenthub.org/internal/apiclient"
	"contenthub.org/internal/config"
	"contenthub.org/internal/credentials"
	"contenthub.org/internal/events"
	"contenthub.org/internal/obs"
	"contenthub.org/internal/session"
	"contenthub.org/internal/store"
)

// application is everything a command needs, built once per invocation.
type application struct {
	cfg     config.Config
	bus     *events.Bus
	creds   *credentials.Store
	session *session.Manager
	stores  *store.Registry
	public  *apiclient.Client
	out     io.Writer
	errOut  io.Writer

	cancel context.CancelFunc
}

func newApplication(ctx context.Context, cfg config.Config, out, errOut io.Writer) (*application, error) {
	backend, err := openBackend(ctx, cfg.Credentials)
	if err != nil {
		return nil, err
	}

	bus := events.NewBus()
	creds, err := credentials.Open(ctx, backend, bus)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	apiCfg := apiclient.Config{
		BaseURL:       cfg.API.BaseURL,
		Timeout:       cfg.API.Timeout,
		UploadTimeout: cfg.API.UploadTimeout,
	}
	mgr, err := session.New(apiCfg, creds,
		session.WithPublisher(bus),
		session.WithCoalescing(cfg.Session.CoalesceRefresh),
		session.WithNavigator(session.NavigatorFunc(func() {
			fmt.Fprintln(errOut, "Your session has expired. Run `contenthub login` to sign in again.")
		})),
	)
	if err != nil {
		_ = creds.Close()
		return nil, err
	}
	public, err := apiclient.New(apiCfg, apiclient.ModePublic)
	if err != nil {
		_ = creds.Close()
		return nil, err
	}

	var storeOpts []store.Option
	if cfg.Store.OptimisticToggles {
		storeOpts = append(storeOpts, store.WithOptimisticToggles())
	}

	watchCtx, cancel := context.WithCancel(ctx)
	a := &application{
		cfg:     cfg,
		bus:     bus,
		creds:   creds,
		session: mgr,
		stores:  store.NewRegistry(mgr.Client(), storeOpts...),
		public:  public,
		out:     out,
		errOut:  errOut,
		cancel:  cancel,
	}
	go a.stores.Watch(watchCtx, bus)
	go func() {
		if err := creds.Watch(watchCtx); err != nil && !errors.Is(err, context.Canceled) {
			obs.Logger().Warn("credential watch stopped", zap.Error(err))
		}
	}()
	return a, nil
}

func (a *application) Close() error {
	a.cancel()
	return a.creds.Close()
}

// openBackend builds the credential backend named in cfg.
func openBackend(ctx context.Context, cfg config.CredentialsConfig) (credentials.Backend, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return credentials.NewMemoryBackend(), nil
	case config.BackendFile:
		return credentials.NewFileBackend(cfg.FilePath)
	case config.BackendRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		return credentials.NewRedisBackend(client, cfg.Redis.Key), nil
	case config.BackendPostgres:
		pg, err := credentials.OpenPostgres(cfg.Postgres.DSN, cfg.Namespace)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			_ = pg.Close()
			return nil, err
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("unknown credentials backend %q", cfg.Backend)
	}
}
