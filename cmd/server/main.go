package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/docuforge/billing/internal/handler"
	"github.com/docuforge/billing/internal/postgres"
	"github.com/docuforge/billing/pkg/config"
	"github.com/docuforge/billing/pkg/dedup"
	"github.com/docuforge/billing/pkg/httpserver"
	"github.com/docuforge/billing/pkg/jwt"
	"github.com/docuforge/billing/pkg/logger"
	"github.com/docuforge/billing/pkg/notifier"
	"github.com/docuforge/billing/pkg/pg"
	"github.com/docuforge/billing/pkg/redis"
	"github.com/docuforge/billing/pkg/subscription"
	"github.com/docuforge/billing/pkg/webhook"
)

type appConfig struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"billing"`

	JWTSigningKey string `env:"JWT_SIGNING_KEY,required"`

	DodoWebhookSecret  string `env:"DODO_WEBHOOK_SECRET"`
	PolarWebhookSecret string `env:"POLAR_WEBHOOK_SECRET"`
	// AllowUnsigned skips signature verification for providers with no
	// configured secret. Local development only.
	AllowUnsigned bool `env:"ALLOW_UNSIGNED_WEBHOOKS" envDefault:"false"`

	// WebhookRetryOnIdentityMiss makes unresolved events answer 500 so the
	// provider redelivers, instead of the default ack-and-log.
	WebhookRetryOnIdentityMiss bool `env:"WEBHOOK_RETRY_ON_IDENTITY_MISS" envDefault:"false"`

	CatalogPath string `env:"PLAN_CATALOG_PATH"`
}

func main() {
	ctx := context.Background()

	var (
		cfg         appConfig
		pgCfg       pg.Config
		redisCfg    redis.Config
		httpCfg     httpserver.Config
		apiCfg      subscription.APIConfig
		postmarkCfg notifier.PostmarkConfig
	)
	config.MustLoad(&cfg)
	config.MustLoad(&pgCfg)
	config.MustLoad(&redisCfg)
	config.MustLoad(&httpCfg)
	config.MustLoad(&apiCfg)
	config.MustLoad(&postmarkCfg)

	log := logger.New(logger.WithEnvironment(cfg.Environment, cfg.ServiceName))
	logger.SetAsDefault(log)

	pool, err := pg.Connect(ctx, pgCfg)
	if err != nil {
		log.Error("failed to connect to postgres", logger.Error(err))
		os.Exit(1)
	}
	defer pool.Close()

	if err := pg.Migrate(ctx, pool, pgCfg, log.With(logger.Component("migrate"))); err != nil {
		log.Error("failed to apply migrations", logger.Error(err))
		os.Exit(1)
	}

	store := postgres.NewStore(pool)
	profiles := postgres.NewProfileStore(pool)
	events := postgres.NewEventLog(pool)

	catalog := subscription.DefaultCatalog()
	if cfg.CatalogPath != "" {
		catalog, err = subscription.LoadCatalog(cfg.CatalogPath)
		if err != nil {
			log.Error("failed to load plan catalog", logger.Error(err))
			os.Exit(1)
		}
	}

	var seen dedup.Store = dedup.NewMemoryStore()
	healthChecks := []func(context.Context) error{pg.Healthcheck(pool)}
	if redisCfg.Enabled() {
		rdb, err := redis.Connect(ctx, redisCfg)
		if err != nil {
			log.Error("failed to connect to redis", logger.Error(err))
			os.Exit(1)
		}
		defer rdb.Close()
		seen = dedup.NewRedisStore(rdb)
		healthChecks = append(healthChecks, redis.Healthcheck(rdb))
	}

	var notify notifier.Notifier = notifier.NewSlogNotifier(log.With(logger.Component("notifier")))
	if postmarkCfg.Enabled() {
		notify, err = notifier.NewPostmarkNotifier(postmarkCfg)
		if err != nil {
			log.Error("failed to configure postmark", logger.Error(err))
			os.Exit(1)
		}
	}

	reconcilerOpts := []subscription.ReconcilerOption{
		subscription.WithDedup(seen),
		subscription.WithEventLog(events),
		subscription.WithNotifier(notify),
		subscription.WithReconcilerLogger(log.With(logger.Component("reconciler"))),
	}
	if cfg.WebhookRetryOnIdentityMiss {
		reconcilerOpts = append(reconcilerOpts, subscription.WithIdentityMissPolicy(subscription.IdentityMissRetry))
	}
	reconciler := subscription.NewReconciler(store, profiles, catalog, reconcilerOpts...)

	var client subscription.ProviderClient
	if apiCfg.APIKey != "" {
		client, err = subscription.NewAPIClient(apiCfg)
		if err != nil {
			log.Error("failed to configure provider client", logger.Error(err))
			os.Exit(1)
		}
	} else {
		log.Warn("provider API key not set, provider-mediated management disabled")
	}
	manager := subscription.NewManager(store, profiles, catalog, client,
		subscription.WithManagerLogger(log.With(logger.Component("manager"))))

	tokens, err := jwt.NewFromString(cfg.JWTSigningKey)
	if err != nil {
		log.Error("failed to configure jwt service", logger.Error(err))
		os.Exit(1)
	}

	dodoVerifier, err := newVerifier(cfg.DodoWebhookSecret, cfg.AllowUnsigned, log,
		func(secret string, opts ...webhook.Option) (webhook.Verifier, error) {
			return webhook.NewStandardVerifier(secret, opts...)
		})
	if err != nil {
		log.Error("failed to configure dodo webhook verifier", logger.Error(err))
		os.Exit(1)
	}
	polarVerifier, err := newVerifier(cfg.PolarWebhookSecret, cfg.AllowUnsigned, log,
		func(secret string, opts ...webhook.Option) (webhook.Verifier, error) {
			opts = append(opts, webhook.WithSignatureHeader(subscription.PolarSignatureHeader))
			return webhook.NewRawVerifier(secret, opts...)
		})
	if err != nil {
		log.Error("failed to configure polar webhook verifier", logger.Error(err))
		os.Exit(1)
	}

	h := handler.New(reconciler, manager, tokens, log.With(logger.Component("http")),
		subscription.NewDodoAdapter(dodoVerifier),
		subscription.NewPolarAdapter(polarVerifier),
	)

	srv := httpserver.NewFromConfig(httpCfg, httpserver.WithLogger(log.With(logger.Component("httpserver"))))
	if err := srv.Run(ctx, h.Router(healthChecks...)); err != nil {
		log.Error("server stopped with error", logger.Error(err))
		os.Exit(1)
	}
	log.Info("server stopped")
}

func newVerifier(
	secret string,
	allowUnsigned bool,
	log *slog.Logger,
	build func(secret string, opts ...webhook.Option) (webhook.Verifier, error),
) (webhook.Verifier, error) {
	opts := []webhook.Option{webhook.WithLogger(log.With(logger.Component("webhook")))}
	if allowUnsigned {
		opts = append(opts, webhook.WithAllowUnsigned())
	}
	return build(secret, opts...)
}
