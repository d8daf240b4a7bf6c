package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	defaultEnvFile             = ".env"
	defaultPort                = "8080"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 30 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultCurrency            = "BHD"
	defaultReconcileSchedule   = "0 */15 * * * *"
	defaultReconcileBatchSize  = 50
	defaultRefundMaxAttempts   = 5
	defaultBookingEventsTopic  = "booking-events"
	defaultMailFromName        = "Sahra Camps"
	defaultIdempotencyHeader   = "Idempotency-Key"
	defaultIdempotencyTTL      = 24 * time.Hour
	defaultIdempotencyInterval = time.Hour
	defaultIdempotencyBatch    = 200
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	PSP         PSPConfig
	PubSub      PubSubConfig
	Mail        MailConfig
	Refunds     RefundConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PSPConfig collects credentials for the Stripe and Tap gateways.
type PSPConfig struct {
	StripeAPIKey    string
	StripeAccountID string
	TapSecretKey    string
	TapBaseURL      string
	TapPostURL      string
	DefaultProvider string
	CurrencyRoutes  map[string]string
}

// PubSubConfig names the topic booking lifecycle events are published to. An empty topic disables publishing.
type PubSubConfig struct {
	ProjectID          string
	BookingEventsTopic string
}

// MailConfig configures SendGrid delivery. Mail is disabled when APIKey is empty.
type MailConfig struct {
	SendGridAPIKey string
	FromAddress    string
	FromName       string
}

// RefundConfig tunes refund calculation and retry behaviour.
type RefundConfig struct {
	// PolicyFile points at an optional YAML document overriding the built-in tier tables.
	PolicyFile         string
	Currency           string
	ReconcileSchedule  string
	ReconcileBatchSize int
	MaxAttempts        int
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile               string
	envMap                map[string]string
	useSystemEnv          bool
	secret                SecretResolver
	requiredSecrets       []string
	panicOnMissingSecrets bool
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks config fields (for example "PSP.StripeAPIKey") as mandatory.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// WithPanicOnMissingSecrets causes Load to panic when required secrets are missing.
func WithPanicOnMissingSecrets() Option {
	return func(o *loaderOptions) {
		o.panicOnMissingSecrets = true
	}
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

// Load assembles the application configuration from defaults, the .env file, the process
// environment, explicit overrides and Secret Manager references, in increasing precedence.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)

	env, err := newEnvSource(options)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         env.str("API_SERVER_PORT", defaultPort),
			ReadTimeout:  env.duration("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: env.duration("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  env.duration("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       env.str("API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: env.str("API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    env.str("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: env.str("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		PSP: PSPConfig{
			StripeAPIKey:    env.str("API_PSP_STRIPE_API_KEY", ""),
			StripeAccountID: env.str("API_PSP_STRIPE_ACCOUNT_ID", ""),
			TapSecretKey:    env.str("API_PSP_TAP_SECRET_KEY", ""),
			TapBaseURL:      env.str("API_PSP_TAP_BASE_URL", ""),
			TapPostURL:      env.str("API_PSP_TAP_POST_URL", ""),
			DefaultProvider: strings.ToLower(env.str("API_PSP_DEFAULT_PROVIDER", "")),
			CurrencyRoutes:  env.pairs("API_PSP_CURRENCY_ROUTES"),
		},
		PubSub: PubSubConfig{
			ProjectID:          env.str("API_PUBSUB_PROJECT_ID", ""),
			BookingEventsTopic: env.str("API_PUBSUB_BOOKING_EVENTS_TOPIC", defaultBookingEventsTopic),
		},
		Mail: MailConfig{
			SendGridAPIKey: env.str("API_MAIL_SENDGRID_API_KEY", ""),
			FromAddress:    env.str("API_MAIL_FROM_ADDRESS", ""),
			FromName:       env.str("API_MAIL_FROM_NAME", defaultMailFromName),
		},
		Refunds: RefundConfig{
			PolicyFile:         env.str("API_REFUND_POLICY_FILE", ""),
			Currency:           strings.ToUpper(env.str("API_REFUND_CURRENCY", defaultCurrency)),
			ReconcileSchedule:  env.raw("API_REFUND_RECONCILE_SCHEDULE", defaultReconcileSchedule),
			ReconcileBatchSize: env.integer("API_REFUND_RECONCILE_BATCH", defaultReconcileBatchSize),
			MaxAttempts:        env.integer("API_REFUND_MAX_ATTEMPTS", defaultRefundMaxAttempts),
		},
		Idempotency: IdempotencyConfig{
			Header:           env.str("API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              env.duration("API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  env.duration("API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: env.integer("API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatch),
		},
	}

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firebase.ProjectID
	}

	resolved := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"PSP.StripeAPIKey", &cfg.PSP.StripeAPIKey},
		{"PSP.TapSecretKey", &cfg.PSP.TapSecretKey},
		{"Mail.SendGridAPIKey", &cfg.Mail.SendGridAPIKey},
	}
	for _, target := range secretFields {
		value, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		if options.panicOnMissingSecrets {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}

	return cfg, nil
}

func validateConfig(cfg Config) error {
	var fields []string
	add := func(ok bool, name string) {
		if !ok {
			fields = append(fields, name)
		}
	}

	add(cfg.Server.Port != "", "Server.Port")
	add(cfg.Firebase.ProjectID != "", "Firebase.ProjectID")
	add(cfg.Firestore.ProjectID != "", "Firestore.ProjectID")
	add(cfg.PSP.StripeAPIKey != "" || cfg.PSP.TapSecretKey != "", "PSP.StripeAPIKey|PSP.TapSecretKey")
	switch cfg.PSP.DefaultProvider {
	case "":
	case "stripe":
		add(cfg.PSP.StripeAPIKey != "", "PSP.DefaultProvider")
	case "tap":
		add(cfg.PSP.TapSecretKey != "", "PSP.DefaultProvider")
	default:
		add(false, "PSP.DefaultProvider")
	}
	add(cfg.Mail.SendGridAPIKey == "" || cfg.Mail.FromAddress != "", "Mail.FromAddress")
	add(len(cfg.Refunds.Currency) == 3, "Refunds.Currency")
	add(cfg.Refunds.ReconcileBatchSize > 0, "Refunds.ReconcileBatchSize")
	add(cfg.Refunds.MaxAttempts > 0, "Refunds.MaxAttempts")
	add(strings.TrimSpace(cfg.Idempotency.Header) != "", "Idempotency.Header")
	add(cfg.Idempotency.TTL > 0, "Idempotency.TTL")
	add(cfg.Idempotency.CleanupInterval > 0, "Idempotency.CleanupInterval")
	add(cfg.Idempotency.CleanupBatchSize > 0, "Idempotency.CleanupBatchSize")

	if len(fields) > 0 {
		return &ValidationError{fields: fields}
	}
	return nil
}
