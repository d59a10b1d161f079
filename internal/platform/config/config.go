// Package config assembles runtime configuration from defaults, a local
// .env file, process environment, and Secret Manager references, in that
// order of precedence.
package config

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile               = ".env"
	defaultPort                  = "8080"
	defaultReadTimeout           = 15 * time.Second
	defaultWriteTimeout          = 30 * time.Second
	defaultIdleTimeout           = 120 * time.Second
	defaultRateLimitDefault      = 120
	defaultRateLimitAuth         = 240
	defaultRateLimitWebhookBurst = 60
	defaultProviderBaseURL       = "https://api.xendpay.dev/v2"
	defaultProviderTimeout       = 10 * time.Second
	defaultInvoiceDuration       = 24 * time.Hour
	defaultTaxBps                = int64(1100)
	defaultDeliveryFee           = int64(15000)
	defaultAdminFee              = int64(5000)
	defaultPollInterval          = 5 * time.Second
	defaultPollMaxAttempts       = 60
	defaultPollTimeout           = 8 * time.Second
	defaultIdempotencyHeader     = "Idempotency-Key"
	defaultIdempotencyTTL        = 24 * time.Hour
	defaultIdempotencyInterval   = time.Hour
	defaultIdempotencyBatchSize  = 200
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Provider    ProviderConfig
	Stripe      StripeConfig
	Pricing     PricingConfig
	Webhooks    WebhookConfig
	Polling     PollingConfig
	PubSub      PubSubConfig
	RateLimits  RateLimitConfig
	Features    FeatureFlags
	Idempotency IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirebaseConfig stores Firebase project settings used for operator auth.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// ProviderConfig collects settings for the hosted-invoice payment provider.
type ProviderConfig struct {
	BaseURL string
	APIKey  string
	// CallbackToken is echoed by the provider on webhook deliveries and
	// verified before any payload is trusted.
	CallbackToken   string
	Timeout         time.Duration
	InvoiceDuration time.Duration
}

// StripeConfig collects settings for the Stripe checkout provider.
type StripeConfig struct {
	APIKey        string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
}

// PricingConfig carries the server-side fee schedule. Tax rate is expressed
// in basis points.
type PricingConfig struct {
	TaxBps      int64
	DeliveryFee int64
	AdminFee    int64
}

// WebhookConfig contains webhook handling parameters.
type WebhookConfig struct {
	// StrictUnknownInvoice returns 404 for callbacks referencing unknown
	// invoices instead of acknowledging them.
	StrictUnknownInvoice bool
	AllowedHosts         []string
}

// PollingConfig controls the background invoice status poller.
type PollingConfig struct {
	Interval    time.Duration
	MaxAttempts int
	Timeout     time.Duration
}

// PubSubConfig configures the order event notifier.
type PubSubConfig struct {
	ProjectID string
	Topic     string
	Enabled   bool
}

// RateLimitConfig controls request throttling.
type RateLimitConfig struct {
	DefaultPerMinute       int
	AuthenticatedPerMinute int
	WebhookBurst           int
}

// FeatureFlags toggle optional behaviour without redeploying.
type FeatureFlags struct {
	EnablePolling bool
	EnableStripe  bool
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError reports configuration fields that are missing or invalid.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// SecretError describes a failure while resolving one secret reference.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that required secrets resolved to nothing.
// Error output carries hashed identifiers only.
type MissingSecretsError struct {
	secrets []missingSecret
}

type missingSecret struct {
	name     string
	redacted string
}

func (e *MissingSecretsError) Error() string {
	names := e.RedactedNames()
	if len(names) == 0 {
		return "missing required secrets"
	}
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(names, ", "))
}

// RedactedNames returns sorted hashed identifiers of the missing secrets.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil || len(e.secrets) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		out = append(out, secret.redacted)
	}
	sort.Strings(out)
	return out
}

// Names returns the underlying secret identifiers.
func (e *MissingSecretsError) Names() []string {
	if e == nil || len(e.secrets) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		out = append(out, secret.name)
	}
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

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
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap injects an explicit key/value map that takes precedence over
// the system environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv ignores os.Getenv, relying only on maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver sets the resolver used for secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// WithRequiredSecrets marks secret identifiers as mandatory. Identifiers
// match the config field paths recorded by the loader, e.g.
// "Provider.APIKey" or "Stripe.WebhookSecret".
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) { o.requiredSecrets = append(o.requiredSecrets, names...) }
}

// WithPanicOnMissingSecrets causes Load to panic when required secrets are missing.
func WithPanicOnMissingSecrets() Option {
	return func(o *loaderOptions) { o.panicOnMissingSecrets = true }
}

// environment is a merged key lookup over the three sources in precedence
// order: explicit map, then process environment, then .env file.
type environment struct {
	explicit  map[string]string
	useSystem bool
	dotenv    map[string]string
}

func newEnvironment(o loaderOptions) (environment, error) {
	dotenv, err := parseDotEnv(o.envFile)
	if err != nil {
		return environment{}, err
	}
	return environment{explicit: o.envMap, useSystem: o.useSystemEnv, dotenv: dotenv}, nil
}

func (e environment) get(key string) (string, bool) {
	if value, ok := e.explicit[key]; ok {
		return value, true
	}
	if e.useSystem {
		if value, ok := os.LookupEnv(key); ok {
			return value, true
		}
	}
	value, ok := e.dotenv[key]
	return value, ok
}

func (e environment) str(key, fallback string) string {
	if value, ok := e.get(key); ok && value != "" {
		return value
	}
	return fallback
}

func (e environment) duration(key string, fallback time.Duration) time.Duration {
	if value, ok := e.get(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func (e environment) integer(key string, fallback int) int {
	if value, ok := e.get(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func (e environment) integer64(key string, fallback int64) int64 {
	if value, ok := e.get(key); ok && value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func (e environment) boolean(key string, fallback bool) bool {
	if value, ok := e.get(key); ok && value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

func (e environment) csv(key string) []string {
	raw, ok := e.get(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return []string{}
	}
	out := []string{}
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// EnvironmentValues returns the merged key/value map seen by Load, applying
// the same precedence (dotenv < OS env < explicit map). Callers use it to
// bootstrap dependencies before Load runs.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		opt(&options)
	}
	env, err := newEnvironment(options)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string)
	for key, value := range env.dotenv {
		values[key] = value
	}
	if env.useSystem {
		for _, entry := range os.Environ() {
			if key, value, ok := strings.Cut(entry, "="); ok && strings.TrimSpace(key) != "" {
				values[strings.TrimSpace(key)] = value
			}
		}
	}
	for key, value := range env.explicit {
		values[key] = value
	}
	return values, nil
}

// Load assembles the application configuration from defaults, the .env
// file, environment variables, and secret lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
			return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
		}),
	}
	for _, opt := range opts {
		opt(&options)
	}

	env, err := newEnvironment(options)
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
		Provider: ProviderConfig{
			BaseURL:         env.str("API_PROVIDER_BASE_URL", defaultProviderBaseURL),
			APIKey:          env.str("API_PROVIDER_API_KEY", ""),
			CallbackToken:   env.str("API_PROVIDER_CALLBACK_TOKEN", ""),
			Timeout:         env.duration("API_PROVIDER_TIMEOUT", defaultProviderTimeout),
			InvoiceDuration: env.duration("API_PROVIDER_INVOICE_DURATION", defaultInvoiceDuration),
		},
		Stripe: StripeConfig{
			APIKey:        env.str("API_STRIPE_API_KEY", ""),
			WebhookSecret: env.str("API_STRIPE_WEBHOOK_SECRET", ""),
			SuccessURL:    env.str("API_STRIPE_SUCCESS_URL", ""),
			CancelURL:     env.str("API_STRIPE_CANCEL_URL", ""),
		},
		Pricing: PricingConfig{
			TaxBps:      env.integer64("API_PRICING_TAX_BPS", defaultTaxBps),
			DeliveryFee: env.integer64("API_PRICING_DELIVERY_FEE", defaultDeliveryFee),
			AdminFee:    env.integer64("API_PRICING_ADMIN_FEE", defaultAdminFee),
		},
		Webhooks: WebhookConfig{
			StrictUnknownInvoice: env.boolean("API_WEBHOOK_STRICT_UNKNOWN_INVOICE", false),
			AllowedHosts:         env.csv("API_WEBHOOK_ALLOWED_HOSTS"),
		},
		Polling: PollingConfig{
			Interval:    env.duration("API_POLLING_INTERVAL", defaultPollInterval),
			MaxAttempts: env.integer("API_POLLING_MAX_ATTEMPTS", defaultPollMaxAttempts),
			Timeout:     env.duration("API_POLLING_TIMEOUT", defaultPollTimeout),
		},
		PubSub: PubSubConfig{
			ProjectID: env.str("API_PUBSUB_PROJECT_ID", ""),
			Topic:     env.str("API_PUBSUB_ORDER_EVENTS_TOPIC", "order-events"),
			Enabled:   env.boolean("API_PUBSUB_ENABLED", false),
		},
		RateLimits: RateLimitConfig{
			DefaultPerMinute:       env.integer("API_RATELIMIT_DEFAULT_PER_MIN", defaultRateLimitDefault),
			AuthenticatedPerMinute: env.integer("API_RATELIMIT_AUTH_PER_MIN", defaultRateLimitAuth),
			WebhookBurst:           env.integer("API_RATELIMIT_WEBHOOK_BURST", defaultRateLimitWebhookBurst),
		},
		Features: FeatureFlags{
			EnablePolling: env.boolean("API_FEATURE_POLLING", true),
			EnableStripe:  env.boolean("API_FEATURE_STRIPE", false),
		},
		Idempotency: IdempotencyConfig{
			Header:           env.str("API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              env.duration("API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  env.duration("API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: env.integer("API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
	}

	// Firestore inherits the Firebase project; Pub/Sub inherits Firestore's.
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}

	resolved := make(map[string]string)
	for _, target := range []struct {
		name  string
		field *string
	}{
		{"Provider.APIKey", &cfg.Provider.APIKey},
		{"Provider.CallbackToken", &cfg.Provider.CallbackToken},
		{"Stripe.APIKey", &cfg.Stripe.APIKey},
		{"Stripe.WebhookSecret", &cfg.Stripe.WebhookSecret},
	} {
		value, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	if err := cfg.validate(); err != nil {
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

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	ref := strings.TrimSpace(value)
	if rest, ok := strings.CutPrefix(ref, "sm://"); ok {
		ref = "secret://" + rest
	}
	if !strings.HasPrefix(ref, "secret://") {
		return value, nil
	}
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

func (cfg Config) validate() error {
	var missing []string
	require := func(ok bool, field string) {
		if !ok {
			missing = append(missing, field)
		}
	}

	require(cfg.Server.Port != "", "Server.Port")
	require(cfg.Firestore.ProjectID != "", "Firestore.ProjectID")
	require(strings.TrimSpace(cfg.Provider.BaseURL) != "", "Provider.BaseURL")
	require(cfg.Provider.Timeout > 0, "Provider.Timeout")
	require(cfg.Provider.InvoiceDuration > 0, "Provider.InvoiceDuration")
	require(cfg.Pricing.TaxBps >= 0, "Pricing.TaxBps")
	require(cfg.Pricing.DeliveryFee >= 0, "Pricing.DeliveryFee")
	require(cfg.Pricing.AdminFee >= 0, "Pricing.AdminFee")
	require(cfg.Polling.Interval > 0, "Polling.Interval")
	require(cfg.Polling.MaxAttempts > 0, "Polling.MaxAttempts")
	require(strings.TrimSpace(cfg.Idempotency.Header) != "", "Idempotency.Header")
	require(cfg.Idempotency.TTL > 0, "Idempotency.TTL")
	require(cfg.Idempotency.CleanupInterval > 0, "Idempotency.CleanupInterval")
	require(cfg.Idempotency.CleanupBatchSize > 0, "Idempotency.CleanupBatchSize")

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	var missing []missingSecret
	seen := make(map[string]struct{})
	for _, name := range required {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		if _, dup := seen[trimmed]; dup {
			continue
		}
		seen[trimmed] = struct{}{}
		if resolved[trimmed] != "" {
			continue
		}
		sum := sha256.Sum256([]byte(trimmed))
		missing = append(missing, missingSecret{name: trimmed, redacted: hex.EncodeToString(sum[:8])})
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{secrets: missing}
}

func parseDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}

	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", path, err)
	}
	return values, nil
}
