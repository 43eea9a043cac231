package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
)

const (
	defaultEnvFile             = ".env"
	defaultPort                = "8080"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 90 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultMaxUploadBytes      = 25 << 20
	defaultStorageDriver       = "gcs"
	defaultCoverFolder         = "covers"
	defaultDocumentFolder      = "documents"
	defaultModerationDriver    = "vertex"
	defaultModerationLocation  = "us-central1"
	defaultModerationModel     = "gemini-1.5-pro"
	defaultModerationTimeout   = 60 * time.Second
	defaultModerationMaxAsset  = 10 << 20
	defaultCatalogPageSize     = 20
	defaultCatalogMaxPageSize  = 100
	defaultRatingsTTL          = 5 * time.Minute
	defaultSubmissionsPerMin   = 6
	defaultPromotionsPerMin    = 30
	defaultRateLimitBurst      = 3
	defaultSecurityEnvironment = "local"
	defaultQuotaTableVersion   = "2024-01"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server     ServerConfig
	Firebase   FirebaseConfig
	Firestore  FirestoreConfig
	Storage    StorageConfig
	Moderation ModerationConfig
	Catalog    CatalogConfig
	Quotas     QuotaConfig
	PSP        PSPConfig
	PubSub     PubSubConfig
	Redis      RedisConfig
	RateLimits RateLimitConfig
	Security   SecurityConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxUploadBytes int64
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

// StorageConfig selects the object storage backend for publication assets.
type StorageConfig struct {
	Driver         string
	AssetsBucket   string
	PublicBaseURL  string
	CoverFolder    string
	DocumentFolder string
	CloudinaryURL  string
	S3             S3Config
}

// S3Config holds credentials for S3 compatible storage.
type S3Config struct {
	Region          string
	Bucket          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// ModerationConfig configures the external content judge.
type ModerationConfig struct {
	Driver        string
	ProjectID     string
	Location      string
	Model         string
	Timeout       time.Duration
	MaxAssetBytes int64
}

// CatalogConfig controls catalog paging and referral links.
type CatalogConfig struct {
	Host            string
	DefaultPageSize int
	MaxPageSize     int
}

// QuotaConfig is the versioned plan-limit table. A limit of zero means unlimited.
type QuotaConfig struct {
	Version string               `json:"version"`
	Tiers   map[string]TierQuota `json:"tiers"`
}

// TierQuota lists the ceilings for a single plan tier.
type TierQuota struct {
	Listings   int `json:"listings"`
	Promotions int `json:"promotions"`
}

// PSPConfig collects secrets for payment providers.
type PSPConfig struct {
	StripeAPIKey string
}

// PubSubConfig names the topic that receives domain events.
type PubSubConfig struct {
	ProjectID   string
	EventsTopic string
}

// RedisConfig configures the rating cache. An empty URL disables caching.
type RedisConfig struct {
	URL        string
	RatingsTTL time.Duration
}

// RateLimitConfig controls request throttling on mutating routes.
type RateLimitConfig struct {
	SubmissionsPerMinute int
	PromotionsPerMinute  int
	Burst                int
}

// SecurityConfig groups deployment level settings.
type SecurityConfig struct {
	Environment string
}

// DefaultQuotaConfig returns the built-in plan table.
func DefaultQuotaConfig() QuotaConfig {
	return QuotaConfig{
		Version: defaultQuotaTableVersion,
		Tiers: map[string]TierQuota{
			"starter": {Listings: 5, Promotions: 10},
			"pro":     {Listings: 25, Promotions: 50},
			"premium": {},
		},
	}
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

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets failed to resolve.
type MissingSecretsError struct {
	names []string
}

// Error implements the error interface.
func (e *MissingSecretsError) Error() string {
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// Names returns the config field names of the missing secrets.
func (e *MissingSecretsError) Names() []string {
	if e == nil {
		return nil
	}
	out := append([]string(nil), e.names...)
	sort.Strings(out)
	return out
}

// RedactedNames returns hashed identifiers safe to print in logs.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil {
		return nil
	}
	out := make([]string, 0, len(e.names))
	for _, name := range e.names {
		out = append(out, redactSecretName(name))
	}
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map. Values in the map take precedence over the system environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets a custom secret resolver used for sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks config fields (e.g. "PSP.StripeAPIKey") that must resolve to a value.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups.
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

	lookup, err := newLookup(options)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Server: ServerConfig{
			Port:           stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:    durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:   durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:    durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			MaxUploadBytes: int64(intWithDefault(lookup, "API_SERVER_MAX_UPLOAD_BYTES", defaultMaxUploadBytes)),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Storage: StorageConfig{
			Driver:         strings.ToLower(stringWithDefault(lookup, "API_STORAGE_DRIVER", defaultStorageDriver)),
			AssetsBucket:   stringWithDefault(lookup, "API_STORAGE_ASSETS_BUCKET", ""),
			PublicBaseURL:  stringWithDefault(lookup, "API_STORAGE_PUBLIC_BASE_URL", ""),
			CoverFolder:    stringWithDefault(lookup, "API_STORAGE_COVER_FOLDER", defaultCoverFolder),
			DocumentFolder: stringWithDefault(lookup, "API_STORAGE_DOCUMENT_FOLDER", defaultDocumentFolder),
			CloudinaryURL:  stringWithDefault(lookup, "API_CLOUDINARY_URL", ""),
			S3: S3Config{
				Region:          stringWithDefault(lookup, "API_S3_REGION", ""),
				Bucket:          stringWithDefault(lookup, "API_S3_BUCKET", ""),
				Endpoint:        stringWithDefault(lookup, "API_S3_ENDPOINT", ""),
				AccessKeyID:     stringWithDefault(lookup, "API_S3_ACCESS_KEY_ID", ""),
				SecretAccessKey: stringWithDefault(lookup, "API_S3_SECRET_ACCESS_KEY", ""),
			},
		},
		Moderation: ModerationConfig{
			Driver:        strings.ToLower(stringWithDefault(lookup, "API_MODERATION_DRIVER", defaultModerationDriver)),
			ProjectID:     stringWithDefault(lookup, "API_MODERATION_PROJECT_ID", ""),
			Location:      stringWithDefault(lookup, "API_MODERATION_LOCATION", defaultModerationLocation),
			Model:         stringWithDefault(lookup, "API_MODERATION_MODEL", defaultModerationModel),
			Timeout:       durationWithDefault(lookup, "API_MODERATION_TIMEOUT", defaultModerationTimeout),
			MaxAssetBytes: int64(intWithDefault(lookup, "API_MODERATION_MAX_ASSET_BYTES", defaultModerationMaxAsset)),
		},
		Catalog: CatalogConfig{
			Host:            strings.TrimRight(stringWithDefault(lookup, "API_CATALOG_HOST", ""), "/"),
			DefaultPageSize: intWithDefault(lookup, "API_CATALOG_DEFAULT_PAGE_SIZE", defaultCatalogPageSize),
			MaxPageSize:     intWithDefault(lookup, "API_CATALOG_MAX_PAGE_SIZE", defaultCatalogMaxPageSize),
		},
		PSP: PSPConfig{
			StripeAPIKey: stringWithDefault(lookup, "API_STRIPE_API_KEY", ""),
		},
		PubSub: PubSubConfig{
			ProjectID:   stringWithDefault(lookup, "API_PUBSUB_PROJECT_ID", ""),
			EventsTopic: stringWithDefault(lookup, "API_PUBSUB_EVENTS_TOPIC", ""),
		},
		Redis: RedisConfig{
			URL:        stringWithDefault(lookup, "API_REDIS_URL", ""),
			RatingsTTL: durationWithDefault(lookup, "API_REDIS_RATINGS_TTL", defaultRatingsTTL),
		},
		RateLimits: RateLimitConfig{
			SubmissionsPerMinute: intWithDefault(lookup, "API_RATE_SUBMISSIONS_PER_MINUTE", defaultSubmissionsPerMin),
			PromotionsPerMinute:  intWithDefault(lookup, "API_RATE_PROMOTIONS_PER_MINUTE", defaultPromotionsPerMin),
			Burst:                intWithDefault(lookup, "API_RATE_BURST", defaultRateLimitBurst),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(stringWithDefault(lookup, "API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
		},
	}

	var invalid []string
	quotas, err := parseQuotaTable(stringWithDefault(lookup, "API_QUOTA_TABLE", ""))
	if err != nil {
		invalid = append(invalid, "Quotas.Tiers")
	}
	cfg.Quotas = quotas

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.Moderation.ProjectID == "" {
		cfg.Moderation.ProjectID = cfg.Firebase.ProjectID
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
		{"Storage.CloudinaryURL", &cfg.Storage.CloudinaryURL},
		{"Storage.S3.SecretAccessKey", &cfg.Storage.S3.SecretAccessKey},
		{"Redis.URL", &cfg.Redis.URL},
	}
	for _, target := range secretFields {
		value, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	if err := validateConfig(cfg, invalid); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		return Config{}, missing
	}

	return cfg, nil
}

func parseQuotaTable(raw string) (QuotaConfig, error) {
	if strings.TrimSpace(raw) == "" {
		return DefaultQuotaConfig(), nil
	}
	var table QuotaConfig
	if err := json.Unmarshal([]byte(raw), &table); err != nil {
		return DefaultQuotaConfig(), fmt.Errorf("config: parse quota table: %w", err)
	}
	normalized := make(map[string]TierQuota, len(table.Tiers))
	for tier, quota := range table.Tiers {
		if quota.Listings < 0 || quota.Promotions < 0 {
			return DefaultQuotaConfig(), fmt.Errorf("config: negative quota for tier %q", tier)
		}
		normalized[strings.ToLower(strings.TrimSpace(tier))] = quota
	}
	table.Tiers = normalized
	if table.Version == "" {
		table.Version = "custom"
	}
	return table, nil
}

func validateConfig(cfg Config, invalid []string) error {
	missing := append([]string(nil), invalid...)

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Server.MaxUploadBytes <= 0 {
		missing = append(missing, "Server.MaxUploadBytes")
	}
	if cfg.Firebase.ProjectID == "" {
		missing = append(missing, "Firebase.ProjectID")
	}
	if cfg.Firestore.ProjectID == "" {
		missing = append(missing, "Firestore.ProjectID")
	}
	if cfg.Catalog.Host == "" {
		missing = append(missing, "Catalog.Host")
	}
	if cfg.Catalog.DefaultPageSize <= 0 {
		missing = append(missing, "Catalog.DefaultPageSize")
	}
	if cfg.Catalog.MaxPageSize < cfg.Catalog.DefaultPageSize {
		missing = append(missing, "Catalog.MaxPageSize")
	}

	switch cfg.Storage.Driver {
	case "gcs":
		if cfg.Storage.AssetsBucket == "" {
			missing = append(missing, "Storage.AssetsBucket")
		}
	case "cloudinary":
		if cfg.Storage.CloudinaryURL == "" {
			missing = append(missing, "Storage.CloudinaryURL")
		}
	case "s3":
		if cfg.Storage.S3.Bucket == "" {
			missing = append(missing, "Storage.S3.Bucket")
		}
		if cfg.Storage.S3.Region == "" {
			missing = append(missing, "Storage.S3.Region")
		}
	case "memory":
		if cfg.Security.Environment == "prod" {
			missing = append(missing, "Storage.Driver")
		}
	default:
		missing = append(missing, "Storage.Driver")
	}

	switch cfg.Moderation.Driver {
	case "vertex":
		if cfg.Moderation.ProjectID == "" {
			missing = append(missing, "Moderation.ProjectID")
		}
		if cfg.Moderation.Location == "" {
			missing = append(missing, "Moderation.Location")
		}
		if cfg.Moderation.Model == "" {
			missing = append(missing, "Moderation.Model")
		}
	default:
		missing = append(missing, "Moderation.Driver")
	}
	if cfg.Moderation.Timeout <= 0 {
		missing = append(missing, "Moderation.Timeout")
	}
	if cfg.Moderation.MaxAssetBytes <= 0 {
		missing = append(missing, "Moderation.MaxAssetBytes")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" || !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	var names []string
	seen := make(map[string]struct{})
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		if resolved[name] == "" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil
	}
	return &MissingSecretsError{names: names}
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}

// EnvironmentValues returns the effective environment after applying the same precedence
// rules as Load (dotenv < OS env < explicit env map).
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		opt(&options)
	}

	values, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	if values == nil {
		values = make(map[string]string)
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if !ok || strings.TrimSpace(key) == "" {
				continue
			}
			values[strings.TrimSpace(key)] = value
		}
	}
	for key, value := range options.envMap {
		values[key] = value
	}
	return values, nil
}
