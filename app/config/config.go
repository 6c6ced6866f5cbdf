package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	// this will automatically load your .env file:
	_ "github.com/joho/godotenv/autoload"
)

type Config struct {
	Logs       LogConfig
	Server     ServerConfig
	DB         PostgresConfig
	Auth       AuthConfig
	Clerk      ClerkConfig
	Stripe     StripeConfig
	OpenAI     OpenAIConfig
	Email      EmailConfig
	QuickBooks QuickBooksConfig
	Storage    StorageConfig
	Redis      RedisConfig
	Credits    CreditsConfig
	QueueURL   string
}

type LogConfig struct {
	Style string
	Level string
}

type ServerConfig struct {
	Port        string
	CORSOrigins []string
}

type PostgresConfig struct {
	DatabaseURL string // takes precedence over the discrete fields
	Username    string
	Password    string
	URL         string
	Port        string
	Name        string
	SSLMode     string
}

// DSN returns the lib/pq connection string.
func (p PostgresConfig) DSN() string {
	if p.DatabaseURL != "" {
		return p.DatabaseURL
	}
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s", p.Username, p.Password, p.URL, p.Port, p.Name)
	if p.SSLMode != "" {
		dsn += "?sslmode=" + p.SSLMode
	}
	return dsn
}

type AuthConfig struct {
	Issuer            string
	JWKSURL           string
	AuthorizedParties []string
	AdminUserIDs      []string
}

type ClerkConfig struct {
	WebhookSecret string
}

// CreditPack is a one-off Stripe price that buys top-up credits.
type CreditPack struct {
	PriceID string
	Credits int
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	FrontendURL   string
	// plan name -> recurring price id
	PlanPrices map[string]string
	// pack name -> price and credits
	Packs map[string]CreditPack
}

type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

type EmailConfig struct {
	// Providers lists the send order, e.g. ["resend", "sendgrid"].
	Providers   []string
	SendGridKey string
	ResendKey   string
	FromAddress string
	FromName    string
}

type QuickBooksConfig struct {
	ClientID         string
	ClientSecret     string
	RedirectURL      string
	Environment      string // sandbox | production
	ExpenseAccountID string
}

type StorageConfig struct {
	Bucket   string
	Region   string
	Endpoint string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type CreditsConfig struct {
	WelcomeCredits     int
	LowCreditThreshold int
	PlanAllowances     map[string]int
}

func LoadConfig() (*Config, error) {
	redisDB, err := envInt("REDIS_DB", 0)
	if err != nil {
		return nil, err
	}
	welcome, err := envInt("WELCOME_CREDITS", 5)
	if err != nil {
		return nil, err
	}
	threshold, err := envInt("LOW_CREDIT_THRESHOLD", 3)
	if err != nil {
		return nil, err
	}
	starterAllowance, err := envInt("PLAN_STARTER_ALLOWANCE", 100)
	if err != nil {
		return nil, err
	}
	proAllowance, err := envInt("PLAN_PRO_ALLOWANCE", 500)
	if err != nil {
		return nil, err
	}
	smallPack, err := envInt("STRIPE_PACK_SMALL_CREDITS", 25)
	if err != nil {
		return nil, err
	}
	largePack, err := envInt("STRIPE_PACK_LARGE_CREDITS", 100)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		QueueURL: os.Getenv("QUEUE_URL"),
		Logs: LogConfig{
			Style: os.Getenv("LOG_STYLE"),
			Level: os.Getenv("LOG_LEVEL"),
		},
		Server: ServerConfig{
			Port:        envOr("PORT", "8080"),
			CORSOrigins: envList("CORS_ORIGINS", []string{"*"}),
		},
		DB: PostgresConfig{
			DatabaseURL: os.Getenv("DATABASE_URL"),
			Username:    os.Getenv("POSTGRES_USER"),
			Password:    os.Getenv("POSTGRES_PWD"),
			URL:         os.Getenv("POSTGRES_URL"),
			Port:        envOr("POSTGRES_PORT", "5432"),
			Name:        envOr("POSTGRES_DB", "postgres"),
			SSLMode:     os.Getenv("POSTGRES_SSLMODE"),
		},
		Auth: AuthConfig{
			Issuer:            os.Getenv("CLERK_ISSUER"),
			JWKSURL:           os.Getenv("CLERK_JWKS_URL"),
			AuthorizedParties: envList("CLERK_AUTHORIZED_PARTIES", nil),
			AdminUserIDs:      envList("ADMIN_USER_IDS", nil),
		},
		Clerk: ClerkConfig{
			WebhookSecret: os.Getenv("CLERK_WEBHOOK_SECRET"),
		},
		Stripe: StripeConfig{
			SecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
			WebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
			FrontendURL:   os.Getenv("FRONTEND_URL"),
			PlanPrices: map[string]string{
				"starter": os.Getenv("STRIPE_PRICE_STARTER_MONTHLY"),
				"pro":     os.Getenv("STRIPE_PRICE_PRO_MONTHLY"),
			},
			Packs: map[string]CreditPack{
				"small": {PriceID: os.Getenv("STRIPE_PRICE_PACK_SMALL"), Credits: smallPack},
				"large": {PriceID: os.Getenv("STRIPE_PRICE_PACK_LARGE"), Credits: largePack},
			},
		},
		OpenAI: OpenAIConfig{
			APIKey:  os.Getenv("OPENAI_API_KEY"),
			Model:   envOr("OPENAI_MODEL", "gpt-4o-mini"),
			BaseURL: os.Getenv("OPENAI_BASE_URL"),
		},
		Email: EmailConfig{
			Providers:   envList("EMAIL_PROVIDERS", []string{"resend", "sendgrid"}),
			SendGridKey: os.Getenv("SENDGRID_API_KEY"),
			ResendKey:   os.Getenv("RESEND_API_KEY"),
			FromAddress: os.Getenv("EMAIL_FROM_ADDRESS"),
			FromName:    envOr("EMAIL_FROM_NAME", "DocExtract"),
		},
		QuickBooks: QuickBooksConfig{
			ClientID:         os.Getenv("QB_CLIENT_ID"),
			ClientSecret:     os.Getenv("QB_CLIENT_SECRET"),
			RedirectURL:      os.Getenv("QB_REDIRECT_URL"),
			Environment:      envOr("QB_ENVIRONMENT", "sandbox"),
			ExpenseAccountID: os.Getenv("QB_EXPENSE_ACCOUNT_ID"),
		},
		Storage: StorageConfig{
			Bucket:   os.Getenv("STORAGE_BUCKET"),
			Region:   envOr("STORAGE_REGION", "us-east-1"),
			Endpoint: os.Getenv("STORAGE_ENDPOINT"),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Credits: CreditsConfig{
			WelcomeCredits:     welcome,
			LowCreditThreshold: threshold,
			PlanAllowances: map[string]int{
				"free":    0,
				"starter": starterAllowance,
				"pro":     proAllowance,
			},
		},
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("converting %s to int: %w", key, err)
	}
	return n, nil
}

// envList splits a comma separated variable, dropping empty entries.
func envList(key string, fallback []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
