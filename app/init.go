package app

import (
	"context"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"

	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/app/config"
	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/extractor"
	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/logger"
	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/mailer"
	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/quickbooks"
	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/storage"
)

type documentExtractor interface {
	Extract(ctx context.Context, pdf []byte) (extractor.Result, error)
}

type objectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Integrations are package globals, set once by Init and swapped by tests.
var (
	appConfig *config.Config
	mail      mailer.Sender
	extract   documentExtractor
	store     objectStore
	queue     jobQueue
	states    stateStore = newMemoryStateStore()
	qbOAuth   *quickbooks.OAuth
	qbBaseURL = quickbooks.SandboxBaseURL
)

var (
	loadOnce   sync.Once
	loadedConf *config.Config
)

// conf returns the configuration passed to Init, or the environment
// configuration for callers that never ran Init.
func conf() *config.Config {
	if appConfig != nil {
		return appConfig
	}
	loadOnce.Do(func() {
		cfg, err := config.LoadConfig()
		if err != nil {
			logger.Get().Warn("config load failed, using zero config", zap.Error(err))
			cfg = &config.Config{}
		}
		loadedConf = cfg
	})
	return loadedConf
}

// Init wires Stripe, email, extraction, storage, queue and QuickBooks
// from cfg. Missing optional integrations are logged and left unset.
func Init(ctx context.Context, cfg *config.Config) error {
	appConfig = cfg
	log := logger.Get()

	InitStripe(cfg)

	if m, err := mailer.New(mailer.Options{
		Providers:   cfg.Email.Providers,
		SendGridKey: cfg.Email.SendGridKey,
		ResendKey:   cfg.Email.ResendKey,
		From:        mailer.Address{Email: cfg.Email.FromAddress, Name: cfg.Email.FromName},
	}); err != nil {
		log.Warn("email disabled", zap.Error(err))
	} else {
		mail = m
	}

	if x, err := extractor.New(extractor.Config{
		APIKey:  cfg.OpenAI.APIKey,
		Model:   cfg.OpenAI.Model,
		BaseURL: cfg.OpenAI.BaseURL,
	}); err != nil {
		log.Warn("extraction disabled", zap.Error(err))
	} else {
		extract = x
	}

	if cfg.Storage.Bucket != "" {
		s, err := storage.NewS3(ctx, storage.Config{
			Bucket:   cfg.Storage.Bucket,
			Region:   cfg.Storage.Region,
			Endpoint: cfg.Storage.Endpoint,
		})
		if err != nil {
			return err
		}
		store = s
	} else {
		log.Warn("STORAGE_BUCKET not set, keeping documents in memory")
		store = storage.NewMemory()
	}

	if cfg.QueueURL != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return err
		}
		queue = NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.QueueURL)
	}

	if cfg.Redis.Addr != "" {
		rs, err := newRedisStateStore(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Warn("redis unavailable, oauth state kept in memory", zap.Error(err))
		} else {
			states = rs
		}
	}

	if cfg.QuickBooks.ClientID != "" {
		qbOAuth = quickbooks.NewOAuth(quickbooks.OAuthConfig{
			ClientID:     cfg.QuickBooks.ClientID,
			ClientSecret: cfg.QuickBooks.ClientSecret,
			RedirectURL:  cfg.QuickBooks.RedirectURL,
		})
		qbBaseURL = quickbooks.BaseURL(cfg.QuickBooks.Environment)
	}

	log.Info("integrations initialized",
		zap.Bool("email", mail != nil),
		zap.Bool("extraction", extract != nil),
		zap.Bool("queue", queue != nil),
		zap.Bool("quickbooks", qbOAuth != nil),
	)
	return nil
}

// storageKey is where a user's upload lives in the bucket.
func storageKey(userID, documentID string) string {
	return "documents/" + userID + "/" + documentID + ".pdf"
}
