package main

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/justinas/alice"
	"github.com/rs/zerolog/log"

	"zapcrm/config"
	"zapcrm/internal/db"
	"zapcrm/internal/handlers"
	"zapcrm/internal/models"
	"zapcrm/internal/notify"
	"zapcrm/internal/services"
	"zapcrm/internal/storage"
	"zapcrm/pkg/logger"

	"zapcrm/internal/adapters/provider"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger.Init(cfg.LogLevel, cfg.LogFormat)

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	if err := db.Migrate(conn, models.All()...); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	var media *services.MediaService
	if cfg.ProviderBaseURL != "" && cfg.S3Bucket != "" {
		providerClient, err := provider.NewClient(cfg.ProviderBaseURL, cfg.ProviderAPIKey)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize provider client")
		}
		store, err := storage.NewS3Store(storage.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			PathStyle: cfg.S3PathStyle,
			PublicURL: cfg.S3PublicURL,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize S3 store")
		}
		media = services.NewMediaService(providerClient, store)
	} else {
		log.Warn().Msg("Provider or S3 not configured, media and avatars will degrade to placeholders")
	}

	notifier := notify.NewNotifier(cfg.RabbitMQURL, cfg.RabbitMQQueue)

	server := handlers.NewServer(
		conn,
		services.NewDedupService(conn),
		services.NewInstanceRegistry(conn),
		services.NewContactResolver(conn, media),
		services.NewConversationResolver(conn),
		services.NewMessageWriter(conn),
		media,
		notifier,
	)

	chain := alice.New(handlers.Recoverer, handlers.RequestLogger)

	router := mux.NewRouter()
	router.Handle("/webhooks/whatsapp/{workspaceID}", chain.Then(server.Webhook())).Methods(http.MethodPost)
	router.Handle("/health", chain.Then(server.Health())).Methods(http.MethodGet)

	log.Info().Str("port", cfg.Port).Msg("Server starting")
	if err := http.ListenAndServe(":"+cfg.Port, router); err != nil {
		log.Fatal().Err(err).Msg("Failed to start server")
	}
}
