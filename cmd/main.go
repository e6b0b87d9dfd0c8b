package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"bizlink/messaging-service/internal/auth"
	"bizlink/messaging-service/internal/realtime"
	"bizlink/messaging-service/internal/repository"
	"bizlink/messaging-service/internal/rest"
	"bizlink/messaging-service/internal/service"
)

func main() {
	viper.AutomaticEnv()
	viper.SetEnvPrefix("")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("delivery.business_room_fanout", true)
	viper.SetDefault("history.page_size", 50)

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/app/config")

	if err := viper.ReadInConfig(); err != nil {
		logrus.Fatalf("Failed to read config file: %v", err)
	}

	logger := logrus.New()
	logLevel := viper.GetString("logging.level")
	logFormat := viper.GetString("logging.format")

	switch logLevel {
	case "debug":
		logger.SetLevel(logrus.DebugLevel)
	case "info":
		logger.SetLevel(logrus.InfoLevel)
	case "warn":
		logger.SetLevel(logrus.WarnLevel)
	case "error":
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	if logFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{})
	}

	dbHost := viper.GetString("database.host")
	dbPort := viper.GetInt("database.port")
	dbUser := viper.GetString("database.user")
	dbPassword := viper.GetString("database.password")
	dbName := viper.GetString("database.dbname")
	sslmode := viper.GetString("database.sslmode")

	if dbHost == "" {
		dbHost = "localhost"
	}
	if dbPort == 0 {
		dbPort = 5432
	}
	if dbUser == "" {
		dbUser = "postgres"
	}
	if dbPassword == "" {
		dbPassword = "postgres"
	}
	if dbName == "" {
		dbName = "bizlink"
	}
	if sslmode == "" {
		sslmode = "disable"
	}

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		dbUser, dbPassword, dbHost, dbPort, dbName, sslmode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		logger.Fatalf("Failed to ping database: %v", err)
	}

	logger.Info("Connected to PostgreSQL database")

	accountRepo := repository.NewAccountRepository(db)
	conversationRepo := repository.NewConversationRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	businessDir := repository.NewBusinessDirectory(db)

	if err := accountRepo.InitializeTables(); err != nil {
		logger.Fatalf("Failed to initialize account tables: %v", err)
	}
	if err := conversationRepo.InitializeTables(); err != nil {
		logger.Fatalf("Failed to initialize conversation tables: %v", err)
	}
	if err := messageRepo.InitializeTables(); err != nil {
		logger.Fatalf("Failed to initialize message tables: %v", err)
	}

	jwtSecret := viper.GetString("auth.jwt_secret")
	if jwtSecret == "" {
		logger.Fatal("auth.jwt_secret is required")
	}
	verifier := auth.NewVerifier(jwtSecret, accountRepo)

	messagingService := service.NewMessagingService(conversationRepo, messageRepo, businessDir,
		viper.GetInt("history.page_size"), logger)

	presence := realtime.NewPresence()
	deliverer := realtime.NewDeliverer(presence, viper.GetBool("delivery.business_room_fanout"), logger)

	allowedOrigins := viper.GetStringSlice("cors.allowed_origins")
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	wsHandler := realtime.NewHandler(messagingService, verifier, presence, deliverer, allowedOrigins, logger)
	restServer := rest.NewServer(messagingService, verifier, logger)

	router := mux.NewRouter()
	router.HandleFunc("/ws", wsHandler.ServeWS).Methods("GET")
	restServer.Register(router)

	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	port := viper.GetString("server.port")
	if port == "" {
		port = "8090"
	}
	host := viper.GetString("server.host")
	if host == "" {
		host = "0.0.0.0"
	}

	address := net.JoinHostPort(host, port)
	server := &http.Server{
		Addr:    address,
		Handler: c.Handler(router),
	}

	go func() {
		logger.Infof("Starting messaging server on %s", address)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownTimeout := viper.GetDuration("server.shutdown_timeout")
	if shutdownTimeout == 0 {
		shutdownTimeout = 10 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Infof("Server shutdown timeout: %v", err)
	} else {
		logger.Info("Server exited gracefully")
	}
}
