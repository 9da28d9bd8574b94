package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tale-server/internal/config"
	"tale-server/internal/messaging"
	"tale-server/internal/repository"
	"tale-server/internal/service"
	"tale-server/internal/worker"
	appLogger "tale-server/pkg/logger"
)

func main() {
	log.Println("Запуск воркера генерации историй...")

	if err := godotenv.Load(); err == nil {
		log.Println("Загружен файл .env")
	}

	cfg, err := config.LoadWorkerConfig()
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	logger, err := appLogger.New(appLogger.Config{
		Level:    cfg.LogLevel,
		Encoding: "json",
	})
	if err != nil {
		log.Fatalf("Ошибка инициализации логгера: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	// HTTP-сервер метрик Prometheus и health-чека
	startMetricsServer(cfg.MetricsPort)

	log.Println("Инициализация AI клиента...")
	aiClient, err := service.NewAIClient(cfg)
	if err != nil {
		log.Fatalf("Ошибка инициализации AI клиента: %v", err)
	}

	log.Println("Подключение к PostgreSQL...")
	dbPool, err := setupDatabase(cfg)
	if err != nil {
		log.Fatalf("Не удалось подключиться к базе данных: %v", err)
	}
	defer dbPool.Close()
	log.Println("Успешное подключение к PostgreSQL")

	log.Println("Подключение к Redis...")
	redisClient, err := setupRedis(cfg)
	if err != nil {
		log.Fatalf("Не удалось подключиться к Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Успешное подключение к Redis")

	conn, err := connectRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Не удалось подключиться к RabbitMQ: %v", err)
	}
	defer conn.Close()
	log.Println("Успешное подключение к RabbitMQ")

	// Инициализация зависимостей воркера
	jobRepo := repository.NewPgJobRepository(dbPool, logger)
	storyRepo := repository.NewPgStoryRepository(dbPool, logger)
	partRepo := repository.NewPgStoryPartRepository(dbPool, logger)
	userRepo := repository.NewPgUserRepository(dbPool, logger)
	notifier := messaging.NewRedisJobUpdates(redisClient, logger)

	jobHandler := worker.NewJobHandler(cfg, aiClient, jobRepo, storyRepo, partRepo, userRepo, notifier)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumer := messaging.NewJobConsumer(conn, cfg.GenerationJobQueue, logger)
	err = consumer.Start(ctx, func(ctx context.Context, payload messaging.GenerationJobPayload) error {
		return jobHandler.Process(ctx, payload.JobID)
	})
	if err != nil {
		log.Fatalf("Не удалось запустить консьюмер задач: %v", err)
	}

	log.Println(" [*] Ожидание задач генерации. Для выхода нажмите CTRL+C")

	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, syscall.SIGINT, syscall.SIGTERM)
	<-stopChan

	log.Println("Получен сигнал завершения. Завершение работы...")
	cancel()
	if err := consumer.Stop(); err != nil {
		log.Printf("Ошибка остановки консьюмера: %v", err)
	}

	log.Println("Воркер генерации историй остановлен.")
}

// startMetricsServer запускает HTTP-сервер для эндпоинтов /metrics и /health.
func startMetricsServer(port string) {
	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "ok"}`))
	})

	go func() {
		log.Printf("Запуск HTTP-сервера метрик Prometheus на :%s...", port)
		if err := http.ListenAndServe(":"+port, nil); err != nil {
			log.Fatalf("Ошибка запуска HTTP-сервера метрик: %v", err)
		}
	}()
}

// setupDatabase инициализирует и возвращает пул соединений с БД.
func setupDatabase(cfg *config.WorkerConfig) (*pgxpool.Pool, error) {
	poolConfig, parseErr := pgxpool.ParseConfig(cfg.GetDSN())
	if parseErr != nil {
		return nil, fmt.Errorf("ошибка парсинга DSN: %w", parseErr)
	}
	poolConfig.MaxConns = int32(cfg.DBMaxConns)

	var dbPool *pgxpool.Pool
	var err error
	maxRetries := 50
	retryDelay := 3 * time.Second

	for i := 0; i < maxRetries; i++ {
		attempt := i + 1
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)

		dbPool, err = pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			log.Printf("[Попытка %d/%d] Не удалось создать пул соединений: %v", attempt, maxRetries, err)
			cancel()
			if i < maxRetries-1 {
				time.Sleep(retryDelay)
			}
			continue
		}

		if err = dbPool.Ping(ctx); err != nil {
			log.Printf("[Попытка %d/%d] Не удалось выполнить ping к PostgreSQL: %v", attempt, maxRetries, err)
			dbPool.Close()
			cancel()
			if i < maxRetries-1 {
				time.Sleep(retryDelay)
			}
			continue
		}

		cancel()
		log.Printf("Успешное подключение и ping к PostgreSQL (попытка %d)", attempt)
		return dbPool, nil
	}

	return nil, fmt.Errorf("не удалось подключиться к БД после %d попыток: %w", maxRetries, err)
}

// setupRedis инициализирует клиент Redis с повторными попытками.
func setupRedis(cfg *config.WorkerConfig) (*redis.Client, error) {
	opts := &redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	}

	var lastErr error
	maxRetries := 50
	retryDelay := 3 * time.Second

	for i := 0; i < maxRetries; i++ {
		attempt := i + 1
		client := redis.NewClient(opts)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, err := client.Ping(ctx).Result()
		cancel()
		if err == nil {
			log.Printf("Успешное подключение и ping к Redis (попытка %d)", attempt)
			return client, nil
		}

		client.Close()
		lastErr = err
		log.Printf("[Попытка %d/%d] Не удалось выполнить ping к Redis: %v", attempt, maxRetries, err)
		if i < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}

	return nil, fmt.Errorf("не удалось подключиться к Redis после %d попыток: %w", maxRetries, lastErr)
}

// connectRabbitMQ пытается подключиться к RabbitMQ с несколькими попытками.
func connectRabbitMQ(url string) (*amqp.Connection, error) {
	var conn *amqp.Connection
	var err error
	maxRetries := 50
	retryDelay := 3 * time.Second

	for i := 0; i < maxRetries; i++ {
		attempt := i + 1
		conn, err = amqp.Dial(url)
		if err == nil {
			log.Printf("Успешное подключение к RabbitMQ (попытка %d)", attempt)
			return conn, nil
		}
		log.Printf("[Попытка %d/%d] Не удалось подключиться к RabbitMQ: %v", attempt, maxRetries, err)
		if i < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}

	return nil, fmt.Errorf("не удалось подключиться к RabbitMQ после %d попыток: %w", maxRetries, err)
}
