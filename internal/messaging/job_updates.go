package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tale-server/internal/models"
)

// jobUpdateChannel возвращает имя Redis-канала для обновлений одной задачи.
func jobUpdateChannel(jobID uuid.UUID) string {
	return "job_updates:" + jobID.String()
}

// RedisJobUpdates — push-канал обновлений статуса задач поверх Redis pub/sub.
// Доставка best-effort: подписчик, пропустивший сообщение, добирает статус
// поллингом, поэтому никакой буферизации и подтверждений здесь нет.
type RedisJobUpdates struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisJobUpdates создает канал обновлений задач.
func NewRedisJobUpdates(client *redis.Client, logger *zap.Logger) *RedisJobUpdates {
	if logger == nil {
		panic("Logger is nil for RedisJobUpdates")
	}
	return &RedisJobUpdates{
		client: client,
		logger: logger.Named("JobUpdates"),
	}
}

// NotifyJobUpdate публикует статус задачи в её канал.
func (r *RedisJobUpdates) NotifyJobUpdate(ctx context.Context, view models.JobStatusView) error {
	body, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("ошибка сериализации статуса задачи %s: %w", view.ID, err)
	}
	channel := jobUpdateChannel(view.ID)
	if err := r.client.Publish(ctx, channel, body).Err(); err != nil {
		r.logger.Error("Ошибка публикации обновления задачи",
			zap.String("channel", channel), zap.Error(err))
		return fmt.Errorf("ошибка публикации в канал %s: %w", channel, err)
	}
	r.logger.Debug("Обновление задачи опубликовано",
		zap.String("jobID", view.ID.String()), zap.String("status", string(view.Status)))
	return nil
}

// Subscribe подписывается на обновления одной задачи. Возвращает канал
// распарсенных обновлений и функцию отписки. Сообщения, которые не удалось
// разобрать, пропускаются: поллинг слушателя их компенсирует.
func (r *RedisJobUpdates) Subscribe(ctx context.Context, jobID uuid.UUID) (<-chan models.JobStatusView, func(), error) {
	pubsub := r.client.Subscribe(ctx, jobUpdateChannel(jobID))
	// Дожидаемся подтверждения подписки, чтобы после возврата из Subscribe
	// обновления уже не терялись
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("ошибка подписки на канал задачи %s: %w", jobID, err)
	}

	out := make(chan models.JobStatusView)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			var view models.JobStatusView
			if err := json.Unmarshal([]byte(msg.Payload), &view); err != nil {
				r.logger.Warn("Не удалось разобрать обновление задачи, сообщение пропущено",
					zap.String("jobID", jobID.String()), zap.Error(err))
				continue
			}
			select {
			case out <- view:
			case <-ctx.Done():
				return
			}
		}
	}()

	unsubscribe := func() {
		if err := pubsub.Close(); err != nil {
			r.logger.Warn("Ошибка закрытия подписки", zap.String("jobID", jobID.String()), zap.Error(err))
		}
	}
	return out, unsubscribe, nil
}
