package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// JobConsumer потребляет триггеры задач генерации из RabbitMQ
// и передает их обработчику по одному (prefetch=1).
type JobConsumer struct {
	conn      *amqp.Connection
	queueName string
	logger    *zap.Logger
	done      chan struct{}
	channel   *amqp.Channel
}

// NewJobConsumer создает консьюмер очереди задач генерации.
func NewJobConsumer(conn *amqp.Connection, queueName string, logger *zap.Logger) *JobConsumer {
	if logger == nil {
		panic("Logger is nil for JobConsumer")
	}
	return &JobConsumer{
		conn:      conn,
		queueName: queueName,
		logger:    logger.Named("JobConsumer"),
		done:      make(chan struct{}),
	}
}

// Start объявляет топологию (DLX, DLQ, основную очередь) и запускает
// горутину потребления. handle вызывается для каждого сообщения.
func (c *JobConsumer) Start(ctx context.Context, handle func(ctx context.Context, payload GenerationJobPayload) error) error {
	var err error
	c.channel, err = c.conn.Channel()
	if err != nil {
		c.logger.Error("Не удалось открыть канал для консьюмера задач", zap.Error(err))
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := c.declareTopology(); err != nil {
		_ = c.channel.Close()
		return err
	}

	// Одна задача генерации за раз: вызов AI долгий, копить prefetch незачем
	if err := c.channel.Qos(1, 0, false); err != nil {
		_ = c.channel.Close()
		c.logger.Error("Не удалось установить QoS", zap.Error(err))
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := c.channel.Consume(c.queueName, "", false, false, false, false, nil)
	if err != nil {
		_ = c.channel.Close()
		c.logger.Error("Не удалось зарегистрировать консьюмера", zap.Error(err), zap.String("queue", c.queueName))
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("Консьюмер задач генерации запущен, ожидание сообщений...", zap.String("queue", c.queueName))

	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("Panic recovered in job consumer goroutine", zap.Any("panic", r))
			}
			c.logger.Info("Горутина консьюмера задач останавливается...")
			close(c.done)
		}()

		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					c.logger.Info("Канал сообщений закрыт, горутина консьюмера завершается.")
					return
				}
				c.handleDelivery(ctx, msg, handle)
			case <-ctx.Done():
				c.logger.Info("Контекст отменен, консьюмер задач останавливается.")
				return
			}
		}
	}()

	return nil
}

// handleDelivery разбирает одно сообщение и подтверждает/отклоняет его.
func (c *JobConsumer) handleDelivery(ctx context.Context, msg amqp.Delivery, handle func(ctx context.Context, payload GenerationJobPayload) error) {
	var payload GenerationJobPayload
	if err := json.Unmarshal(msg.Body, &payload); err != nil {
		c.logger.Error("Ошибка десериализации триггера задачи, сообщение отклонено (nack, no requeue)",
			zap.Error(err), zap.ByteString("body", msg.Body))
		_ = msg.Nack(false, false)
		return
	}

	if err := handle(ctx, payload); err != nil {
		// Requeue=false: повторная доставка 'плохой' задачи даст тот же
		// результат, сообщение уходит в DLQ
		c.logger.Error("Ошибка обработки задачи, сообщение отклонено (nack, no requeue)",
			zap.String("jobID", payload.JobID.String()), zap.Error(err))
		_ = msg.Nack(false, false)
		return
	}

	c.logger.Debug("Задача обработана, сообщение подтверждено (ack)", zap.String("jobID", payload.JobID.String()))
	_ = msg.Ack(false)
}

// declareTopology объявляет DLX, DLQ и основную очередь задач.
func (c *JobConsumer) declareTopology() error {
	if err := c.channel.ExchangeDeclare(DeadLetterExchange, "direct", true, false, false, false, nil); err != nil {
		c.logger.Error("Не удалось объявить DLX", zap.Error(err), zap.String("exchange", DeadLetterExchange))
		return fmt.Errorf("failed to declare DLX: %w", err)
	}

	dlqName := c.queueName + "_dlq"
	if _, err := c.channel.QueueDeclare(dlqName, true, false, false, false, nil); err != nil {
		c.logger.Error("Не удалось объявить DLQ", zap.Error(err), zap.String("queue", dlqName))
		return fmt.Errorf("failed to declare DLQ '%s': %w", dlqName, err)
	}
	if err := c.channel.QueueBind(dlqName, DeadLetterRoutingKey, DeadLetterExchange, false, nil); err != nil {
		c.logger.Error("Не удалось связать DLQ с DLX", zap.Error(err))
		return fmt.Errorf("failed to bind DLQ: %w", err)
	}

	args := amqp.Table{
		"x-queue-mode":              "lazy",
		"x-dead-letter-exchange":    DeadLetterExchange,
		"x-dead-letter-routing-key": DeadLetterRoutingKey,
	}
	if _, err := c.channel.QueueDeclare(c.queueName, true, false, false, false, args); err != nil {
		c.logger.Error("Не удалось объявить очередь задач", zap.Error(err), zap.String("queue", c.queueName))
		return fmt.Errorf("failed to declare queue '%s': %w", c.queueName, err)
	}

	c.logger.Info("Топология очередей объявлена",
		zap.String("queue", c.queueName), zap.String("dlq", dlqName), zap.String("dlx", DeadLetterExchange))
	return nil
}

// Stop останавливает консьюмер, дожидаясь завершения горутины.
func (c *JobConsumer) Stop() error {
	c.logger.Info("Остановка консьюмера задач...")
	if c.channel != nil {
		if err := c.channel.Cancel("", false); err != nil {
			c.logger.Error("Ошибка отмены подписки консьюмера", zap.Error(err))
		}
	}

	select {
	case <-c.done:
		c.logger.Info("Горутина консьюмера завершилась.")
	case <-time.After(5 * time.Second):
		c.logger.Warn("Таймаут ожидания завершения горутины консьюмера.")
	}

	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			c.logger.Warn("Ошибка закрытия канала консьюмера", zap.Error(err))
		}
	}
	c.logger.Info("Консьюмер задач остановлен.")
	return nil
}
