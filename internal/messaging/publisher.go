package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Имена DLX/DLQ для очереди задач генерации. Должны совпадать у паблишера
// и консьюмера.
const (
	DeadLetterExchange   = "story_generation_jobs_dlx"
	DeadLetterRoutingKey = "dlq"
)

// JobPublisher публикует триггеры задач генерации в очередь воркера.
type JobPublisher interface {
	PublishGenerationJob(ctx context.Context, payload GenerationJobPayload) error
}

// rabbitMQJobPublisher реализует JobPublisher поверх RabbitMQ.
type rabbitMQJobPublisher struct {
	channel   *amqp.Channel
	queueName string
}

// NewRabbitMQJobPublisher создает паблишер триггеров. Очередь объявляется
// с теми же аргументами, что у консьюмера, чтобы порядок запуска сервисов
// не имел значения.
func NewRabbitMQJobPublisher(conn *amqp.Connection, queueName string) (JobPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("job publisher: не удалось открыть канал: %w", err)
	}
	args := amqp.Table{
		"x-queue-mode":              "lazy",
		"x-dead-letter-exchange":    DeadLetterExchange,
		"x-dead-letter-routing-key": DeadLetterRoutingKey,
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, args); err != nil {
		log.Printf("JobPublisher ERROR: Не удалось объявить очередь '%s': %v", queueName, err)
		ch.Close()
		return nil, fmt.Errorf("job publisher: не удалось объявить очередь '%s': %w", queueName, err)
	}
	log.Printf("JobPublisher: Очередь '%s' успешно объявлена/найдена.", queueName)
	return &rabbitMQJobPublisher{channel: ch, queueName: queueName}, nil
}

// PublishGenerationJob отправляет триггер обработки задачи в очередь.
func (p *rabbitMQJobPublisher) PublishGenerationJob(ctx context.Context, payload GenerationJobPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[JobID: %s] Ошибка сериализации GenerationJobPayload: %v", payload.JobID, err)
		return fmt.Errorf("ошибка сериализации триггера задачи %s: %w", payload.JobID, err)
	}
	if err := p.publishMessage(ctx, body); err != nil {
		log.Printf("[JobID: %s] Ошибка публикации триггера задачи: %v", payload.JobID, err)
		return fmt.Errorf("ошибка публикации триггера задачи %s: %w", payload.JobID, err)
	}
	return nil
}

// publishMessage публикует сообщение с несколькими попытками.
func (p *rabbitMQJobPublisher) publishMessage(ctx context.Context, body []byte) error {
	if p.channel == nil {
		return errors.New("канал RabbitMQ не инициализирован")
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var err error
	for attempt := 1; attempt <= 3; attempt++ {
		err = p.channel.PublishWithContext(ctx,
			"",          // exchange (default)
			p.queueName, // routing key
			false,       // mandatory
			false,       // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				Body:         body,
				Timestamp:    time.Now(),
				AppId:        "tale-server",
			},
		)
		if err == nil {
			return nil
		}
		log.Printf("Ошибка публикации (attempt %d) в очередь '%s': %v", attempt, p.queueName, err)
		time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
	}
	return fmt.Errorf("ошибка публикации в очередь %s после retries: %w", p.queueName, err)
}
