package listener

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tale-server/internal/models"
)

// Интервалы по умолчанию: поллинг — страховка от потерянных push-событий,
// stall-таймер — порог для совета "это занимает дольше обычного".
const (
	DefaultPollInterval = 4 * time.Second
	DefaultStallAfter   = 60 * time.Second
)

// StatusQuerier выполняет точечный запрос статуса задачи.
// Реализуется репозиторием задач или HTTP-клиентом статусного эндпоинта.
type StatusQuerier interface {
	JobStatus(ctx context.Context, jobID uuid.UUID) (models.JobStatusView, error)
}

// UpdateSubscriber открывает push-подписку на обновления одной задачи.
// Реализуется messaging.RedisJobUpdates.
type UpdateSubscriber interface {
	Subscribe(ctx context.Context, jobID uuid.UUID) (<-chan models.JobStatusView, func(), error)
}

// Callbacks — реакции слушателя. Ровно один из OnSuccess/OnFailure будет
// вызван ровно один раз. OnStall — совещательный сигнал, он не останавливает
// ожидание и тоже вызывается не более одного раза.
type Callbacks struct {
	OnSuccess func(result models.JobResult)
	OnFailure func(errMsg string)
	OnStall   func()
}

// Options настраивает интервалы слушателя. Нулевые значения заменяются
// значениями по умолчанию.
type Options struct {
	PollInterval time.Duration
	StallAfter   time.Duration
}

// JobListener наблюдает за одной задачей по двум независимым каналам
// (push-подписка и поллинг) и гарантирует ровно одно срабатывание
// финального колбэка. Владеет всеми своими ресурсами: подпиской, тикером
// поллинга и stall-таймером; Close освобождает их разом.
type JobListener struct {
	jobID      uuid.UUID
	querier    StatusQuerier
	subscriber UpdateSubscriber
	callbacks  Callbacks
	logger     *zap.Logger

	pollInterval time.Duration

	mu      sync.Mutex
	settled bool
	stalled bool

	cancel      context.CancelFunc
	stallTimer  *time.Timer
	unsubscribe func()
	wg          sync.WaitGroup
	closeOnce   sync.Once
}

// Listen создает слушатель и немедленно запускает все три источника
// сигналов: начальный запрос статуса, push-подписку и поллинг. Ошибка
// открытия подписки не фатальна — поллинг остаётся рабочим каналом.
func Listen(ctx context.Context, jobID uuid.UUID, querier StatusQuerier, subscriber UpdateSubscriber, callbacks Callbacks, opts Options, logger *zap.Logger) *JobListener {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.StallAfter <= 0 {
		opts.StallAfter = DefaultStallAfter
	}

	runCtx, cancel := context.WithCancel(ctx)
	l := &JobListener{
		jobID:        jobID,
		querier:      querier,
		subscriber:   subscriber,
		callbacks:    callbacks,
		logger:       logger.Named("JobListener").With(zap.String("jobID", jobID.String())),
		pollInterval: opts.PollInterval,
		cancel:       cancel,
	}

	// Push-подписка открывается до начального запроса: обновление,
	// пришедшее между запросом и подпиской, иначе было бы потеряно
	// до следующего тика поллинга
	if subscriber != nil {
		updates, unsubscribe, err := subscriber.Subscribe(runCtx, jobID)
		if err != nil {
			l.logger.Warn("Не удалось открыть push-подписку, остаётся только поллинг", zap.Error(err))
		} else {
			l.unsubscribe = unsubscribe
			l.wg.Add(1)
			go l.consumePush(updates)
		}
	}

	l.stallTimer = time.AfterFunc(opts.StallAfter, l.onStallTimer)

	l.wg.Add(1)
	go l.pollLoop(runCtx)

	return l
}

// consumePush читает push-обновления до закрытия подписки.
func (l *JobListener) consumePush(updates <-chan models.JobStatusView) {
	defer l.wg.Done()
	for view := range updates {
		l.observe(view)
	}
}

// pollLoop выполняет начальный запрос и далее опрашивает статус по тикеру.
// Начальный запрос покрывает случай, когда задача завершилась до того,
// как слушатель подключился.
func (l *JobListener) pollLoop(ctx context.Context) {
	defer l.wg.Done()

	l.queryOnce(ctx)

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if l.Settled() {
				return
			}
			l.queryOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// queryOnce выполняет один точечный запрос статуса. Транзиентная ошибка
// запроса не является отказом задачи: молча ждём следующего тика.
func (l *JobListener) queryOnce(ctx context.Context) {
	view, err := l.querier.JobStatus(ctx, l.jobID)
	if err != nil {
		if ctx.Err() == nil {
			l.logger.Debug("Ошибка запроса статуса, повтор на следующем тике", zap.Error(err))
		}
		return
	}
	l.observe(view)
}

// observe обрабатывает одно наблюдение статуса из любого источника.
// Все источники равноправны: первым увидевший финальный статус
// переключает settled и вызывает колбэк, остальные становятся no-op.
func (l *JobListener) observe(view models.JobStatusView) {
	if !view.Status.IsTerminal() {
		return
	}

	l.mu.Lock()
	if l.settled {
		l.mu.Unlock()
		return
	}
	l.settled = true
	l.mu.Unlock()

	l.stallTimer.Stop()
	l.logger.Info("Задача завершилась", zap.String("status", string(view.Status)))

	switch view.Status {
	case models.JobStatusCompleted:
		if l.callbacks.OnSuccess != nil {
			var result models.JobResult
			if view.Result != nil {
				result = *view.Result
			}
			l.callbacks.OnSuccess(result)
		}
	case models.JobStatusFailed:
		if l.callbacks.OnFailure != nil {
			errMsg := ""
			if view.Error != nil {
				errMsg = *view.Error
			}
			l.callbacks.OnFailure(errMsg)
		}
	}
}

// onStallTimer срабатывает один раз по истечении порога ожидания.
func (l *JobListener) onStallTimer() {
	l.mu.Lock()
	if l.settled || l.stalled {
		l.mu.Unlock()
		return
	}
	l.stalled = true
	l.mu.Unlock()

	l.logger.Info("Задача обрабатывается дольше ожидаемого")
	if l.callbacks.OnStall != nil {
		l.callbacks.OnStall()
	}
}

// Settled возвращает true, если финальный колбэк уже был вызван.
func (l *JobListener) Settled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.settled
}

// Stalled возвращает true, если порог ожидания был превышен.
func (l *JobListener) Stalled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stalled
}

// Close освобождает все ресурсы слушателя: поллинг, stall-таймер и
// push-подписку, независимо от того, завершилась ли задача. Сама задача
// продолжает выполняться на сервере.
func (l *JobListener) Close() {
	l.closeOnce.Do(func() {
		l.cancel()
		l.stallTimer.Stop()
		if l.unsubscribe != nil {
			l.unsubscribe()
		}
		l.wg.Wait()
	})
}
