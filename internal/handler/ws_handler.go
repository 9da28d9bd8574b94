package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"tale-server/internal/listener"
	"tale-server/internal/models"
)

const (
	// Время, разрешенное для записи сообщения клиенту.
	writeWait = 10 * time.Second
	// Время, разрешенное для чтения следующего pong сообщения от клиента.
	pongWait = 60 * time.Second
	// Отправлять пинги клиенту с этим периодом. Должно быть меньше pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Максимальный размер сообщения, разрешенный от клиента.
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Типы событий, отправляемых слушателю задачи.
const (
	wsEventUpdate = "update"
	wsEventStall  = "stall"
)

// wsJobEvent — сообщение, доставляемое по WebSocket клиенту задачи.
type wsJobEvent struct {
	Type string                `json:"type"`
	Job  *models.JobStatusView `json:"job,omitempty"`
}

// WebSocketHandler обрабатывает запросы на установку WebSocket соединения
// слушателя задачи. Для каждого соединения поднимается серверный JobListener,
// который транслирует клиенту обновления статуса и stall-сигнал.
type WebSocketHandler struct {
	manager    *ConnectionManager
	querier    listener.StatusQuerier
	subscriber listener.UpdateSubscriber
	logger     zerolog.Logger
}

// NewWebSocketHandler создает новый обработчик WebSocket.
func NewWebSocketHandler(manager *ConnectionManager, querier listener.StatusQuerier, subscriber listener.UpdateSubscriber, logger zerolog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		manager:    manager,
		querier:    querier,
		subscriber: subscriber,
		logger:     logger.With().Str("component", "WebSocketHandler").Logger(),
	}
}

// ServeWS обрабатывает входящий HTTP запрос для WebSocket.
// Задача указывается query-параметром job_id.
func (h *WebSocketHandler) ServeWS(c *gin.Context) {
	jobIDParam := c.Query("job_id")
	jobID, err := uuid.Parse(jobIDParam)
	if err != nil {
		h.logger.Warn().Str("job_id", jobIDParam).Msg("Invalid or missing 'job_id' query parameter")
		c.AbortWithStatusJSON(http.StatusBadRequest, models.ErrorResponse{
			Code: models.ErrCodeBadRequest, Message: "Invalid job_id: must be a UUID",
		})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error().Err(err).Str("jobID", jobID.String()).Msg("Failed to upgrade connection")
		// Не пишем ошибку в ResponseWriter, upgrader уже это сделал
		return
	}

	h.logger.Info().Str("jobID", jobID.String()).Msg("WebSocket connection established")

	client := &Client{
		JobID: jobID.String(),
		Conn:  conn,
		send:  make(chan []byte, 16),
	}
	h.manager.RegisterClient(client)

	// Слушатель живет дольше HTTP-запроса апгрейда, поэтому контекст
	// фоновый; его жизнь завершает readPump при закрытии соединения
	jl := listener.Listen(context.Background(), jobID, h.querier, h.subscriber, listener.Callbacks{
		OnSuccess: func(result models.JobResult) {
			h.sendEvent(jobID, wsJobEvent{Type: wsEventUpdate, Job: &models.JobStatusView{
				ID: jobID, Status: models.JobStatusCompleted, Result: &result,
			}})
		},
		OnFailure: func(errMsg string) {
			h.sendEvent(jobID, wsJobEvent{Type: wsEventUpdate, Job: &models.JobStatusView{
				ID: jobID, Status: models.JobStatusFailed, Error: &errMsg,
			}})
		},
		OnStall: func() {
			h.sendEvent(jobID, wsJobEvent{Type: wsEventStall})
		},
	}, listener.Options{}, nil)

	// Немедленный снимок текущего статуса: клиент не должен ждать первого
	// события, если задача еще pending/processing
	if view, err := h.querier.JobStatus(c.Request.Context(), jobID); err == nil && !view.Status.IsTerminal() {
		h.sendEvent(jobID, wsJobEvent{Type: wsEventUpdate, Job: &view})
	}

	logger := h.logger.With().Str("jobID", jobID.String()).Logger()
	go client.writePump(logger)
	go client.readPump(h.manager, jl, logger)
}

// sendEvent сериализует событие и отправляет его слушателю задачи.
func (h *WebSocketHandler) sendEvent(jobID uuid.UUID, event wsJobEvent) {
	body, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Str("jobID", jobID.String()).Msg("Failed to marshal ws event")
		return
	}
	h.manager.SendToJob(jobID.String(), body)
}

// readPump откачивает сообщения от WebSocket соединения. Клиент ничего
// не присылает, цикл нужен для обработки pong и обнаружения закрытия.
func (c *Client) readPump(manager *ConnectionManager, jl *listener.JobListener, logger zerolog.Logger) {
	defer func() {
		jl.Close()
		manager.UnregisterClient(c.JobID)
		_ = c.Conn.Close()
		logger.Info().Msg("readPump finished")
	}()
	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn().Err(err).Msg("WebSocket read error")
			} else {
				logger.Info().Msg("WebSocket connection closed (expected)")
			}
			break
		}
		logger.Warn().Bytes("message", message).Msg("Received unexpected message from client (ignored)")
	}
}

// writePump откачивает сообщения из канала send в WebSocket соединение.
func (c *Client) writePump(logger zerolog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		logger.Info().Msg("writePump finished")
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				logger.Info().Msg("Send channel closed, sending CloseMessage")
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Error().Err(err).Msg("Failed to write message")
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.Warn().Err(err).Msg("Failed to send ping")
				return
			}
		}
	}
}
