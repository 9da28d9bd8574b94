package handler

import (
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

// Client — одно WebSocket-соединение, привязанное к одной задаче.
type Client struct {
	JobID string
	Conn  *websocket.Conn
	send  chan []byte // Канал для отправки сообщений этому клиенту
}

// ConnectionManager управляет активными WebSocket-соединениями слушателей
// задач. На одну задачу допускается одно соединение: новое вытесняет старое.
type ConnectionManager struct {
	clients    map[string]*Client // Карта jobID -> Client
	register   chan *Client       // Канал для регистрации нового клиента
	unregister chan string        // Канал для удаления клиента (по jobID)
	mu         sync.RWMutex       // Мьютекс для защиты доступа к clients
}

// NewConnectionManager создает и запускает новый менеджер соединений.
func NewConnectionManager() *ConnectionManager {
	m := &ConnectionManager{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan string),
	}
	go m.run()
	return m
}

// run запускает основной цикл менеджера для обработки регистрации/дерегистрации.
func (m *ConnectionManager) run() {
	log.Println("ConnectionManager запущен")
	for {
		select {
		case client := <-m.register:
			log.Printf("Регистрация клиента: JobID=%s", client.JobID)
			m.mu.Lock()
			// Если слушатель этой задачи уже подключен, закрываем старое соединение
			if oldClient, ok := m.clients[client.JobID]; ok {
				log.Printf("Закрытие старого соединения для JobID=%s", client.JobID)
				close(oldClient.send)
				_ = oldClient.Conn.Close()
			}
			m.clients[client.JobID] = client
			m.mu.Unlock()

		case jobID := <-m.unregister:
			m.mu.Lock()
			if client, ok := m.clients[jobID]; ok {
				log.Printf("Дерегистрация клиента: JobID=%s", jobID)
				delete(m.clients, jobID)
				close(client.send)
				// Соединение закрывается в readPump клиента
			}
			m.mu.Unlock()
		}
	}
}

// RegisterClient регистрирует нового клиента.
func (m *ConnectionManager) RegisterClient(client *Client) {
	m.register <- client
}

// UnregisterClient удаляет клиента.
func (m *ConnectionManager) UnregisterClient(jobID string) {
	m.unregister <- jobID
}

// SendToJob отправляет сообщение слушателю задачи.
// Возвращает true, если слушатель подключен и сообщение поставлено в очередь.
func (m *ConnectionManager) SendToJob(jobID string, message []byte) bool {
	m.mu.RLock()
	client, ok := m.clients[jobID]
	m.mu.RUnlock()

	if !ok {
		log.Printf("Слушатель JobID=%s не подключен", jobID)
		return false
	}
	select {
	case client.send <- message:
		return true
	default:
		// Канал переполнен или закрыт (клиент отключается)
		log.Printf("Не удалось отправить сообщение JobID=%s: очередь переполнена или клиент отключается", jobID)
		return false
	}
}
