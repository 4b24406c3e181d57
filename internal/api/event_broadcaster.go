package api

import (
	"encoding/json"
	"log"
	"sync"
)

// イベント種別
const (
	EventMessage = "message"
	EventToken   = "token"
	EventDone    = "done"
	EventError   = "error"
)

// Event はServer-Sent Eventを表す
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// EventBroadcaster はSSEクライアントを管理し、ペルソナ単位でイベントをブロードキャストする
type EventBroadcaster struct {
	mu      sync.RWMutex
	clients map[string]map[chan Event]struct{} // personaID -> clients
}

// NewEventBroadcaster は新しいイベントブロードキャスターを作成する
func NewEventBroadcaster() *EventBroadcaster {
	return &EventBroadcaster{
		clients: make(map[string]map[chan Event]struct{}),
	}
}

// Subscribe はペルソナのイベントを受信するクライアントを追加する
func (b *EventBroadcaster) Subscribe(personaID string) chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 10) // バッファ付きチャネル

	if b.clients[personaID] == nil {
		b.clients[personaID] = make(map[chan Event]struct{})
	}
	b.clients[personaID][ch] = struct{}{}

	log.Printf("[SSE] Client subscribed persona_id=%s total_clients=%d",
		personaID, len(b.clients[personaID]))

	return ch
}

// Unsubscribe はクライアントのイベント受信を解除する
func (b *EventBroadcaster) Unsubscribe(personaID string, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if clients, ok := b.clients[personaID]; ok {
		if _, subscribed := clients[ch]; subscribed {
			delete(clients, ch)
			close(ch)
		}
		if len(clients) == 0 {
			delete(b.clients, personaID)
		}
	}

	log.Printf("[SSE] Client unsubscribed persona_id=%s", personaID)
}

// Broadcast はペルソナを監視しているすべてのクライアントにイベントを送信する
func (b *EventBroadcaster) Broadcast(personaID string, event Event) {
	// 送信中のUnsubscribeによるclose済みチャネルへの送信を防ぐため読み取りロックを保持する
	b.mu.RLock()
	defer b.mu.RUnlock()

	clients := b.clients[personaID]
	if len(clients) == 0 {
		return
	}

	log.Printf("[SSE] Broadcasting event type=%s persona_id=%s clients=%d",
		event.Type, personaID, len(clients))

	for ch := range clients {
		select {
		case ch <- event:
		default:
			// クライアントチャネルが満杯の場合、スキップ
			log.Printf("[SSE] Client channel full, skipping event")
		}
	}
}

// BroadcastMessage は新しいメッセージイベントをブロードキャストする
func (b *EventBroadcaster) BroadcastMessage(personaID string, message any) {
	b.Broadcast(personaID, Event{
		Type: EventMessage,
		Data: message,
	})
}

// ClientCount はペルソナに購読しているクライアント数を返す
func (b *EventBroadcaster) ClientCount(personaID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients[personaID])
}

// TotalClientCount は全ペルソナの合計クライアント数を返す
func (b *EventBroadcaster) TotalClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0
	for _, clients := range b.clients {
		total += len(clients)
	}
	return total
}

// FormatSSE はイベントをSSE形式にフォーマットする
func FormatSSE(event Event) ([]byte, error) {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return nil, err
	}
	return []byte("event: " + event.Type + "\ndata: " + string(data) + "\n\n"), nil
}
