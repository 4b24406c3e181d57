package api

import (
	"log"
	"net/http"

	"github.com/google/uuid"

	"persona-chat/internal/db"
)

// PersonaEventsHandler はペルソナイベントのSSE接続を処理する
type PersonaEventsHandler struct {
	db          *db.DB
	broadcaster *EventBroadcaster
}

// NewPersonaEventsHandler は新しいハンドラーを作成する
func NewPersonaEventsHandler(database *db.DB, broadcaster *EventBroadcaster) *PersonaEventsHandler {
	return &PersonaEventsHandler{
		db:          database,
		broadcaster: broadcaster,
	}
}

// HandleEvents は GET /api/personas/{id}/events を処理する
func (h *PersonaEventsHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	personaID := r.PathValue("id")
	if err := uuid.Validate(personaID); err != nil {
		log.Printf("[SSE] Invalid persona ID err=%v", err)
		http.Error(w, "Invalid persona ID", http.StatusBadRequest)
		return
	}

	if _, ok := loadPersona(w, r, h.db); !ok {
		return
	}

	log.Printf("[SSE] New connection request persona_id=%s", personaID)

	// flusherを取得
	flusher, ok := w.(http.Flusher)
	if !ok {
		log.Printf("[SSE] Streaming not supported")
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	setSSEHeaders(w)

	// イベントを購読
	eventCh := h.broadcaster.Subscribe(personaID)
	defer h.broadcaster.Unsubscribe(personaID, eventCh)

	// 接続完了イベントを送信
	if _, err := w.Write([]byte("event: connected\ndata: {}\n\n")); err != nil {
		log.Printf("[SSE] Failed to send connected event err=%v", err)
		return
	}
	flusher.Flush()

	log.Printf("[SSE] Client connected persona_id=%s", personaID)

	// イベントとクライアント切断を監視
	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			log.Printf("[SSE] Client disconnected persona_id=%s", personaID)
			return
		case event, ok := <-eventCh:
			if !ok {
				log.Printf("[SSE] Event channel closed persona_id=%s", personaID)
				return
			}
			if err := writeSSE(w, flusher, event); err != nil {
				log.Printf("[SSE] Failed to write event err=%v", err)
				return
			}
		}
	}
}

// setSSEHeaders はSSEレスポンスヘッダーを設定する
func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginxバッファリングを無効化
}

// writeSSE は1件のイベントを書き込んでフラッシュする
func writeSSE(w http.ResponseWriter, flusher http.Flusher, event Event) error {
	data, err := FormatSSE(event)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
