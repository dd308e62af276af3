package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"nox-backend/internal/ipc"
)

const writeTimeout = 2 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsClient websocket 客户端，每条事件一个文本帧
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsClient) Close() error {
	return c.conn.Close()
}

// Bridge 把 Hub 暴露为 websocket
type Bridge struct {
	hub    *ipc.Hub
	server *http.Server
	ctx    context.Context
}

// NewBridge 创建桥接，addr 为监听地址
func NewBridge(addr string, hub *ipc.Hub) *Bridge {
	b := &Bridge{hub: hub, ctx: context.Background()}
	b.server = &http.Server{
		Addr:              addr,
		Handler:           b.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return b
}

// Router 路由：/ws 和 /healthz
func (b *Bridge) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/ws", b.handleWS)
	router.HandleFunc("/healthz", b.handleHealth).Methods(http.MethodGet)
	return router
}

// Start 后台监听，ctx 结束时关闭
func (b *Bridge) Start(ctx context.Context) {
	b.ctx = ctx
	go func() {
		log.Info().Str("addr", b.server.Addr).Msg("WebSocket bridge listening")
		if err := b.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("WebSocket bridge stopped")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		b.server.Shutdown(shutdownCtx)
	}()
}

func (b *Bridge) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": b.hub.ClientCount(),
	})
}

func (b *Bridge) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	client := &wsClient{conn: conn}
	b.hub.Register(client)
	log.Info().Str("remote", r.RemoteAddr).Msg("WebSocket client connected")

	defer func() {
		b.hub.Unregister(client)
		conn.Close()
		log.Info().Str("remote", r.RemoteAddr).Msg("WebSocket client disconnected")
	}()

	reply := ipc.ReplyTo(client)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("WebSocket read failed")
			}
			return
		}
		if err := ipc.SubmitLine(b.ctx, b.hub, data, reply); err != nil && b.ctx.Err() != nil {
			return
		}
	}
}
