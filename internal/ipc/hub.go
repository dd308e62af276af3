package ipc

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"
)

// 推送给客户端的事件类型
const (
	EventProgress     = "progress"
	EventPlaylist     = "playlist"
	EventLyric        = "lyric"
	EventLyricLine    = "lyric_line"
	EventLyricOptions = "lyric_options"
	EventError        = "error"
)

// 客户端发来的命令类型
const (
	CmdSearch      = "search"
	CmdPlay        = "play"
	CmdShare       = "share"
	CmdLyric       = "lyric"
	CmdLyricSearch = "lyric_search"
	CmdLyricPick   = "lyric_pick"
)

// replayTypes 新客户端连接时补发的最新状态，按顺序发送
var replayTypes = []string{EventProgress, EventPlaylist, EventLyric, EventLyricLine}

// Event 一行 JSON 事件
type Event struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	Data any    `json:"data,omitempty"`
}

// Command 一行 JSON 命令，Payload 由处理方按类型解析
type Command struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`

	// Reply 只回复发出命令的客户端
	Reply func(Event) `json:"-"`
}

// Client 已连接的客户端
type Client interface {
	Send(data []byte) error
	Close() error
}

// Hub 管理 unix socket 和 websocket 客户端，命令排队串行处理
type Hub struct {
	mu      sync.Mutex
	clients map[Client]struct{}
	last    map[string][]byte

	commands chan Command
}

// NewHub 创建 Hub，queue 为命令队列长度
func NewHub(queue int) *Hub {
	if queue <= 0 {
		queue = 16
	}
	return &Hub{
		clients:  make(map[Client]struct{}),
		last:     make(map[string][]byte),
		commands: make(chan Command, queue),
	}
}

// Register 注册客户端并补发最新状态
func (h *Hub) Register(c Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	for _, t := range replayTypes {
		if data, ok := h.last[t]; ok {
			if err := c.Send(data); err != nil {
				log.Warn().Err(err).Str("type", t).Msg("Failed to replay state to client")
				return
			}
		}
	}
}

// Unregister 移除客户端
func (h *Hub) Unregister(c Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

// ClientCount 当前连接数
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast 推送事件给所有客户端，写失败的客户端被移除
func (h *Hub) Broadcast(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("type", ev.Type).Msg("Failed to encode event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range replayTypes {
		if t == ev.Type {
			h.last[t] = data
			break
		}
	}
	for c := range h.clients {
		if err := c.Send(data); err != nil {
			log.Error().Err(err).Msg("Failed to write to client, removing")
			c.Close()
			delete(h.clients, c)
		}
	}
}

// Submit 把命令放入队列，队列满时阻塞直到 ctx 结束
func (h *Hub) Submit(ctx context.Context, cmd Command) error {
	select {
	case h.commands <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Commands 命令队列
func (h *Hub) Commands() <-chan Command {
	return h.commands
}

// ReplyTo 生成只发给某个客户端的回复函数
func ReplyTo(c Client) func(Event) {
	return func(ev Event) {
		data, err := json.Marshal(ev)
		if err != nil {
			log.Error().Err(err).Str("type", ev.Type).Msg("Failed to encode reply")
			return
		}
		if err := c.Send(data); err != nil {
			log.Warn().Err(err).Str("type", ev.Type).Msg("Failed to send reply")
		}
	}
}
