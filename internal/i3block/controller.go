package i3block

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"nox-backend/internal/ipc"
	"nox-backend/pkg/fileutil"
)

const refreshInterval = 10 * time.Second

// logger 按调用时的全局配置生成组件日志
func logger() *zerolog.Logger {
	l := log.With().Str("component", "i3block").Logger()
	return &l
}

// Runner 执行外部命令
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Controller 作为 Hub 客户端，把当前歌词行写入文件并通知 i3blocks 刷新
type Controller struct {
	file   string
	signal syscall.Signal
	run    Runner
	kill   func(pid int, sig syscall.Signal) error

	pid      int
	pidMutex sync.RWMutex

	mu   sync.Mutex
	last string
}

// NewController file 为歌词行文件，signal 为信号编号
func NewController(file string, signal int, run Runner) *Controller {
	if run == nil {
		run = execRunner
	}
	return &Controller{
		file:   file,
		signal: syscall.Signal(signal),
		run:    run,
		kill:   syscall.Kill,
		pid:    -1,
	}
}

// Start 每 10 秒刷新一次 i3blocks 的 PID，直到 ctx 结束
func (c *Controller) Start(ctx context.Context) {
	if err := c.refreshPID(ctx); err != nil {
		logger().Debug().Err(err).Msg("i3blocks not found yet")
	}
	go func() {
		ticker := time.NewTicker(refreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.refreshPID(ctx); err != nil {
					logger().Debug().Err(err).Msg("Failed to refresh i3blocks PID")
				}
			}
		}
	}()
	logger().Info().Str("file", c.file).Int("signal", int(c.signal)).Msg("i3block controller started")
}

// refreshPID 先用 pgrep，失败时扫描 ps 输出
func (c *Controller) refreshPID(ctx context.Context) error {
	pid, err := c.findPID(ctx)
	c.pidMutex.Lock()
	oldPID := c.pid
	c.pid = pid
	c.pidMutex.Unlock()
	if oldPID != pid {
		logger().Info().Int("old_pid", oldPID).Int("pid", pid).Msg("i3blocks PID updated")
	}
	return err
}

func (c *Controller) findPID(ctx context.Context) (int, error) {
	if out, err := c.run(ctx, "pgrep", "-f", "i3blocks"); err == nil {
		for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
			if pid, err := strconv.Atoi(strings.TrimSpace(line)); err == nil {
				return pid, nil
			}
		}
	}

	out, err := c.run(ctx, "ps", "aux")
	if err != nil {
		return -1, fmt.Errorf("failed to run ps command: %w", err)
	}
	for _, line := range strings.Split(string(out), "\n") {
		if !strings.Contains(line, "i3blocks") || strings.Contains(line, "grep") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		if pid, err := strconv.Atoi(fields[1]); err == nil {
			return pid, nil
		}
	}
	return -1, fmt.Errorf("i3blocks process not found")
}

// PID 当前记录的 i3blocks PID，未找到时为 -1
func (c *Controller) PID() int {
	c.pidMutex.RLock()
	defer c.pidMutex.RUnlock()
	return c.pid
}

// Send 只处理歌词行事件，失败只记录日志以免被 Hub 断开
func (c *Controller) Send(data []byte) error {
	var ev ipc.Event
	if err := json.Unmarshal(data, &ev); err != nil || ev.Type != ipc.EventLyricLine {
		return nil
	}
	text, ok := ev.Data.(string)
	if !ok {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if text == c.last {
		return nil
	}
	c.last = text

	if err := fileutil.WriteFileOverwrite(c.file, []byte(text+"\n"), 0644); err != nil {
		logger().Error().Err(err).Msg("Failed to write lyric line")
		return nil
	}
	if err := c.notify(); err != nil {
		logger().Debug().Err(err).Msg("Failed to signal i3blocks")
	}
	return nil
}

func (c *Controller) notify() error {
	pid := c.PID()
	if pid <= 0 {
		return fmt.Errorf("invalid PID: %d, i3blocks process not found", pid)
	}
	if err := c.kill(pid, c.signal); err != nil {
		return fmt.Errorf("failed to send signal %d to process %d: %w", c.signal, pid, err)
	}
	return nil
}

func (c *Controller) Close() error {
	return nil
}
