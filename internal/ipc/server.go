package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

const writeTimeout = 2 * time.Second

type Server struct {
	socketPath   string
	hub          *Hub
	listener     net.Listener
	lockFile     *os.File
	lockFilePath string
	wg           sync.WaitGroup
}

func NewServer(socketPath string, hub *Hub) *Server {
	return &Server{
		socketPath:   socketPath,
		hub:          hub,
		lockFilePath: socketPath + ".lock",
	}
}

func (s *Server) checkAndCleanOldLock() error {
	if _, err := os.Stat(s.lockFilePath); os.IsNotExist(err) {
		return nil
	}

	content, err := os.ReadFile(s.lockFilePath)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read lock file, removing it")
		os.Remove(s.lockFilePath)
		return nil
	}

	pidStr := strings.TrimSpace(string(content))
	if pidStr == "" {
		log.Warn().Msg("Lock file is empty, removing it")
		os.Remove(s.lockFilePath)
		return nil
	}

	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		log.Warn().Err(err).Str("pid_str", pidStr).Msg("Invalid PID in lock file, removing it")
		os.Remove(s.lockFilePath)
		return nil
	}

	if !isProcessRunning(pid) {
		log.Info().Int("old_pid", pid).Msg("Process in lock file is not running, removing lock file")
		os.Remove(s.lockFilePath)
		return nil
	}

	log.Info().Int("existing_pid", pid).Msg("Another process is still running")
	return nil
}

// isProcessRunning kill(pid, 0) 只检查进程是否存在
func isProcessRunning(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}

func (s *Server) acquireLock() error {
	if err := s.checkAndCleanOldLock(); err != nil {
		log.Warn().Err(err).Msg("Failed to clean old lock file")
	}

	file, err := os.OpenFile(s.lockFilePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create lock file: %w", err)
	}

	err = syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if err != nil {
		file.Close()
		if err == syscall.EWOULDBLOCK {
			return fmt.Errorf("another nox-backend instance is already running")
		}
		return fmt.Errorf("failed to acquire lock: %w", err)
	}

	if _, err := fmt.Fprintf(file, "%d\n", os.Getpid()); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return fmt.Errorf("failed to write PID to lock file: %w", err)
	}

	s.lockFile = file
	log.Info().Str("lock_file", s.lockFilePath).Int("pid", os.Getpid()).Msg("Acquired process lock")
	return nil
}

func (s *Server) releaseLock() {
	if s.lockFile != nil {
		syscall.Flock(int(s.lockFile.Fd()), syscall.LOCK_UN)
		s.lockFile.Close()
		os.Remove(s.lockFilePath)
		log.Info().Str("lock_file", s.lockFilePath).Msg("Released process lock")
		s.lockFile = nil
	}
}

// Start 获取进程锁并开始监听，连接处理在后台进行
func (s *Server) Start(ctx context.Context) error {
	if err := s.acquireLock(); err != nil {
		return err
	}

	if err := os.RemoveAll(s.socketPath); err != nil {
		s.releaseLock()
		return err
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		s.releaseLock()
		return err
	}
	s.listener = listener

	log.Info().Str("socket_path", s.socketPath).Msg("IPC server listening")

	s.wg.Add(1)
	go s.acceptConnections(ctx)
	return nil
}

func (s *Server) acceptConnections(ctx context.Context) {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Error().Err(err).Msg("Failed to accept IPC connection")
			continue
		}
		go s.handleConnection(ctx, conn)
	}
}

// connClient unix socket 客户端，每条消息一行
type connClient struct {
	conn net.Conn
	mu   sync.Mutex
}

func (c *connClient) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err := c.conn.Write(append(data, '\n'))
	return err
}

func (c *connClient) Close() error {
	return c.conn.Close()
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	client := &connClient{conn: conn}
	s.hub.Register(client)
	log.Info().Msg("Client connected")

	ReadCommands(ctx, bufio.NewScanner(conn), s.hub, client)

	s.hub.Unregister(client)
	conn.Close()
	log.Info().Msg("Client disconnected")
}

// ReadCommands 逐行解析命令并放入队列，格式错误时回复错误事件
func ReadCommands(ctx context.Context, scanner *bufio.Scanner, hub *Hub, client Client) {
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	reply := ReplyTo(client)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := SubmitLine(ctx, hub, []byte(line), reply); err != nil {
			if ctx.Err() != nil {
				return
			}
		}
	}
}

// SubmitLine 解析一条命令并入队
func SubmitLine(ctx context.Context, hub *Hub, data []byte, reply func(Event)) error {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil || cmd.Type == "" {
		if err == nil {
			err = errors.New("missing command type")
		}
		log.Warn().Err(err).Str("line", string(data)).Msg("Invalid command")
		reply(Event{Type: EventError, Data: fmt.Sprintf("invalid command: %v", err)})
		return err
	}
	cmd.Reply = reply
	return hub.Submit(ctx, cmd)
}

func (s *Server) Close() {
	if s.listener != nil {
		s.listener.Close()
		s.wg.Wait()
	}
	s.releaseLock()
}
