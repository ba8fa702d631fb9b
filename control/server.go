// control/server.go
// Author: momentics <momentics@gmail.com>
//
// Admin command socket. A request is one line of whitespace separated
// words. A reply is a header line "OK <n>" or "ERR <n>" followed by n bytes
// of body.

package control

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/momentics/hioload-dp/internal/log"
)

// Executor runs one admin command.
type Executor interface {
	Exec(args []string) (string, error)
}

// Server serves an Executor on a unix socket.
type Server struct {
	path string
	exec Executor

	mu sync.Mutex
	ln net.Listener
	wg sync.WaitGroup
}

// NewServer creates a server for the socket at path.
func NewServer(path string, exec Executor) *Server {
	return &Server{path: path, exec: exec}
}

// Listen binds the socket, replacing a stale one.
func (s *Server) Listen() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("command socket: %w", err)
	}
	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("command socket: %w", err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	return nil
}

// Addr returns the socket path.
func (s *Server) Addr() string { return s.path }

// Serve accepts connections until ctx is done. Listen must have succeeded.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return fmt.Errorf("command socket %s: not listening", s.path)
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	defer func() {
		s.wg.Wait()
		os.Remove(s.path)
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("command socket: %w", err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, conn)
		}()
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.SetDeadline(time.Now())
		case <-done:
		}
	}()
	sc := bufio.NewScanner(conn)
	w := bufio.NewWriter(conn)
	for sc.Scan() {
		args := strings.Fields(sc.Text())
		if len(args) == 0 {
			continue
		}
		reply, err := s.exec.Exec(args)
		status := "OK"
		if err != nil {
			status, reply = "ERR", err.Error()
			log.Debugf("command %q: %v", args[0], err)
		}
		fmt.Fprintf(w, "%s %d\n%s", status, len(reply), reply)
		if err := w.Flush(); err != nil {
			return
		}
	}
}

// Client talks to a command socket.
type Client struct {
	conn net.Conn
	r    *bufio.Reader
}

// Dial connects to the socket at path.
func Dial(path string) (*Client, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, r: bufio.NewReader(conn)}, nil
}

// Call sends one command and returns the reply. A server side failure is
// returned as an error carrying the server's message.
func (c *Client) Call(args ...string) (string, error) {
	if _, err := fmt.Fprintln(c.conn, strings.Join(args, " ")); err != nil {
		return "", err
	}
	header, err := c.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	status, size, ok := strings.Cut(strings.TrimSuffix(header, "\n"), " ")
	n, perr := strconv.Atoi(size)
	if !ok || perr != nil || n < 0 {
		return "", fmt.Errorf("command socket: bad reply header %q", header)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(c.r, body); err != nil {
		return "", err
	}
	if status != "OK" {
		return "", errors.New(string(body))
	}
	return string(body), nil
}

// Close closes the connection.
func (c *Client) Close() error { return c.conn.Close() }
