package messaging

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gramgate/gramgate/internal/models"
)

// ConsoleUserID is the single user id the console transport serves.
const ConsoleUserID = "console"

// ConsoleService is a Service reading user input line by line from a reader
// (stdin by default) and writing replies to a writer. Useful for local runs
// without a Telegram bot token.
type ConsoleService struct {
	in  io.Reader
	out io.Writer

	responses chan models.Response
	cancel    context.CancelFunc
	stopOnce  sync.Once
	writeMu   sync.Mutex
}

// NewConsoleService creates a console transport. Nil in/out default to
// stdin/stdout.
func NewConsoleService(in io.Reader, out io.Writer) *ConsoleService {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	return &ConsoleService{
		in:        in,
		out:       out,
		responses: make(chan models.Response),
	}
}

func (s *ConsoleService) Start(ctx context.Context) error {
	readCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	go func() {
		defer close(s.responses)
		scanner := bufio.NewScanner(s.in)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			resp := models.Response{From: ConsoleUserID, Body: line, Time: time.Now().Unix()}
			select {
			case s.responses <- resp:
			case <-readCtx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			slog.Error("Console input read failed", "error", err)
		}
	}()

	slog.Info("Console transport started", "userID", ConsoleUserID)
	return nil
}

func (s *ConsoleService) SendMessage(ctx context.Context, to, body string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := fmt.Fprintf(s.out, "%s\n", body)
	return err
}

func (s *ConsoleService) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
	return nil
}

func (s *ConsoleService) Responses() <-chan models.Response {
	return s.responses
}
