package jupyter

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/wesleyorama2/mobu/internal/business"
	mobuhttp "github.com/wesleyorama2/mobu/internal/http"
)

const (
	kernelName      = "python3"
	protocolVersion = "5.3"
)

// ExecutionError is an exception raised by code running in the kernel.
type ExecutionError struct {
	Name      string
	Value     string
	Traceback []string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("kernel raised %s: %s", e.Name, e.Value)
}

// Session is a kernel session inside the user's lab, with an open
// websocket to the kernel's channels.
type Session struct {
	client    *Client
	id        string
	kernelID  string
	sessionID string

	mu   sync.Mutex
	conn *websocket.Conn
}

type sessionRequest struct {
	Kernel struct {
		Name string `json:"name"`
	} `json:"kernel"`
	Name string `json:"name"`
	Path string `json:"path"`
	Type string `json:"type"`
}

// OpenSession creates a console session named name and connects to its
// kernel.
func (c *Client) OpenSession(ctx context.Context, name string) (business.KernelSession, error) {
	body := sessionRequest{Name: name, Path: name, Type: "console"}
	body.Kernel.Name = kernelName

	resp, err := c.do(ctx, mobuhttp.NewRequest(http.MethodPost, c.labPath("/api/sessions")).WithBody(body))
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	s := &Session{
		client:    c,
		id:        resp.JSON().Get("id").String(),
		kernelID:  resp.JSON().Get("kernel.id").String(),
		sessionID: uuid.NewString(),
	}
	if s.id == "" || s.kernelID == "" {
		return nil, fmt.Errorf("creating session: response has no session or kernel id")
	}

	wsURL, err := c.channelsURL(s.kernelID, s.sessionID)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.user.Token)

	conn, wsResp, err := c.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		s.deleteSession(context.WithoutCancel(ctx))
		if wsResp != nil {
			return nil, fmt.Errorf("connecting to kernel (HTTP %d): %w", wsResp.StatusCode, err)
		}
		return nil, fmt.Errorf("connecting to kernel: %w", err)
	}
	s.conn = conn

	c.logger.Debug().Str("session", s.id).Str("kernel", s.kernelID).Msg("Session opened")
	return s, nil
}

func (c *Client) channelsURL(kernelID, sessionID string) (string, error) {
	u, err := mobuhttp.ResolveURL(c.cfg.BaseURL, c.labPath("/api/kernels/"+kernelID+"/channels"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.RawQuery = "session_id=" + sessionID
	return u.String(), nil
}

// ID returns the server-side session id.
func (s *Session) ID() string {
	return s.id
}

// Execute runs code in the kernel and returns everything it wrote to its
// output streams. A kernel exception is returned as *ExecutionError.
func (s *Session) Execute(ctx context.Context, code string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn := s.conn
	if conn == nil {
		return "", fmt.Errorf("session %s is closed", s.id)
	}

	msgID := uuid.NewString()
	if err := conn.WriteJSON(s.executeRequest(msgID, code)); err != nil {
		return "", fmt.Errorf("sending execute request: %w", err)
	}

	// Unblock the read below when ctx ends.
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	} else {
		conn.SetReadDeadline(time.Time{})
	}

	var out strings.Builder
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return out.String(), ctx.Err()
			}
			return out.String(), fmt.Errorf("reading kernel reply: %w", err)
		}

		msg := gjson.ParseBytes(data)
		if msg.Get("parent_header.msg_id").String() != msgID {
			continue
		}

		content := msg.Get("content")
		switch msg.Get("msg_type").String() {
		case "stream":
			out.WriteString(content.Get("text").String())
		case "error":
			return out.String(), executionError(content)
		case "execute_reply":
			if content.Get("status").String() == "error" {
				return out.String(), executionError(content)
			}
			return out.String(), nil
		}
	}
}

func executionError(content gjson.Result) *ExecutionError {
	e := &ExecutionError{
		Name:  content.Get("ename").String(),
		Value: content.Get("evalue").String(),
	}
	for _, line := range content.Get("traceback").Array() {
		e.Traceback = append(e.Traceback, line.String())
	}
	return e
}

func (s *Session) executeRequest(msgID, code string) map[string]any {
	return map[string]any{
		"header": map[string]any{
			"msg_id":   msgID,
			"username": s.client.user.Username,
			"session":  s.sessionID,
			"msg_type": "execute_request",
			"version":  protocolVersion,
			"date":     time.Now().UTC().Format(time.RFC3339),
		},
		"parent_header": map[string]any{},
		"metadata":      map[string]any{},
		"channel":       "shell",
		"content": map[string]any{
			"code":             code,
			"silent":           false,
			"store_history":    false,
			"user_expressions": map[string]any{},
			"allow_stdin":      false,
			"stop_on_error":    true,
		},
		"buffers": []any{},
	}
}

// Close disconnects from the kernel and deletes the session.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}
	return s.deleteSession(ctx)
}

func (s *Session) deleteSession(ctx context.Context) error {
	req := mobuhttp.NewRequest(http.MethodDelete, s.client.labPath("/api/sessions/"+s.id))
	if _, err := s.client.do(ctx, req, http.StatusNotFound); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	s.client.logger.Debug().Str("session", s.id).Msg("Session deleted")
	return nil
}
