package lsp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"
)

// mockPipe creates a bidirectional pipe for testing.
type mockPipe struct {
	reader *io.PipeReader
	writer *io.PipeWriter
}

func newMockPipe() *mockPipe {
	r, w := io.Pipe()
	return &mockPipe{reader: r, writer: w}
}

func (p *mockPipe) Close() error {
	p.reader.Close()
	p.writer.Close()
	return nil
}

// readFramedMessage reads one Content-Length-framed message from r.
func readFramedMessage(r *io.PipeReader) ([]byte, error) {
	buf := make([]byte, 4096)
	n, err := r.Read(buf)
	if err != nil {
		return nil, err
	}
	data := string(buf[:n])

	var contentLength int
	if _, err := fmt.Sscanf(data, "Content-Length: %d", &contentLength); err != nil {
		return nil, err
	}

	sep := "\r\n\r\n"
	idx := strings.Index(data, sep)
	if idx < 0 {
		return nil, fmt.Errorf("no header/body separator found")
	}
	body := data[idx+len(sep):]
	for len(body) < contentLength {
		more := make([]byte, contentLength-len(body))
		m, err := r.Read(more)
		if err != nil {
			return nil, err
		}
		body += string(more[:m])
	}
	return []byte(body[:contentLength]), nil
}

func writeFramedMessage(w *io.PipeWriter, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(data))
	if _, err := w.Write([]byte(header)); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func TestTransport_Notify(t *testing.T) {
	clientToServer := newMockPipe()
	serverToClient := newMockPipe()

	transport := NewTransport(serverToClient.reader, clientToServer.writer, nil)
	defer transport.Close()

	var body []byte
	var readErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		body, readErr = readFramedMessage(clientToServer.reader)
	}()

	if err := transport.Notify(context.Background(), "test/notification", map[string]string{"x": "y"}); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	<-done
	if readErr != nil {
		t.Fatalf("reading framed notification: %v", readErr)
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		t.Fatalf("unmarshal notification: %v", err)
	}
	if req.Method != "test/notification" {
		t.Errorf("Method = %q, want test/notification", req.Method)
	}
	if req.ID != 0 {
		t.Errorf("notification should carry no id, got %d", req.ID)
	}
}

func TestTransport_CallSuccess(t *testing.T) {
	clientToServer := newMockPipe()
	serverToClient := newMockPipe()

	transport := NewTransport(serverToClient.reader, clientToServer.writer, nil)
	defer transport.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	transport.Start(ctx)

	go func() {
		body, err := readFramedMessage(clientToServer.reader)
		if err != nil {
			return
		}
		var req Request
		json.Unmarshal(body, &req)

		result, _ := json.Marshal(map[string]string{"status": "ok"})
		writeFramedMessage(serverToClient.writer, Response{JSONRPC: "2.0", ID: req.ID, Result: result})
	}()

	var result map[string]string
	if err := transport.Call(ctx, "test/method", nil, &result); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if result["status"] != "ok" {
		t.Errorf("result = %v, want status=ok", result)
	}
}

func TestTransport_CallError(t *testing.T) {
	clientToServer := newMockPipe()
	serverToClient := newMockPipe()

	transport := NewTransport(serverToClient.reader, clientToServer.writer, nil)
	defer transport.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	transport.Start(ctx)

	go func() {
		body, err := readFramedMessage(clientToServer.reader)
		if err != nil {
			return
		}
		var req Request
		json.Unmarshal(body, &req)

		writeFramedMessage(serverToClient.writer, Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &RPCError{Code: CodeMethodNotFound, Message: "method not found"},
		})
	}()

	err := transport.Call(ctx, "unknown/method", nil, nil)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	rpcErr, ok := err.(*RPCError)
	if !ok {
		t.Fatalf("error type = %T, want *RPCError", err)
	}
	if rpcErr.Code != CodeMethodNotFound {
		t.Errorf("Code = %d, want %d", rpcErr.Code, CodeMethodNotFound)
	}
}

func TestTransport_CallTimeout(t *testing.T) {
	clientToServer := newMockPipe()
	serverToClient := newMockPipe()

	transport := NewTransport(serverToClient.reader, clientToServer.writer, nil)
	defer transport.Close()

	transport.Start(context.Background())

	// Drain but never answer, so the call hits its own deadline.
	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := clientToServer.reader.Read(buf); err != nil {
				return
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := transport.Call(ctx, "test/method", nil, nil)
	if err != context.DeadlineExceeded {
		t.Fatalf("Call() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestTransport_OnNotification(t *testing.T) {
	clientToServer := newMockPipe()
	serverToClient := newMockPipe()

	transport := NewTransport(serverToClient.reader, clientToServer.writer, nil)
	defer transport.Close()

	received := make(chan string, 1)
	transport.OnNotification("test/notify", func(method string, params json.RawMessage) {
		var p struct {
			Message string `json:"message"`
		}
		json.Unmarshal(params, &p)
		received <- p.Message
	})

	transport.Start(context.Background())

	go writeFramedMessage(serverToClient.writer, map[string]any{
		"jsonrpc": "2.0",
		"method":  "test/notify",
		"params":  map[string]string{"message": "hello"},
	})

	select {
	case msg := <-received:
		if msg != "hello" {
			t.Errorf("message = %q, want hello", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notification")
	}
}

func TestTransport_ServerToClientRequest(t *testing.T) {
	clientToServer := newMockPipe()
	serverToClient := newMockPipe()

	transport := NewTransport(serverToClient.reader, clientToServer.writer, nil)
	defer transport.Close()

	transport.OnRequest("workspace/configuration", func(_ context.Context, params json.RawMessage) (any, error) {
		return []string{"answered"}, nil
	})

	transport.Start(context.Background())

	go writeFramedMessage(serverToClient.writer, map[string]any{
		"jsonrpc": "2.0",
		"id":      7,
		"method":  "workspace/configuration",
		"params":  map[string]any{"items": []any{}},
	})

	body, err := readFramedMessage(clientToServer.reader)
	if err != nil {
		t.Fatalf("reading server-to-client response: %v", err)
	}

	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.ID != 7 {
		t.Errorf("response ID = %d, want 7", resp.ID)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error in response: %v", resp.Error)
	}

	var result []string
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if len(result) != 1 || result[0] != "answered" {
		t.Errorf("result = %v, want [answered]", result)
	}
}

func TestTransport_ServerToClientRequest_MethodNotFound(t *testing.T) {
	clientToServer := newMockPipe()
	serverToClient := newMockPipe()

	transport := NewTransport(serverToClient.reader, clientToServer.writer, nil)
	defer transport.Close()

	transport.Start(context.Background())

	go writeFramedMessage(serverToClient.writer, map[string]any{
		"jsonrpc": "2.0",
		"id":      3,
		"method":  "unregistered/request",
	})

	body, err := readFramedMessage(clientToServer.reader)
	if err != nil {
		t.Fatalf("reading server-to-client response: %v", err)
	}

	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != CodeMethodNotFound {
		t.Fatalf("Error = %v, want CodeMethodNotFound", resp.Error)
	}
}

func TestTransport_CloseUnblocksPendingCalls(t *testing.T) {
	clientToServer := newMockPipe()
	serverToClient := newMockPipe()

	transport := NewTransport(serverToClient.reader, clientToServer.writer, nil)
	transport.Start(context.Background())

	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := clientToServer.reader.Read(buf); err != nil {
				return
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- transport.Call(context.Background(), "test/method", nil, nil)
	}()

	time.Sleep(20 * time.Millisecond)
	transport.Close()

	select {
	case err := <-errCh:
		if err != ErrShutdown {
			t.Errorf("Call() error after Close() = %v, want ErrShutdown", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Call() did not unblock after Close()")
	}
}

func TestTransport_IsClosed(t *testing.T) {
	clientToServer := newMockPipe()
	serverToClient := newMockPipe()
	transport := NewTransport(serverToClient.reader, clientToServer.writer, nil)

	if transport.IsClosed() {
		t.Fatal("IsClosed() = true before Close()")
	}
	transport.Close()
	if !transport.IsClosed() {
		t.Fatal("IsClosed() = false after Close()")
	}
}
