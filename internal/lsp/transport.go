package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/tidwall/gjson"

	"github.com/dshills/lspproxy/internal/applog"
)

// Transport handles JSON-RPC 2.0 communication over stdio.
// It implements the LSP base protocol with Content-Length headers, including
// the server-to-client request direction (workspace/configuration,
// window/workDoneProgress/create, etc.) that a pure client-only transport
// does not need to answer.
type Transport struct {
	reader *bufio.Reader
	writer io.Writer
	closer io.Closer
	log    *applog.Logger
	limit  *RateLimiter

	mu              sync.Mutex
	nextID          atomic.Int64
	pending         map[int64]chan *Response
	handlers        map[string]NotificationHandler
	requestHandlers map[string]RequestHandler

	closed atomic.Bool
	done   chan struct{}
}

// NotificationHandler handles incoming notifications from the server.
type NotificationHandler func(method string, params json.RawMessage)

// RequestHandler answers a server-to-client request, returning the result
// to marshal into the response, or an *RPCError to report failure.
type RequestHandler func(ctx context.Context, params json.RawMessage) (any, error)

// Request represents a JSON-RPC request or a server-to-client request echo.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Response represents a JSON-RPC response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// notification is used to parse incoming notifications and server requests.
type notification struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// TransportOption configures a Transport at construction.
type TransportOption func(*Transport)

// WithLogger attaches a logger; the default is applog.NullLogger.
func WithLogger(l *applog.Logger) TransportOption {
	return func(t *Transport) { t.log = l }
}

// WithRateLimiter attaches a rate limiter governing Call/Notify traffic.
func WithRateLimiter(r *RateLimiter) TransportOption {
	return func(t *Transport) { t.limit = r }
}

// NewTransport creates a new transport over the given connection.
// The conn must support reading and writing (typically stdin/stdout pipes).
func NewTransport(r io.Reader, w io.Writer, c io.Closer, opts ...TransportOption) *Transport {
	t := &Transport{
		reader:          bufio.NewReaderSize(r, 64*1024),
		writer:          w,
		closer:          c,
		log:             applog.NullLogger,
		pending:         make(map[int64]chan *Response),
		handlers:        make(map[string]NotificationHandler),
		requestHandlers: make(map[string]RequestHandler),
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start begins reading messages from the connection in a background
// goroutine and returns immediately.
func (t *Transport) Start(ctx context.Context) {
	go t.readLoop(ctx)
}

// Close closes the transport and releases resources.
func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil // Already closed
	}

	close(t.done)

	// Cancel all pending requests by clearing the map.
	// We don't close the channels to avoid race conditions with handleResponse.
	// Callers waiting on pending channels will receive from t.done instead.
	t.mu.Lock()
	t.pending = make(map[int64]chan *Response)
	t.mu.Unlock()

	if t.closer != nil {
		return t.closer.Close()
	}
	return nil
}

// Call sends a request and waits for a response.
func (t *Transport) Call(ctx context.Context, method string, params any, result any) error {
	if t.closed.Load() {
		return ErrShutdown
	}
	if err := t.limit.Wait(ctx, method, false); err != nil {
		return err
	}

	id := t.nextID.Add(1)
	ch := make(chan *Response, 1)

	t.mu.Lock()
	t.pending[id] = ch
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
	}()

	// Send request
	req := &Request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	}

	if err := t.send(req); err != nil {
		return fmt.Errorf("send request: %w", err)
	}

	// Wait for response
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return ErrShutdown
	case resp, ok := <-ch:
		if !ok {
			return ErrShutdown
		}
		if resp.Error != nil {
			return resp.Error
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("unmarshal result: %w", err)
			}
		}
		return nil
	}
}

// Notify sends a notification (no response expected).
func (t *Transport) Notify(ctx context.Context, method string, params any) error {
	if t.closed.Load() {
		return ErrShutdown
	}
	if err := t.limit.Wait(ctx, method, true); err != nil {
		return err
	}

	req := &Request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
	}

	return t.send(req)
}

// OnNotification registers a handler for server notifications.
func (t *Transport) OnNotification(method string, handler NotificationHandler) {
	t.mu.Lock()
	t.handlers[method] = handler
	t.mu.Unlock()
}

// OnRequest registers a handler answering a server-to-client request.
// Registering under "*" installs a fallback for any method not otherwise
// handled; a method with no handler at all is answered with MethodNotFound.
func (t *Transport) OnRequest(method string, handler RequestHandler) {
	t.mu.Lock()
	t.requestHandlers[method] = handler
	t.mu.Unlock()
}

// send writes a message with LSP content-length header.
func (t *Transport) send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(data))

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, err := io.WriteString(t.writer, header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := t.writer.Write(data); err != nil {
		return fmt.Errorf("write body: %w", err)
	}

	return nil
}

// readLoop reads messages from the connection.
func (t *Transport) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		default:
		}

		msg, err := t.readMessage()
		if err != nil {
			if t.closed.Load() {
				return
			}
			if err == io.EOF || err == io.ErrClosedPipe {
				return
			}
			t.log.Warn("lsp transport: read error: %v", err)
			continue
		}

		t.dispatch(ctx, msg)
	}
}

// readMessage reads a single LSP message.
func (t *Transport) readMessage() (json.RawMessage, error) {
	// Read headers
	var contentLength int
	for {
		line, err := t.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break // End of headers
		}
		if strings.HasPrefix(strings.ToLower(line), "content-length:") {
			parts := strings.SplitN(line, ":", 2)
			if len(parts) == 2 {
				length, err := strconv.Atoi(strings.TrimSpace(parts[1]))
				if err == nil {
					contentLength = length
				}
			}
		}
		// Ignore Content-Type and other headers
	}

	if contentLength == 0 {
		return nil, fmt.Errorf("missing Content-Length header")
	}

	// Read body
	body := make([]byte, contentLength)
	if _, err := io.ReadFull(t.reader, body); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return body, nil
}

// dispatch routes a message to the appropriate handler. It peeks at the
// "id"/"method" fields with gjson before committing to a full decode, since
// the message shape (response vs. request vs. notification) determines
// which struct to unmarshal into.
func (t *Transport) dispatch(ctx context.Context, data json.RawMessage) {
	hasID := gjson.GetBytes(data, "id").Exists()
	method := gjson.GetBytes(data, "method").Str

	// A response to one of our own requests carries an id and no method.
	if hasID && method == "" {
		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			return
		}
		t.handleResponse(&resp)
		return
	}

	if method == "" {
		return
	}

	var notif notification
	if err := json.Unmarshal(data, &notif); err != nil {
		return
	}

	// A method with an id is a server-to-client request expecting a reply;
	// without one, it's a one-way notification.
	if notif.ID != nil {
		go t.handleServerRequest(ctx, &notif)
		return
	}
	t.handleNotification(&notif)
}

// handleResponse routes a response to its waiting caller.
func (t *Transport) handleResponse(resp *Response) {
	// Check if closed before attempting to send
	if t.closed.Load() {
		return
	}

	t.mu.Lock()
	ch, ok := t.pending[resp.ID]
	if ok {
		// Remove from pending while holding lock to prevent races
		delete(t.pending, resp.ID)
	}
	t.mu.Unlock()

	if ok {
		select {
		case ch <- resp:
		default:
			// Channel full, drop response
		}
	}
}

// handleNotification routes a notification to its handler.
func (t *Transport) handleNotification(notif *notification) {
	t.mu.Lock()
	handler, ok := t.handlers[notif.Method]
	if !ok {
		handler, ok = t.handlers["*"]
	}
	t.mu.Unlock()

	if ok && handler != nil {
		// Run handler in goroutine to avoid blocking read loop
		go handler(notif.Method, notif.Params)
	}
}

// handleServerRequest answers a server-to-client request by dispatching to
// a registered RequestHandler and writing the response back over the wire.
func (t *Transport) handleServerRequest(ctx context.Context, notif *notification) {
	t.mu.Lock()
	handler, ok := t.requestHandlers[notif.Method]
	if !ok {
		handler, ok = t.requestHandlers["*"]
	}
	t.mu.Unlock()

	resp := &Response{JSONRPC: "2.0", ID: *notif.ID}

	if !ok || handler == nil {
		resp.Error = &RPCError{Code: CodeMethodNotFound, Message: fmt.Sprintf("method not found: %s", notif.Method)}
	} else {
		result, err := handler(ctx, notif.Params)
		if err != nil {
			if rpcErr, ok := err.(*RPCError); ok {
				resp.Error = rpcErr
			} else {
				resp.Error = &RPCError{Code: CodeInternalError, Message: err.Error()}
			}
		} else if result != nil {
			data, err := json.Marshal(result)
			if err != nil {
				resp.Error = &RPCError{Code: CodeInternalError, Message: fmt.Sprintf("marshal result: %v", err)}
			} else {
				resp.Result = data
			}
		}
	}

	if err := t.send(resp); err != nil {
		t.log.Warn("lsp transport: failed to answer server request %s: %v", notif.Method, err)
	}
}

// IsClosed returns true if the transport has been closed.
func (t *Transport) IsClosed() bool {
	return t.closed.Load()
}
