package comfy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"resty.dev/v3"

	"github.com/songzhibin97/genai-bot/events"
	"github.com/songzhibin97/genai-bot/logging"
)

var (
	// ErrChannel is returned when the event channel cannot be opened or breaks.
	ErrChannel = errors.New("comfy: event channel failed")
	// ErrSubmit is returned when the worker rejects or fails to accept the job.
	ErrSubmit = errors.New("comfy: job submission failed")
	// ErrExecution is returned when the worker reports an execution error for the job.
	ErrExecution = errors.New("comfy: job execution failed")
	// ErrNoArtifact is returned when a finished job has no image output.
	ErrNoArtifact = errors.New("comfy: job produced no image")
	// ErrTimeout is returned when the job does not finish within the configured timeout.
	ErrTimeout = errors.New("comfy: timed out waiting for job")
	// ErrAbandoned is returned when the caller's context is canceled mid-job.
	ErrAbandoned = errors.New("comfy: job abandoned")
)

// DefaultTimeout bounds one Generate call when Options.Timeout is zero.
const DefaultTimeout = 5 * time.Minute

// frameBuffer holds events read before the job id is known.
const frameBuffer = 64

// Options configures a Client.
type Options struct {
	// URL is the HTTP base, e.g. http://127.0.0.1:8188.
	URL string
	// WSURL is the websocket base; derived from URL when empty.
	WSURL     string
	Timeout   time.Duration
	Publisher events.Publisher
	Logger    logging.Logger
	Dialer    *websocket.Dialer
}

// Client runs txt2img jobs on one ComfyUI worker.
type Client struct {
	rest      *resty.Client
	wsURL     string
	dialer    *websocket.Dialer
	timeout   time.Duration
	publisher events.Publisher
	logger    logging.Logger
}

// Job identifies one outstanding job: the session scopes the event channel,
// the prompt id scopes completion events and history.
type Job struct {
	SessionID string
	PromptID  string
}

// NewClient validates opts and creates a Client.
func NewClient(opts Options) (*Client, error) {
	base, err := url.Parse(opts.URL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("comfy url %q is invalid", opts.URL)
	}
	wsURL := opts.WSURL
	if wsURL == "" {
		ws := *base
		switch base.Scheme {
		case "https":
			ws.Scheme = "wss"
		default:
			ws.Scheme = "ws"
		}
		wsURL = ws.String()
	}

	c := &Client{
		rest:      resty.New().SetBaseURL(strings.TrimRight(opts.URL, "/")),
		wsURL:     strings.TrimRight(wsURL, "/"),
		dialer:    opts.Dialer,
		timeout:   opts.Timeout,
		publisher: opts.Publisher,
		logger:    opts.Logger,
	}
	if c.dialer == nil {
		c.dialer = websocket.DefaultDialer
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.logger == nil {
		c.logger = logging.Nop()
	}
	return c, nil
}

// Close releases the HTTP client.
func (c *Client) Close() error {
	return c.rest.Close()
}

type promptRequest struct {
	Prompt   Graph  `json:"prompt"`
	ClientID string `json:"client_id"`
}

type promptResponse struct {
	PromptID string `json:"prompt_id"`
}

// frame is the JSON envelope of an event channel message.
type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type executingData struct {
	PromptID string  `json:"prompt_id"`
	Node     *string `json:"node"`
}

type progressData struct {
	PromptID string `json:"prompt_id"`
	Value    int    `json:"value"`
	Max      int    `json:"max"`
}

type executionErrorData struct {
	PromptID         string `json:"prompt_id"`
	NodeID           string `json:"node_id"`
	ExceptionMessage string `json:"exception_message"`
}

type imageRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

type historyEntry struct {
	Outputs map[string]struct {
		Images []imageRef `json:"images"`
	} `json:"outputs"`
}

type readResult struct {
	frame frame
	err   error
}

// Generate submits graph and returns the bytes of the image it produces.
// The event channel is opened before submission so no completion event is missed.
func (c *Client) Generate(ctx context.Context, graph Graph) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	job := Job{SessionID: uuid.NewString()}
	data, err := c.run(ctx, &job, graph)
	if err != nil {
		err = c.classify(ctx, err)
		c.emit(events.JobFailed, job, map[string]interface{}{"error": err.Error()})
		return nil, err
	}
	c.emit(events.JobCompleted, job, map[string]interface{}{"bytes": len(data)})
	return data, nil
}

func (c *Client) run(ctx context.Context, job *Job, graph Graph) ([]byte, error) {
	conn, err := c.dial(ctx, job.SessionID)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	frames := make(chan readResult, frameBuffer)
	go readFrames(conn, frames, done)

	// A canceled context must unblock the reader.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	job.PromptID, err = c.submit(ctx, graph, job.SessionID)
	if err != nil {
		return nil, err
	}
	c.emit(events.JobSubmitted, *job, nil)
	c.logger.Info("comfy job queued", "prompt_id", job.PromptID, "session", job.SessionID)

	if err := c.await(ctx, frames, *job); err != nil {
		return nil, err
	}
	return c.fetchArtifact(ctx, job.PromptID)
}

func (c *Client) dial(ctx context.Context, session string) (*websocket.Conn, error) {
	u := c.wsURL + "/ws?clientId=" + url.QueryEscape(session)
	conn, resp, err := c.dialer.DialContext(ctx, u, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrChannel, u, err)
	}
	return conn, nil
}

// readFrames forwards text frames until the connection fails or done closes.
// Binary frames carry preview images and are dropped.
func readFrames(conn *websocket.Conn, out chan<- readResult, done <-chan struct{}) {
	for {
		mt, payload, err := conn.ReadMessage()
		if err != nil {
			select {
			case out <- readResult{err: err}:
			case <-done:
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		var f frame
		if err := json.Unmarshal(payload, &f); err != nil {
			continue
		}
		select {
		case out <- readResult{frame: f}:
		case <-done:
			return
		}
	}
}

func (c *Client) submit(ctx context.Context, graph Graph, session string) (string, error) {
	var out promptResponse
	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(promptRequest{Prompt: graph, ClientID: session}).
		SetResult(&out).
		Post("/prompt")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSubmit, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("%w: status %d: %s", ErrSubmit, resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	if out.PromptID == "" {
		return "", fmt.Errorf("%w: response has no prompt_id", ErrSubmit)
	}
	return out.PromptID, nil
}

// await blocks until the worker signals that job.PromptID finished.
// Per-node executing events and other jobs' events are skipped.
func (c *Client) await(ctx context.Context, frames <-chan readResult, job Job) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r := <-frames:
			if r.err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("%w: %v", ErrChannel, r.err)
			}
			finished, err := c.handleFrame(r.frame, job)
			if err != nil || finished {
				return err
			}
		}
	}
}

func (c *Client) handleFrame(f frame, job Job) (bool, error) {
	switch f.Type {
	case "executing":
		var d executingData
		if err := json.Unmarshal(f.Data, &d); err != nil || d.PromptID != job.PromptID {
			return false, nil
		}
		if d.Node == nil {
			return true, nil
		}
		c.emit(events.JobProgress, job, map[string]interface{}{"node": *d.Node})
	case "progress":
		var d progressData
		if err := json.Unmarshal(f.Data, &d); err != nil || d.PromptID != job.PromptID {
			return false, nil
		}
		c.emit(events.JobProgress, job, map[string]interface{}{"value": d.Value, "max": d.Max})
	case "execution_error":
		var d executionErrorData
		if err := json.Unmarshal(f.Data, &d); err != nil || d.PromptID != job.PromptID {
			return false, nil
		}
		return false, fmt.Errorf("%w: node %s: %s", ErrExecution, d.NodeID, d.ExceptionMessage)
	}
	return false, nil
}

func (c *Client) fetchArtifact(ctx context.Context, promptID string) ([]byte, error) {
	var history map[string]historyEntry
	resp, err := c.rest.R().
		SetContext(ctx).
		SetPathParam("id", promptID).
		SetResult(&history).
		Get("/history/{id}")
	if err != nil {
		return nil, fmt.Errorf("comfy: history: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("comfy: history: status %d", resp.StatusCode())
	}

	entry, ok := history[promptID]
	if !ok || len(entry.Outputs) == 0 {
		return nil, ErrNoArtifact
	}
	last := lastNodeID(entry.Outputs)
	images := entry.Outputs[last].Images
	if len(images) == 0 {
		return nil, fmt.Errorf("%w: node %s has no images", ErrNoArtifact, last)
	}
	img := images[0]

	resp, err = c.rest.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"filename":  img.Filename,
			"subfolder": img.Subfolder,
			"type":      img.Type,
		}).
		Get("/view")
	if err != nil {
		return nil, fmt.Errorf("comfy: view: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("comfy: view %s: status %d", img.Filename, resp.StatusCode())
	}
	data := resp.Bytes()
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrNoArtifact, img.Filename)
	}
	return data, nil
}

// lastNodeID orders output node ids numerically, non-numeric ids after in
// lexical order, and returns the last.
func lastNodeID[V any](outputs map[string]V) string {
	ids := make([]string, 0, len(outputs))
	for id := range outputs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, aErr := strconv.ParseUint(ids[i], 10, 64)
		b, bErr := strconv.ParseUint(ids[j], 10, 64)
		switch {
		case aErr == nil && bErr == nil:
			return a < b
		case aErr == nil:
			return true
		case bErr == nil:
			return false
		}
		return ids[i] < ids[j]
	})
	return ids[len(ids)-1]
}

// classify maps context errors to ErrTimeout or ErrAbandoned.
func (c *Client) classify(ctx context.Context, err error) error {
	if errors.Is(err, ErrNoArtifact) || errors.Is(err, ErrExecution) {
		return err
	}
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w after %s", ErrTimeout, c.timeout)
	case errors.Is(ctx.Err(), context.Canceled):
		return ErrAbandoned
	}
	return err
}

func (c *Client) emit(eventType string, job Job, data map[string]interface{}) {
	if data == nil {
		data = map[string]interface{}{}
	}
	data["session_id"] = job.SessionID
	if err := events.Emit(context.Background(), c.publisher, events.Event{Type: eventType, Key: job.PromptID, Data: data}); err != nil {
		c.logger.Warn("publish job event", "type", eventType, "error", err)
	}
}
