// Package stream provides a streaming STT provider speaking a WebSocket
// protocol: binary frames carry little-endian 16-bit PCM audio, text frames
// carry JSON transcription results. It implements stt.StreamProvider and
// targets self-hosted transcription gateways that expose this interface.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/govorun-ai/govorun/pkg/audio"
	"github.com/govorun-ai/govorun/pkg/provider/stt"
)

const (
	defaultSampleRate = 16000
	resultBuffer      = 64
	audioBuffer       = 256

	// closeFlushTimeout bounds how long Close waits for the write loop to
	// flush queued audio before tearing the connection down anyway.
	closeFlushTimeout = 2 * time.Second
)

// Option is a functional option for configuring the stream Provider.
type Option func(*Provider)

// WithToken sets the bearer token sent in the Authorization header.
func WithToken(token string) Option {
	return func(p *Provider) {
		p.token = token
	}
}

// WithSampleRate sets the provider-level default sample rate in Hz.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		if rate > 0 {
			p.sampleRate = rate
		}
	}
}

// Provider implements stt.StreamProvider over a WebSocket gateway.
type Provider struct {
	endpoint   string
	token      string
	sampleRate int
}

// New creates a Provider for the given wss:// endpoint.
func New(endpoint string, opts ...Option) (*Provider, error) {
	if endpoint == "" {
		return nil, errors.New("stream: endpoint must not be empty")
	}
	p := &Provider{
		endpoint:   endpoint,
		sampleRate: defaultSampleRate,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a streaming transcription session.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.Session, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("stream: build URL: %w", err)
	}

	headers := http.Header{}
	if p.token != "" {
		headers.Set("Authorization", "Bearer "+p.token)
	}

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("stream: dial: %w", err)
	}

	sess := &session{
		conn:       conn,
		results:    make(chan stt.Result, resultBuffer),
		audio:      make(chan []byte, audioBuffer),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}

	sess.wg.Add(2)
	go sess.readLoop(ctx)
	go sess.writeLoop(ctx)

	return sess, nil
}

// buildURL constructs the gateway endpoint URL for the given config.
func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	sr := cfg.SampleRate
	if sr == 0 {
		sr = p.sampleRate
	}

	q := u.Query()
	q.Set("sample_rate", strconv.Itoa(sr))
	q.Set("encoding", "pcm16le")
	if cfg.Channels > 0 {
		q.Set("channels", strconv.Itoa(cfg.Channels))
	}
	if cfg.Language != "" {
		q.Set("language", cfg.Language)
	}
	if cfg.InterimResults {
		q.Set("interim_results", "true")
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Ensure Provider implements stt.StreamProvider at compile time.
var _ stt.StreamProvider = (*Provider)(nil)

// ---- session ----

// gatewayResponse is the JSON structure sent by the gateway in text frames.
type gatewayResponse struct {
	Type       string  `json:"type"`
	Text       string  `json:"text"`
	IsFinal    bool    `json:"is_final"`
	Confidence float64 `json:"confidence"`
	Language   string  `json:"language"`
}

// session is a live gateway streaming session. It implements stt.Session.
type session struct {
	conn    *websocket.Conn
	results chan stt.Result
	audio   chan []byte

	done       chan struct{}
	writerDone chan struct{}
	once       sync.Once
	wg         sync.WaitGroup
}

// SendAudio queues mono float PCM for delivery as a binary frame.
func (s *session) SendAudio(samples []float32) error {
	select {
	case <-s.done:
		return stt.ErrSessionClosed
	default:
	}
	select {
	case s.audio <- audio.EncodePCM16(samples):
		return nil
	case <-s.done:
		return stt.ErrSessionClosed
	}
}

// Results returns the channel of interim and final hypotheses.
func (s *session) Results() <-chan stt.Result { return s.results }

// Close flushes pending audio and terminates the session. The connection is
// torn down before the final wait: the read loop blocks in conn.Read and a
// gateway that ignores the close message would otherwise stall Close forever.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		select {
		case <-s.writerDone:
		case <-time.After(closeFlushTimeout):
		}
		_ = s.conn.Write(context.Background(), websocket.MessageText, []byte(`{"type":"close"}`))
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
		s.wg.Wait()
	})
	return nil
}

// writeLoop drains the audio channel into binary frames.
func (s *session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.writerDone)
	for {
		select {
		case chunk, ok := <-s.audio:
			if !ok {
				return
			}
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-s.done:
			// Flush whatever is already queued before exiting.
			for {
				select {
				case chunk, ok := <-s.audio:
					if !ok {
						return
					}
					_ = s.conn.Write(ctx, websocket.MessageBinary, chunk)
				default:
					return
				}
			}
		}
	}
}

// readLoop receives JSON messages and dispatches them to the results channel.
func (s *session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.results)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			// Normal close or context cancellation.
			return
		}

		r, ok := parseResponse(msg)
		if !ok {
			continue
		}
		select {
		case s.results <- r:
		case <-s.done:
		}
	}
}

// parseResponse parses a raw gateway message into a Result. Returns
// (zero, false) for control messages and malformed frames.
func parseResponse(data []byte) (stt.Result, bool) {
	var resp gatewayResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return stt.Result{}, false
	}
	if resp.Type != "" && resp.Type != "result" {
		return stt.Result{}, false
	}
	if resp.Text == "" && !resp.IsFinal {
		return stt.Result{}, false
	}
	return stt.Result{
		Text:       resp.Text,
		IsFinal:    resp.IsFinal,
		Confidence: resp.Confidence,
		Language:   resp.Language,
	}, true
}

// Ensure session implements stt.Session at compile time.
var _ stt.Session = (*session)(nil)
