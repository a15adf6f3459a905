package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/govorun-ai/govorun/pkg/provider/stt"
)

// ---- URL / query-param tests ----

func TestBuildURL_Defaults(t *testing.T) {
	p, err := New("wss://stt.example.com/v1/stream")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.StreamConfig{})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	assertEqual(t, "sample_rate", "16000", q.Get("sample_rate"))
	assertEqual(t, "encoding", "pcm16le", q.Get("encoding"))
	assertEqual(t, "channels", "", q.Get("channels"))
	assertEqual(t, "language", "", q.Get("language"))
	assertEqual(t, "interim_results", "", q.Get("interim_results"))
}

func TestBuildURL_FullConfig(t *testing.T) {
	p, err := New("wss://stt.example.com/v1/stream", WithSampleRate(48000))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.StreamConfig{
		Channels:       1,
		Language:       "ru-RU",
		InterimResults: true,
	})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	q := u.Query()

	assertEqual(t, "sample_rate", "48000", q.Get("sample_rate"))
	assertEqual(t, "channels", "1", q.Get("channels"))
	assertEqual(t, "language", "ru-RU", q.Get("language"))
	assertEqual(t, "interim_results", "true", q.Get("interim_results"))
}

func TestBuildURL_CfgSampleRateWins(t *testing.T) {
	p, err := New("wss://stt.example.com/v1/stream", WithSampleRate(48000))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.StreamConfig{SampleRate: 8000})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	assertEqual(t, "sample_rate", "8000", u.Query().Get("sample_rate"))
}

func TestNew_EmptyEndpoint(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("New with empty endpoint returned nil error")
	}
}

// ---- response parsing tests ----

func TestParseResponse(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		want    stt.Result
		ok      bool
	}{
		{
			name:    "final result",
			payload: `{"type":"result","text":"hello world","is_final":true,"confidence":0.93,"language":"en"}`,
			want:    stt.Result{Text: "hello world", IsFinal: true, Confidence: 0.93, Language: "en"},
			ok:      true,
		},
		{
			name:    "interim result without type field",
			payload: `{"text":"hello wor","is_final":false,"confidence":0.6}`,
			want:    stt.Result{Text: "hello wor", Confidence: 0.6},
			ok:      true,
		},
		{
			name:    "empty final flushes",
			payload: `{"type":"result","text":"","is_final":true}`,
			want:    stt.Result{IsFinal: true},
			ok:      true,
		},
		{
			name:    "control message ignored",
			payload: `{"type":"keepalive"}`,
			ok:      false,
		},
		{
			name:    "empty interim ignored",
			payload: `{"type":"result","text":"","is_final":false}`,
			ok:      false,
		},
		{
			name:    "malformed ignored",
			payload: `{not json`,
			ok:      false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := parseResponse([]byte(tc.payload))
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if ok && got != tc.want {
				t.Errorf("result = %+v, want %+v", got, tc.want)
			}
		})
	}
}

// ---- session lifecycle tests ----

func TestSession_CloseReturnsWhenGatewayStaysSilent(t *testing.T) {
	accepted := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		close(accepted)
		// A misbehaving gateway: never reads, never answers the close
		// message. Hold the connection until the client tears it down.
		<-r.Context().Done()
		_ = c.CloseNow()
	}))
	defer srv.Close()

	p, err := New("ws" + strings.TrimPrefix(srv.URL, "http"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sess, err := p.StartStream(ctx, stt.StreamConfig{})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	<-accepted

	if err := sess.SendAudio([]float32{0.1, 0.2}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	closed := make(chan struct{})
	go func() {
		_ = sess.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(10 * time.Second):
		t.Fatal("Close hung on a gateway that ignores the close message")
	}

	if err := sess.SendAudio([]float32{0.3}); err != stt.ErrSessionClosed {
		t.Errorf("SendAudio after Close = %v, want ErrSessionClosed", err)
	}
}

func assertEqual(t *testing.T, name, want, got string) {
	t.Helper()
	if got != want {
		t.Errorf("%s = %q, want %q", name, got, want)
	}
}
