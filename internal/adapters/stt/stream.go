package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/YuriyZhabov/stellar-voice-agent/internal/ports"
)

// streamResultBuffer bounds the result channel; the consumer must keep up
// or the stream loop blocks against backpressure.
const streamResultBuffer = 32

type streamConfigMessage struct {
	Model          string `json:"model"`
	Language       string `json:"language,omitempty"`
	SampleRate     int    `json:"sample_rate"`
	Channels       int    `json:"channels"`
	Encoding       string `json:"encoding"`
	InterimResults bool   `json:"interim_results"`
	EndpointingMs  int    `json:"endpointing_ms"`
}

type streamResultMessage struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Language   string  `json:"language,omitempty"`
	IsFinal    bool    `json:"is_final"`
}

// TranscribeStream feeds audio chunks over a websocket and yields partial
// and final results on the returned channel. The connection auto-reconnects
// up to MaxReconnections with exponential backoff; when attempts are
// exhausted, a final result carrying the error is delivered and the channel
// closes. Closing the chunk channel or cancelling the context also
// terminates the stream.
func (f *Facade) TranscribeStream(ctx context.Context, chunks <-chan []byte, connectionID string) (<-chan *ports.STTResult, error) {
	conn, err := f.dialStream(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect stream: %w", err)
	}

	results := make(chan *ports.STTResult, streamResultBuffer)
	go f.streamLoop(ctx, conn, chunks, results, connectionID)
	return results, nil
}

func (f *Facade) dialStream(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if f.cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+f.cfg.APIKey)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.cfg.StreamURL, header)
	if err != nil {
		return nil, err
	}

	cfgMsg := streamConfigMessage{
		Model:          f.cfg.Model,
		Language:       f.cfg.Language,
		SampleRate:     f.cfg.SampleRate,
		Channels:       f.cfg.Channels,
		Encoding:       f.cfg.Encoding,
		InterimResults: f.cfg.InterimResults,
		EndpointingMs:  f.cfg.EndpointingMs,
	}
	if err := conn.WriteJSON(cfgMsg); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send stream config: %w", err)
	}
	return conn, nil
}

func (f *Facade) streamLoop(ctx context.Context, conn *websocket.Conn, chunks <-chan []byte, results chan<- *ports.STTResult, connectionID string) {
	defer close(results)
	defer func() { conn.Close() }()

	readErr := make(chan error, 1)
	startReader := func(c *websocket.Conn) chan struct{} {
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				_, data, err := c.ReadMessage()
				if err != nil {
					select {
					case readErr <- err:
					default:
					}
					return
				}
				var msg streamResultMessage
				if err := json.Unmarshal(data, &msg); err != nil {
					slog.Warn("stt stream: unparseable result", "connection_id", connectionID, "error", err)
					continue
				}
				select {
				case results <- &ports.STTResult{
					Text:       msg.Text,
					Confidence: msg.Confidence,
					Language:   msg.Language,
					IsFinal:    msg.IsFinal,
				}:
				case <-ctx.Done():
					return
				}
			}
		}()
		return done
	}

	readerDone := startReader(conn)
	reconnects := 0

	for {
		select {
		case <-ctx.Done():
			return

		case err := <-readErr:
			<-readerDone
			conn.Close()
			next, rerr := f.reconnectStream(ctx, connectionID, &reconnects, err)
			if rerr != nil {
				emitStreamFailure(ctx, results, rerr)
				return
			}
			conn = next
			readerDone = startReader(conn)

		case chunk, ok := <-chunks:
			if !ok {
				// Input finished; tell the server and drain remaining results
				// until it closes the socket.
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"finalize"}`))
				select {
				case <-readerDone:
				case <-ctx.Done():
				case <-time.After(f.cfg.RequestTimeout):
				}
				return
			}

			if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				conn.Close()
				<-readerDone
				next, rerr := f.reconnectStream(ctx, connectionID, &reconnects, err)
				if rerr != nil {
					emitStreamFailure(ctx, results, rerr)
					return
				}
				conn = next
				readerDone = startReader(conn)
				// The chunk that failed mid-write is dropped; the next
				// utterance re-primes recognition.
			}
		}
	}
}

// emitStreamFailure delivers a terminal error result so the consumer can
// tell exhaustion apart from a normal end of stream. Skipped when the
// context is already gone.
func emitStreamFailure(ctx context.Context, results chan<- *ports.STTResult, err error) {
	if ctx.Err() != nil {
		return
	}
	select {
	case results <- &ports.STTResult{Err: err, IsFinal: true}:
	case <-ctx.Done():
	}
}

func (f *Facade) reconnectStream(ctx context.Context, connectionID string, reconnects *int, cause error) (*websocket.Conn, error) {
	for {
		if *reconnects >= f.cfg.MaxReconnections {
			slog.Error("stt stream: reconnect attempts exhausted",
				"connection_id", connectionID,
				"attempts", *reconnects,
				"error", cause)
			return nil, fmt.Errorf("stream reconnects exhausted: %w", cause)
		}

		base := f.cfg.StreamReconnectDelay
		if base <= 0 {
			base = time.Second
		}
		delay := base * time.Duration(1<<uint(*reconnects))
		*reconnects++
		slog.Warn("stt stream: reconnecting",
			"connection_id", connectionID,
			"attempt", *reconnects,
			"delay", delay,
			"error", cause)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}

		conn, err := f.dialStream(ctx)
		if err == nil {
			slog.Info("stt stream: reconnected", "connection_id", connectionID, "attempt", *reconnects)
			return conn, nil
		}
		cause = err
	}
}
