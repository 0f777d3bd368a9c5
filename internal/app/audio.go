package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/mockinterview/internal/interview"
	"github.com/MrWong99/mockinterview/internal/observe"
)

// maxAudioFrame bounds a single PCM16 chunk sent by the browser.
const maxAudioFrame = 64 << 10

// navigateMessage tells the browser where to go once the session exits.
type navigateMessage struct {
	Type        string                `json:"type"`
	Destination interview.Destination `json:"destination"`
}

// sessionAudio bridges the call audio to a browser WebSocket. Binary
// messages from the client are candidate PCM16 audio; binary messages to the
// client are agent audio. When the session exits, a JSON text message with
// the destination is sent and the socket is closed.
func (a *App) sessionAudio(w http.ResponseWriter, r *http.Request) {
	s, navigate, err := a.sessions.Session(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	port, ok := s.AudioPort()
	if !ok {
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: "voice engine does not expose call audio"})
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		// Accept already wrote the response.
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxAudioFrame)

	ctx := observe.WithSessionID(r.Context(), s.ID())
	log := observe.Logger(ctx)
	log.Debug("audio bridge connected")

	g, ctx := errgroup.WithContext(ctx)

	// Browser → engine.
	g.Go(func() error {
		for {
			typ, data, err := conn.Read(ctx)
			if err != nil {
				return err
			}
			if typ != websocket.MessageBinary {
				continue
			}
			if err := port.SendAudio(data); err != nil {
				return fmt.Errorf("send audio: %w", err)
			}
		}
	})

	// Engine → browser, then the exit decision.
	g.Go(func() error {
		audio := port.Audio()
		done := s.Done()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case chunk, ok := <-audio:
				if !ok {
					audio = nil
					continue
				}
				if err := conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
					return err
				}
			case d := <-navigate:
				return a.finishBridge(ctx, conn, d)
			case <-done:
				// Stay decisions are never navigated.
				if out := s.Outcome(); out.Destination == interview.DestinationStay {
					return a.finishBridge(ctx, conn, out.Destination)
				}
				done = nil
			}
		}
	})

	err = g.Wait()
	switch {
	case err == nil, errors.Is(err, context.Canceled):
	case websocket.CloseStatus(err) == websocket.StatusNormalClosure,
		websocket.CloseStatus(err) == websocket.StatusGoingAway:
		log.Debug("audio bridge closed by client")
	default:
		log.Warn("audio bridge ended", "err", err)
	}
}

func (a *App) finishBridge(ctx context.Context, conn *websocket.Conn, d interview.Destination) error {
	if err := wsjson.Write(ctx, conn, navigateMessage{Type: "navigate", Destination: d}); err != nil {
		return err
	}
	if err := conn.Close(websocket.StatusNormalClosure, "session finished"); err != nil {
		return err
	}
	return nil
}
