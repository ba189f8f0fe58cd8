package ws

import (
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/omochice/tine/pkg/protocol"
)

// EchoHandler returns a Handler that writes every data frame back to the
// peer, answers pings and completes the closing handshake.
func EchoHandler(logger *zap.Logger) Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(conn *Conn) {
		log := logger.With(zap.String("remote", conn.RemoteAddr()))
		log.Info("Client connected")
		defer log.Info("Client disconnected")

		for {
			f, err := conn.ReadFrame()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					log.Warn("Failed to read frame", zap.Error(err))
				}
				return
			}

			var reply protocol.Frame
			switch f.Kind {
			case protocol.KindPing:
				reply = protocol.Pong(f.Payload)
			case protocol.KindPong:
				continue
			case protocol.KindClose:
				if err := conn.WriteFrame(protocol.Close("")); err != nil {
					log.Warn("Failed to write close frame", zap.Error(err))
				}
				return
			default:
				log.Debug("Echoing frame", zap.Stringer("kind", f.Kind), zap.Int("size", len(f.Payload)))
				reply = f
			}

			if err := conn.WriteFrame(reply); err != nil {
				log.Warn("Failed to write frame", zap.Error(err))
				return
			}
		}
	}
}
