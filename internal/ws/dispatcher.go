package ws

import (
	"go.uber.org/zap"

	"github.com/whisper/randomchat/internal/logger"
	"github.com/whisper/randomchat/internal/protocol"
)

// MessageHandler handles one parsed client message. msg is the concrete
// struct returned by protocol.ParseClientMessage (protocol.ChatMsg,
// protocol.FriendResolveMsg, ...).
type MessageHandler func(conn *Connection, msg interface{})

// MessageDispatcher routes incoming frames to handlers by message type. Ping
// is answered internally; malformed or unsupported frames get a random.error
// reply.
type MessageDispatcher struct {
	handlers map[string]MessageHandler
	log      *zap.Logger
}

// NewMessageDispatcher creates an empty dispatcher.
func NewMessageDispatcher(log *zap.Logger) *MessageDispatcher {
	return &MessageDispatcher{
		handlers: make(map[string]MessageHandler),
		log:      logger.OrNop(log).Named("dispatch"),
	}
}

// Register associates a handler with a message type, replacing any previous
// one.
func (d *MessageDispatcher) Register(msgType string, handler MessageHandler) {
	d.handlers[msgType] = handler
}

// Dispatch is the Server's onMessage callback.
func (d *MessageDispatcher) Dispatch(conn *Connection, data []byte) {
	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		d.log.Debug("parse error", zap.String("conn_id", conn.ID), zap.String("type", msgType), zap.Error(err))
		if msgType != "" && d.handlers[msgType] == nil && msgType != protocol.TypePing {
			d.sendError(conn, "unsupported_type", "unsupported message type")
			return
		}
		d.sendError(conn, "parse_error", "invalid message format")
		return
	}

	if msgType == protocol.TypePing {
		d.sendPong(conn)
		return
	}

	handler, ok := d.handlers[msgType]
	if !ok {
		d.log.Debug("unsupported message type", zap.String("conn_id", conn.ID), zap.String("type", msgType))
		d.sendError(conn, "unsupported_type", "unsupported message type")
		return
	}

	handler(conn, msg)
}

func (d *MessageDispatcher) sendError(conn *Connection, code, message string) {
	data, err := protocol.NewServerMessage(protocol.TypeRandomError, protocol.ErrorMsg{
		Code:    code,
		Message: message,
	})
	if err != nil {
		d.log.Error("failed to build error message", zap.String("conn_id", conn.ID), zap.Error(err))
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		d.log.Debug("failed to send error message", zap.String("conn_id", conn.ID), zap.Error(err))
	}
}

func (d *MessageDispatcher) sendPong(conn *Connection) {
	conn.Touch()

	data, err := protocol.NewServerMessage(protocol.TypePong, protocol.PongMsg{})
	if err != nil {
		d.log.Error("failed to build pong", zap.String("conn_id", conn.ID), zap.Error(err))
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		d.log.Debug("failed to send pong", zap.String("conn_id", conn.ID), zap.Error(err))
	}
}
