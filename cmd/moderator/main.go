// Command moderator reviews relayed random-chat text off the hot path. It
// consumes moderation.check as part of a NATS queue group and answers
// blocked messages on moderation.result.<conn_id>.
package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/whisper/randomchat/internal/config"
	"github.com/whisper/randomchat/internal/logger"
	"github.com/whisper/randomchat/internal/messaging"
	"github.com/whisper/randomchat/internal/moderation"
)

type resultPublisher interface {
	PublishModerationResult(connID string, data []byte) error
}

type moderator struct {
	filter *moderation.Filter
	pub    resultPublisher
	log    *zap.Logger
}

// handle reviews one request. Clean verdicts are not published.
func (m *moderator) handle(data []byte) {
	var req moderation.Request
	if err := json.Unmarshal(data, &req); err != nil {
		m.log.Warn("bad moderation request", zap.Error(err))
		return
	}
	if req.ConnID == "" {
		m.log.Warn("moderation request without connection id", zap.String("message_id", req.MessageID))
		return
	}

	res := m.filter.Review(req)
	if !res.Blocked {
		m.log.Debug("clean", zap.String("conn_id", req.ConnID), zap.String("message_id", req.MessageID))
		return
	}

	m.log.Info("flagged",
		zap.String("conn_id", req.ConnID),
		zap.String("user_id", req.UserID),
		zap.String("conversation_id", req.ConversationID),
		zap.String("reason", res.Reason),
		zap.String("term", res.Term))

	out, err := json.Marshal(res)
	if err != nil {
		m.log.Error("marshal moderation result failed", zap.Error(err))
		return
	}
	if err := m.pub.PublishModerationResult(req.ConnID, out); err != nil {
		m.log.Error("publish moderation result failed", zap.String("conn_id", req.ConnID), zap.Error(err))
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Build(logger.DefaultConfig()).Fatal("load config", zap.Error(err))
	}
	log := logger.Build(cfg.Log).Named("moderator")
	defer func() { _ = log.Sync() }()

	natsCfg := cfg.NATS
	natsCfg.Name = "randomchat-moderator"
	natsClient, err := messaging.NewNATSClient(natsCfg, log)
	if err != nil {
		log.Fatal("connect to nats", zap.Error(err))
	}
	defer natsClient.Close()

	m := &moderator{filter: moderation.NewFilter(), pub: natsClient, log: log}
	if err := natsClient.SubscribeModerationCheck(m.handle); err != nil {
		log.Fatal("subscribe moderation checks", zap.Error(err))
	}

	log.Info("moderator running", zap.String("nats_url", natsCfg.URL))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutting down", zap.String("signal", sig.String()))
}
