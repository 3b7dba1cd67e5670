package moderation

// Request is published to moderation.check by the gateway for every relayed
// text message.
type Request struct {
	ConnID         string `json:"conn_id"`
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Text           string `json:"text"`
	Ts             int64  `json:"ts"`
}

// Result is published to moderation.result.<connId> when a message is
// blocked.
type Result struct {
	ConnID         string `json:"conn_id"`
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Blocked        bool   `json:"blocked"`
	Reason         string `json:"reason"`
	Term           string `json:"term"`
}

// Review runs the filter over req and returns the verdict to publish back.
func (f *Filter) Review(req Request) Result {
	res := f.Check(req.Text)
	return Result{
		ConnID:         req.ConnID,
		UserID:         req.UserID,
		ConversationID: req.ConversationID,
		MessageID:      req.MessageID,
		Blocked:        res.Blocked,
		Reason:         res.Reason,
		Term:           res.Term,
	}
}
