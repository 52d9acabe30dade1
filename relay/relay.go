// Package relay bridges one upstream streaming chat call to one outbound
// event stream, persisting durable state at fixed lifecycle points: the user
// turn before the upstream dial, the assistant turn plus conversation
// mapping and thread index at the upstream end-of-turn signal.
package relay

import (
	"context"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"dify-portal/golang/models"
	"dify-portal/golang/store"
	"dify-portal/golang/upstream"
)

// Outbound event names.
const (
	EventMeta    = "meta"
	EventDelta   = "delta"
	EventReplace = "replace"
	EventDone    = "done"
	EventError   = "error"
)

// Emitter receives one outbound event. Implementations write it to the
// client (SSE framing) or collect it in tests.
type Emitter func(event string, data any)

// MetaData is the payload of the meta event, sent once the upstream
// connection is established and before the first content token.
type MetaData struct {
	Status   string `json:"status"`
	Model    string `json:"model"`
	TS       string `json:"ts"`
	ThreadID string `json:"thread_id"`
}

// TextData carries incremental (delta) or wholesale (replace) answer text.
type TextData struct {
	Text string `json:"text"`
}

// DoneData is the terminal payload of a successful turn.
type DoneData struct {
	ThreadID string `json:"thread_id"`
	Answer   string `json:"answer"`
	Model    string `json:"model"`
	TS       string `json:"ts"`
}

// ErrorData is the terminal payload of a failed turn.
type ErrorData struct {
	Message string `json:"message"`
}

// Params describes one chat turn. Message must already be validated
// non-empty; ThreadID may be empty for a fresh thread.
type Params struct {
	UserID   string
	ModelKey string
	APIKey   string
	Message  string
	ThreadID string
}

// Relay forwards upstream streams to clients.
type Relay struct {
	store  *store.Store
	client *upstream.Client
	logger *slog.Logger
}

// New creates a Relay.
func New(st *store.Store, client *upstream.Client, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Relay{store: st, client: client, logger: logger}
}

// NewThreadID generates an opaque 128-bit thread token as 32 hex characters.
func NewThreadID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// Run executes one chat turn: persist the user turn, dial upstream, forward
// events until a terminal condition. Every outcome, success or failure, is
// reported through emit; once Run is called the HTTP status is already
// committed. An upstream failure after the dial loses the partial assistant
// answer: nothing of that turn is persisted.
func (r *Relay) Run(ctx context.Context, p Params, emit Emitter) {
	threadID := p.ThreadID
	if threadID == "" {
		threadID = NewThreadID()
	}

	conversationID, err := r.store.GetConversationID(p.UserID, threadID, p.ModelKey)
	if err != nil {
		r.logger.Warn("conversation lookup failed", "user", p.UserID, "thread", threadID, "error", err)
		conversationID = ""
	}

	// the user turn is durable before the upstream call can fail
	tsUser, err := r.store.AppendHistory(p.UserID, models.RoleUser, p.ModelKey, threadID, conversationID, p.Message)
	if err != nil {
		r.logger.Error("user turn persist failed", "user", p.UserID, "thread", threadID, "error", err)
		emit(EventError, ErrorData{Message: "failed to save message"})
		return
	}
	if err := r.store.UpsertThread(p.UserID, threadID, models.Preview(p.Message), tsUser); err != nil {
		r.logger.Warn("thread upsert failed", "user", p.UserID, "thread", threadID, "error", err)
	}

	stream, err := r.client.Chat(ctx, upstream.Request{
		Query:          p.Message,
		ConversationID: conversationID,
		User:           p.UserID,
		APIKey:         p.APIKey,
	})
	if err != nil {
		emit(EventError, ErrorData{Message: err.Error()})
		return
	}
	defer stream.Close()

	emit(EventMeta, MetaData{Status: "start", Model: p.ModelKey, TS: tsUser, ThreadID: threadID})

	var answer string
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("client disconnected", "user", p.UserID, "thread", threadID)
			return
		default:
		}

		ev, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			emit(EventError, ErrorData{Message: err.Error()})
			return
		}

		// the upstream's conversation id always wins, latest value seen
		if ev.ConversationID != "" {
			conversationID = ev.ConversationID
		}

		switch ev.Event {
		case upstream.EventMessage:
			if ev.Answer != "" {
				answer += ev.Answer
				emit(EventDelta, TextData{Text: ev.Answer})
			}

		case upstream.EventMessageReplace:
			answer = ev.Answer
			emit(EventReplace, TextData{Text: ev.Answer})

		case upstream.EventMessageEnd:
			tsBot, err := r.store.AppendHistory(p.UserID, models.RoleBot, p.ModelKey, threadID, conversationID, answer)
			if err != nil {
				r.logger.Error("assistant turn persist failed", "user", p.UserID, "thread", threadID, "error", err)
				emit(EventError, ErrorData{Message: "failed to save answer"})
				return
			}
			if err := r.store.SetConversationID(p.UserID, threadID, p.ModelKey, conversationID, tsBot); err != nil {
				r.logger.Warn("conversation mapping update failed", "user", p.UserID, "thread", threadID, "error", err)
			}
			if err := r.store.UpsertThread(p.UserID, threadID, "", tsBot); err != nil {
				r.logger.Warn("thread upsert failed", "user", p.UserID, "thread", threadID, "error", err)
			}
			emit(EventDone, DoneData{ThreadID: threadID, Answer: answer, Model: p.ModelKey, TS: tsBot})
			return

		case upstream.EventError:
			msg := ev.Message
			if msg == "" {
				msg = "upstream error"
			}
			emit(EventError, ErrorData{Message: msg})
			return

		default:
			// unrecognized event types are skipped
		}
	}
}
