// Command psique-watch follows a participant's conversations from the configured store,
// the way the app's conversation list and thread screens do. With --conversation it also
// opens that thread, marks incoming messages read and sends each stdin line as a message.
package main

import (
	"bufio"
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/psiqueia/psique-chat/internal/chat"
	"github.com/psiqueia/psique-chat/internal/config"
	"github.com/psiqueia/psique-chat/internal/kv"
	"github.com/psiqueia/psique-chat/internal/logger"
	"github.com/psiqueia/psique-chat/internal/session"
)

func main() {
	var (
		participant  = pflag.String("participant", "", "participant id to watch (required)")
		name         = pflag.String("name", "", "display name used when sending")
		role         = pflag.String("role", string(chat.RolePatient), "participant role: patient or psychologist")
		conversation = pflag.String("conversation", "", "conversation id to open as a thread")
	)
	pflag.Parse()

	me := chat.Identity{ID: *participant, Name: *name, Role: chat.Role(*role)}
	if err := me.Validate(); err != nil {
		logger.L.Error("invalid participant", "error", err)
		pflag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.L.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := kv.Open(ctx, cfg.Storage)
	if err != nil {
		logger.L.Error("failed to open storage", "driver", cfg.Storage.Driver, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	svc := chat.NewService(store, chat.Options{
		CountSenderUnread: cfg.Chat.CountSenderUnread,
		WriteRetries:      cfg.Chat.WriteRetries,
	}, chat.LogAlerter)

	list := session.NewConversationList(svc, me.ID, session.ConversationListOptions(cfg.Sync), logConversations)
	if err := list.Start(ctx); err != nil {
		logger.L.Warn("initial conversation load failed", "error", err)
	}
	defer list.Stop()

	if *conversation != "" {
		thread := session.NewThread(svc, *conversation, me, session.ThreadOptions(cfg.Sync), logThread)
		if err := thread.Start(ctx); err != nil {
			logger.L.Warn("initial thread load failed", "conversation", *conversation, "error", err)
		}
		defer thread.Stop()
		go sendLines(ctx, thread)
	}

	<-ctx.Done()
}

func logConversations(snap session.ConversationSnapshot) {
	if snap.Err != nil {
		logger.L.Warn("conversation refresh failed", "error", snap.Err)
		return
	}
	now := time.Now()
	logger.L.Info("conversations", "count", len(snap.Conversations), "unread", snap.TotalUnread)
	for _, c := range snap.Conversations {
		var last, when string
		if c.LastMessage != nil {
			last = c.LastMessage.Text
			when = chat.FormatTimestamp(c.LastMessage.Timestamp, now)
		}
		logger.L.Info("conversation", "id", c.ID, "patient", c.PatientName, "psychologist", c.PsychologistName,
			"unread", c.UnreadCount, "last", last, "when", when)
	}
}

func logThread(snap session.ThreadSnapshot) {
	logger.L.Debug("thread", "state", snap.State, "messages", len(snap.Messages))
	if snap.Draft != "" {
		logger.L.Warn("message not sent, kept as draft", "draft", snap.Draft, "error", snap.Err)
	}
}

func sendLines(ctx context.Context, thread *session.Thread) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		msg, err := thread.Send(ctx, scanner.Text())
		switch {
		case errors.Is(err, chat.ErrEmptyMessage):
			continue
		case err != nil:
			logger.L.Warn("send failed", "error", err)
		default:
			logger.L.Info("sent", "message", msg.ID)
		}
	}
}
