// Package bot is the Telegram front end for consultations.
package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/abhisek/doctorai/internal/consult"
)

const (
	// maxPhotoBytes bounds photo downloads.
	maxPhotoBytes = 10 << 20

	// maxInFlight bounds concurrently handled updates.
	maxInFlight = 8

	photoOnlyQuestion = "Photo attached"
)

// Client is the subset of the Telegram API the bot uses. *tgbotapi.BotAPI
// implements it.
type Client interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFileDirectURL(fileID string) (string, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Consulter runs consultations.
type Consulter interface {
	Analyze(ctx context.Context, req consult.Request) (*consult.Result, error)
	Registry() *consult.Registry
}

// Config configures the bot.
type Config struct {
	WebAppURL    string
	HistoryTurns int
	PollTimeout  int // seconds
}

// Bot answers Telegram messages with consultations. Per-chat mode and
// history live in memory only.
type Bot struct {
	api      Client
	svc      Consulter
	cfg      Config
	sessions *sessions
	http     *http.Client
	logger   *zap.Logger
}

// New creates a Bot. A nil logger disables logging.
func New(api Client, svc Consulter, cfg Config, logger *zap.Logger) *Bot {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 60
	}
	return &Bot{
		api:      api,
		svc:      svc,
		cfg:      cfg,
		sessions: newSessions(svc.Registry().Default().ID, cfg.HistoryTurns),
		http:     &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
	}
}

// Run long-polls for updates until ctx is done, handling up to
// maxInFlight updates concurrently.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.cfg.PollTimeout
	updates := b.api.GetUpdatesChan(u)

	b.logger.Info("telegram bot started", zap.String("web_app_url", b.cfg.WebAppURL))

	var g errgroup.Group
	g.SetLimit(maxInFlight)
	defer g.Wait()

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.logger.Info("telegram bot stopping")
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			g.Go(func() error {
				b.HandleUpdate(ctx, update)
				return nil
			})
		}
	}
}

// HandleUpdate processes one update.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return
	}

	if msg.IsCommand() {
		switch msg.Command() {
		case "start":
			b.handleStart(msg)
		case "mode":
			b.handleMode(msg)
		default:
			b.send(msg.Chat.ID, "Unknown command. Use /start or /mode <agent>.", false, nil)
		}
		return
	}
	b.handleConsult(ctx, msg)
}

func (b *Bot) handleStart(msg *tgbotapi.Message) {
	agent := b.sessions.agent(msg.Chat.ID)
	text := fmt.Sprintf("Hi! I am DoctorAI.\nDefault mode: %s.\nSend a photo + description, or tap to open the mini-app UI.", agent)

	var markup any
	if b.cfg.WebAppURL != "" {
		markup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL("Open DoctorAI", b.cfg.WebAppURL)),
		)
	}
	b.send(msg.Chat.ID, text, false, markup)
}

func (b *Bot) handleMode(msg *tgbotapi.Message) {
	ids := b.agentIDs()
	arg := strings.ToLower(strings.TrimSpace(msg.CommandArguments()))
	if arg == "" {
		b.send(msg.Chat.ID, "Usage: /mode <"+strings.Join(ids, "|")+">", false, nil)
		return
	}
	p, ok := b.svc.Registry().Lookup(arg)
	if !ok {
		b.send(msg.Chat.ID, "Unknown agent. Use "+strings.Join(ids, " or ")+".", false, nil)
		return
	}
	b.sessions.setAgent(msg.Chat.ID, p.ID)
	b.send(msg.Chat.ID, "Mode set to "+p.ID+".", false, nil)
}

func (b *Bot) handleConsult(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		text = strings.TrimSpace(msg.Caption)
	}
	if text == "" && len(msg.Photo) == 0 {
		b.send(chatID, "Send a short description, optionally with a photo.", false, nil)
		return
	}

	log := b.logger.With(zap.Int64("chat_id", chatID))

	var image *consult.Image
	if len(msg.Photo) > 0 {
		photo := msg.Photo[len(msg.Photo)-1]
		data, err := b.download(ctx, photo.FileID)
		if err != nil {
			log.Warn("photo download failed", zap.Error(err))
			b.send(chatID, "Sorry, I could not download that photo. Please try again.", false, nil)
			return
		}
		image = &consult.Image{Data: data, Filename: photo.FileUniqueID + ".jpg"}
	}

	question := text
	if question == "" {
		question = photoOnlyQuestion
	}

	agent, history := b.sessions.snapshot(chatID)
	res, err := b.svc.Analyze(ctx, consult.Request{
		Question: question,
		AgentID:  agent,
		Image:    image,
		History:  history,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		log.Error("consultation failed", zap.Error(err))
		b.send(chatID, "Sorry, I could not process that right now.", false, nil)
		return
	}

	b.send(chatID, FormatReply(res.Verified), true, nil)
	b.sessions.appendTurn(chatID, consult.Turn{Question: question, Answer: res.Verified})
}

// send delivers text, falling back to plain text when Telegram rejects the
// Markdown.
func (b *Bot) send(chatID int64, text string, markdown bool, markup any) {
	m := tgbotapi.NewMessage(chatID, text)
	if markdown {
		m.ParseMode = tgbotapi.ModeMarkdown
	}
	if markup != nil {
		m.ReplyMarkup = markup
	}

	_, err := b.api.Send(m)
	if err != nil && markdown {
		b.logger.Debug("markdown reply rejected, resending as plain text", zap.Error(err))
		m.ParseMode = ""
		_, err = b.api.Send(m)
	}
	if err != nil {
		b.logger.Warn("telegram send failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (b *Bot) download(ctx context.Context, fileID string) ([]byte, error) {
	url, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("resolve file: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPhotoBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if len(data) > maxPhotoBytes {
		return nil, fmt.Errorf("photo exceeds %d bytes", maxPhotoBytes)
	}
	return data, nil
}

func (b *Bot) agentIDs() []string {
	profiles := b.svc.Registry().Profiles()
	ids := make([]string, 0, len(profiles))
	for _, p := range profiles {
		ids = append(ids, p.ID)
	}
	return ids
}

// sessions holds per-chat mode and recent turns.
type sessions struct {
	mu           sync.Mutex
	defaultAgent string
	maxTurns     int
	chats        map[int64]*chatSession
}

type chatSession struct {
	agent   string
	history []consult.Turn
}

func newSessions(defaultAgent string, maxTurns int) *sessions {
	return &sessions{defaultAgent: defaultAgent, maxTurns: maxTurns, chats: map[int64]*chatSession{}}
}

func (s *sessions) get(chatID int64) *chatSession {
	c, ok := s.chats[chatID]
	if !ok {
		c = &chatSession{agent: s.defaultAgent}
		s.chats[chatID] = c
	}
	return c
}

func (s *sessions) agent(chatID int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(chatID).agent
}

func (s *sessions) setAgent(chatID int64, agent string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.get(chatID).agent = agent
}

// snapshot returns the chat's agent and a copy of its history.
func (s *sessions) snapshot(chatID int64) (string, []consult.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.get(chatID)
	history := make([]consult.Turn, len(c.history))
	copy(history, c.history)
	return c.agent, history
}

func (s *sessions) appendTurn(chatID int64, turn consult.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.get(chatID)
	c.history = append(c.history, turn)
	if s.maxTurns >= 0 && len(c.history) > s.maxTurns {
		c.history = c.history[len(c.history)-s.maxTurns:]
	}
}
