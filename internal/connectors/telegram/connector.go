// Package telegram binds the conversation engine to the Telegram Bot API.
// It normalizes updates into the engine's message contract and renders
// responses, including quick-reply buttons as inline keyboards.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/skedy/conversation-core/internal/channel"
	"github.com/skedy/conversation-core/internal/conversation"
	"github.com/skedy/conversation-core/pkg/logger"
)

// ChannelName identifies this adapter in sessions.
const ChannelName = "telegram"

// MessageHandler is the engine-side sink for normalized messages.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg channel.InboundMessage) (channel.BotResponse, error)
}

// Config holds the Telegram connector settings.
type Config struct {
	BotToken string `yaml:"bot_token" env:"TELEGRAM_BOT_TOKEN"`
	TenantID string `yaml:"tenant_id" env:"TELEGRAM_TENANT_ID"`
	Debug    bool   `yaml:"debug" env:"TELEGRAM_DEBUG" default:"false"`
}

// Connector polls Telegram and relays turns to the engine.
type Connector struct {
	bot     *bot.Bot
	cfg     Config
	handler MessageHandler
	log     logger.Logger
}

// NewConnector creates a Telegram connector.
func NewConnector(cfg Config, handler MessageHandler, log logger.Logger) (*Connector, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("bot token is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("message handler is required")
	}

	c := &Connector{
		cfg:     cfg,
		handler: handler,
		log:     log,
	}

	opts := []bot.Option{
		bot.WithDefaultHandler(c.handleUpdate),
	}
	if cfg.Debug {
		opts = append(opts, bot.WithDebug())
	}

	b, err := bot.New(cfg.BotToken, opts...)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	c.bot = b

	log.Info("telegram connector initialized")
	return c, nil
}

// Start polls for updates until the context is cancelled.
func (c *Connector) Start(ctx context.Context) error {
	c.log.Info("starting telegram polling")
	c.bot.Start(ctx)
	return nil
}

// Send implements channel.Adapter for operator replies pushed from outside a
// turn. recipientID is the Telegram chat ID.
func (c *Connector) Send(ctx context.Context, recipientID string, response channel.BotResponse) error {
	if response.Empty() {
		return nil
	}
	chatID, err := strconv.ParseInt(recipientID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", recipientID, err)
	}
	return c.send(ctx, chatID, response)
}

func (c *Connector) handleUpdate(ctx context.Context, _ *bot.Bot, update *models.Update) {
	switch {
	case update.CallbackQuery != nil:
		c.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		c.handleMessage(ctx, update.Message)
	}
}

func (c *Connector) handleMessage(ctx context.Context, msg *models.Message) {
	if msg.From == nil || msg.From.IsBot {
		return
	}
	if msg.Text == "" && msg.Voice == nil && msg.Audio == nil {
		c.log.Debug("skipping unsupported telegram update")
		return
	}

	inbound := channel.InboundMessage{
		Channel:     ChannelName,
		SenderID:    strconv.FormatInt(msg.Chat.ID, 10),
		RecipientID: strconv.FormatInt(msg.From.ID, 10),
		TenantID:    c.cfg.TenantID,
		Timestamp:   time.Unix(int64(msg.Date), 0),
		Text:        msg.Text,
		Attachments: c.extractAudio(ctx, msg),
	}

	c.dispatch(ctx, msg.Chat.ID, inbound)
}

// handleCallback treats a pressed inline button as a text turn carrying the
// button's callback data.
func (c *Connector) handleCallback(ctx context.Context, cq *models.CallbackQuery) {
	_, err := c.bot.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: cq.ID,
	})
	if err != nil {
		c.log.Warn("answer callback query failed", logger.ErrorField(err))
	}
	if cq.Message.Message == nil {
		return
	}

	chatID := cq.Message.Message.Chat.ID
	inbound := channel.InboundMessage{
		Channel:     ChannelName,
		SenderID:    strconv.FormatInt(chatID, 10),
		RecipientID: strconv.FormatInt(cq.From.ID, 10),
		TenantID:    c.cfg.TenantID,
		Timestamp:   time.Now(),
		Text:        cq.Data,
	}

	c.dispatch(ctx, chatID, inbound)
}

func (c *Connector) dispatch(ctx context.Context, chatID int64, inbound channel.InboundMessage) {
	response, err := c.handler.HandleMessage(ctx, inbound)
	if err != nil {
		c.log.Error("turn failed", logger.ErrorField(err),
			logger.StringField("chat_id", inbound.SenderID))
		_ = c.send(ctx, chatID, channel.BotResponse{
			Text: "Sorry, something went wrong on our side. Please try again.",
		})
		return
	}

	// An empty response means the turn was handled but nothing should be
	// rendered, e.g. while a human holds the conversation.
	if response.Empty() {
		return
	}
	if err := c.send(ctx, chatID, response); err != nil {
		c.log.Error("send failed", logger.ErrorField(err))
	}
}

func (c *Connector) send(ctx context.Context, chatID int64, response channel.BotResponse) error {
	params := &bot.SendMessageParams{
		ChatID: chatID,
		Text:   response.Text,
	}
	if len(response.Buttons) > 0 {
		rows := make([][]models.InlineKeyboardButton, 0, len(response.Buttons))
		for _, b := range response.Buttons {
			rows = append(rows, []models.InlineKeyboardButton{{
				Text:         b.Label,
				CallbackData: b.ID,
			}})
		}
		params.ReplyMarkup = &models.InlineKeyboardMarkup{InlineKeyboard: rows}
	}

	if _, err := c.bot.SendMessage(ctx, params); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

// extractAudio turns a voice note or audio file into an attachment with a
// resolvable download URL.
func (c *Connector) extractAudio(ctx context.Context, msg *models.Message) []conversation.Attachment {
	var fileID, mimeType string
	var duration int
	var size int64

	switch {
	case msg.Voice != nil:
		fileID = msg.Voice.FileID
		mimeType = msg.Voice.MimeType
		duration = msg.Voice.Duration
		size = msg.Voice.FileSize
	case msg.Audio != nil:
		fileID = msg.Audio.FileID
		mimeType = msg.Audio.MimeType
		duration = msg.Audio.Duration
		size = msg.Audio.FileSize
	default:
		return nil
	}

	file, err := c.bot.GetFile(ctx, &bot.GetFileParams{FileID: fileID})
	if err != nil {
		c.log.Warn("resolve telegram file failed", logger.ErrorField(err))
		return nil
	}

	if mimeType == "" {
		mimeType = "audio/ogg" // Telegram voice notes are ogg/opus
	}

	return []conversation.Attachment{{
		Type:            conversation.AttachmentAudio,
		URL:             c.bot.FileDownloadLink(file),
		MIMEType:        mimeType,
		DurationSeconds: duration,
		SizeBytes:       size,
	}}
}
