// Package discord implements the Discord channel for Hookclaw using
// discordgo.
//
// Features:
//   - Send/receive text messages with reply references
//   - Guild and channel allowlists
//   - Automatic reconnection via discordgo's gateway
//
// Trigger selectors match guild channels by name (from the gateway
// state cache) or by channel ID, and DMs by the author's username.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
	"github.com/jholhewres/hookclaw/pkg/hookclaw/channels"
)

// maxMessageLen is the Discord message length limit. Longer responses
// are split at newline boundaries.
const maxMessageLen = 2000

// Config holds Discord channel configuration.
type Config struct {
	// Enabled turns the channel on.
	Enabled bool `yaml:"enabled"`

	// Token is the Discord bot token. Resolved from the keyring or
	// DISCORD_BOT_TOKEN when empty.
	Token string `yaml:"token,omitempty"`

	// AllowedGuilds restricts which guild (server) IDs the bot listens
	// in. Empty means no restriction beyond the trigger rules.
	AllowedGuilds []string `yaml:"allowed_guilds,omitempty"`

	// AllowedChannels restricts which channel IDs the bot listens in.
	// Empty means no restriction beyond the trigger rules.
	AllowedChannels []string `yaml:"allowed_channels,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{}
}

// Discord implements channels.Channel over the discordgo gateway.
type Discord struct {
	cfg     Config
	logger  *slog.Logger
	session *discordgo.Session

	// messages is the channel for incoming messages forwarded to the daemon.
	messages chan *channels.IncomingMessage

	// connected tracks connection state.
	connected atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new Discord channel instance.
func New(cfg Config, logger *slog.Logger) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discord{
		cfg:      cfg,
		logger:   logger.With("component", "discord"),
		messages: make(chan *channels.IncomingMessage, 256),
	}
}

// ---------- Channel Interface ----------

// Name returns "discord".
func (d *Discord) Name() string { return "discord" }

// Connect opens the Discord gateway WebSocket connection.
func (d *Discord) Connect(ctx context.Context) error {
	if d.cfg.Token == "" {
		return fmt.Errorf("discord: bot token is required")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)

	session, err := discordgo.New("Bot " + d.cfg.Token)
	if err != nil {
		return fmt.Errorf("discord: creating session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	session.AddHandler(d.onMessageCreate)

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord: opening gateway: %w", err)
	}

	d.session = session
	d.connected.Store(true)

	user := session.State.User
	d.logger.Info("discord: connected", "bot", user.Username, "id", user.ID)

	return nil
}

// Disconnect closes the Discord gateway connection.
func (d *Discord) Disconnect() error {
	if d.cancel != nil {
		d.cancel()
	}
	if d.session != nil {
		d.session.Close()
	}
	d.connected.Store(false)
	d.logger.Info("discord: disconnected")
	return nil
}

// Send sends a text message to the specified channel, splitting it when
// it exceeds the Discord length limit. Only the first chunk references
// the replied-to message.
func (d *Discord) Send(ctx context.Context, chatID string, message *channels.OutgoingMessage) error {
	if d.session == nil {
		return channels.ErrChannelDisconnected
	}

	for i, chunk := range channels.SplitText(message.Content, maxMessageLen) {
		msgSend := &discordgo.MessageSend{Content: chunk}
		if i == 0 && message.ReplyTo != "" {
			msgSend.Reference = &discordgo.MessageReference{MessageID: message.ReplyTo}
		}
		if _, err := d.session.ChannelMessageSendComplex(chatID, msgSend); err != nil {
			return fmt.Errorf("discord: sending message: %w", err)
		}
	}
	return nil
}

// Receive returns the incoming messages channel.
func (d *Discord) Receive() <-chan *channels.IncomingMessage {
	return d.messages
}

// IsConnected returns true if the bot is connected.
func (d *Discord) IsConnected() bool { return d.connected.Load() }

// ---------- Event Handlers ----------

// onMessageCreate handles incoming Discord messages.
func (d *Discord) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	// Ignore messages from the bot itself.
	if m.Author.ID == s.State.User.ID {
		return
	}

	// Ignore other bots to avoid trigger loops.
	if m.Author.Bot {
		return
	}

	// Text only. Attachment-only messages have no content.
	if m.Content == "" {
		return
	}

	// Apply guild filter.
	if len(d.cfg.AllowedGuilds) > 0 && m.GuildID != "" && !contains(d.cfg.AllowedGuilds, m.GuildID) {
		return
	}

	// Apply channel filter.
	if len(d.cfg.AllowedChannels) > 0 && !contains(d.cfg.AllowedChannels, m.ChannelID) {
		return
	}

	isGuild := m.GuildID != ""

	d.emitMessage(&channels.IncomingMessage{
		ID:        m.ID,
		Channel:   "discord",
		ChatID:    m.ChannelID,
		ChatName:  d.chatName(s, m, isGuild),
		From:      m.Author.ID,
		FromName:  m.Author.Username,
		IsGroup:   isGuild,
		Content:   m.Content,
		Timestamp: m.Timestamp,
	})
}

// chatName resolves the identifier trigger selectors match against: the
// channel name from the state cache for guild channels, the author's
// username for DMs.
func (d *Discord) chatName(s *discordgo.Session, m *discordgo.MessageCreate, isGuild bool) string {
	if !isGuild {
		return m.Author.Username
	}
	if ch, err := s.State.Channel(m.ChannelID); err == nil && ch.Name != "" {
		return ch.Name
	}
	return ""
}

// emitMessage delivers a message to the daemon, dropping it when the
// buffer is full.
func (d *Discord) emitMessage(msg *channels.IncomingMessage) {
	select {
	case d.messages <- msg:
	default:
		d.logger.Warn("discord: message buffer full, dropping message", "msg_id", msg.ID)
	}
}

// contains reports whether list has the given ID.
func contains(list []string, id string) bool {
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}

// Compile-time interface verification.
var _ channels.Channel = (*Discord)(nil)
