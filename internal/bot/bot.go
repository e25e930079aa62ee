// Package bot wires Discord commands and voice-state events to the voice
// pipeline.
package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/discord-voice-chat/internal/logging"
	"github.com/discord-voice-chat/internal/voice"
)

// Pipeline is the part of *voice.Pipeline the bot drives.
type Pipeline interface {
	voice.FrameSink
	StartSession(id string, out voice.VoiceOutput) bool
	StopSession(id string) bool
	HasSession(id string) bool
	SpeakerLeft(sessionID, speakerID string)
}

const (
	msgNotInVoice    = "You need to be in a voice channel to start voice chat!"
	msgAlreadyActive = "Already connected to voice chat! Speak and I'll respond."
	msgJoinFailed    = "Failed to connect to voice channel: %v"
	msgStarted       = "🎤 Connected to %s for voice chat! Speak and I'll respond."
	msgStopped       = "Voice chat stopped and disconnected."
	msgNotActive     = "Voice chat is not active in this server."
	msgTestVoice     = "Voice chat is loaded and working! Use `%svoice` to start voice chat."
	msgGuildOnly     = "Voice chat only works in a server."
)

type link struct {
	channelID string
	voice     VoiceLink
	receiver  *voice.Receiver
	cancel    context.CancelFunc
	done      chan struct{}
}

// Bot handles the voice chat commands for every guild.
type Bot struct {
	gw       Gateway
	pipeline Pipeline
	resolver voice.NameResolver
	prefix   string

	mu     sync.Mutex
	selfID string
	links  map[string]*link
}

func New(gw Gateway, p Pipeline, resolver voice.NameResolver, prefix string) *Bot {
	if prefix == "" {
		prefix = "!"
	}
	if resolver == nil {
		resolver = voice.NewNoopResolver()
	}
	return &Bot{gw: gw, pipeline: p, resolver: resolver, prefix: prefix, links: make(map[string]*link)}
}

// SetSelfID records the bot's own user id so its audio and voice state
// are recognized.
func (b *Bot) SetSelfID(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.selfID = id
}

func (b *Bot) self() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.selfID
}

// Register attaches the handlers to a discordgo session.
func (b *Bot) Register(s *discordgo.Session) {
	s.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		if r.User != nil {
			b.SetSelfID(r.User.ID)
			logging.Infow("bot: ready", logging.UserFields(r.User.ID, r.User.Username)...)
		}
	})
	s.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		b.HandleMessage(m.Message)
	})
	s.AddHandler(func(_ *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
		b.HandleVoiceState(vs)
	})
}

// HandleMessage dispatches prefix commands.
func (b *Bot) HandleMessage(m *discordgo.Message) {
	if m == nil || m.Author == nil || m.Author.Bot || !strings.HasPrefix(m.Content, b.prefix) {
		return
	}
	fields := strings.Fields(strings.TrimPrefix(m.Content, b.prefix))
	if len(fields) == 0 {
		return
	}
	switch strings.ToLower(fields[0]) {
	case "voice", "vc", "voice_chat":
		b.startVoice(m)
	case "stop_voice", "stop_vc", "stop_voice_chat":
		b.stopVoice(m)
	case "test_voice":
		b.reply(m, fmt.Sprintf(msgTestVoice, b.prefix))
	}
}

func (b *Bot) reply(m *discordgo.Message, content string) {
	if err := b.gw.Reply(m, content); err != nil {
		logging.Warnw("bot: reply failed", append(logging.ChannelFields(m.ChannelID, ""), "err", err)...)
	}
}

func (b *Bot) startVoice(m *discordgo.Message) {
	guildID := m.GuildID
	if guildID == "" {
		b.reply(m, msgGuildOnly)
		return
	}
	channelID := b.gw.UserVoiceChannel(guildID, m.Author.ID)
	if channelID == "" {
		b.reply(m, msgNotInVoice)
		return
	}

	b.mu.Lock()
	if _, ok := b.links[guildID]; ok || b.pipeline.HasSession(guildID) {
		b.mu.Unlock()
		b.reply(m, msgAlreadyActive)
		return
	}
	// reserve the guild so a concurrent command cannot join twice
	b.links[guildID] = nil
	b.mu.Unlock()

	channelName := b.resolver.ChannelName(channelID)
	fields := append(logging.GuildFields(guildID, b.resolver.GuildName(guildID)), logging.ChannelFields(channelID, channelName)...)
	vl, err := b.gw.JoinVoice(guildID, channelID)
	if err != nil {
		b.mu.Lock()
		delete(b.links, guildID)
		b.mu.Unlock()
		logging.Warnw("bot: voice join failed", append(fields, "err", err)...)
		b.reply(m, fmt.Sprintf(msgJoinFailed, err))
		return
	}

	b.pipeline.StartSession(guildID, vl.Output())
	rx := voice.NewReceiver(guildID, b.self(), b.pipeline, b.resolver)
	vl.OnSpeaking(rx.HandleSpeakingUpdate)
	ctx, cancel := context.WithCancel(context.Background())
	l := &link{channelID: channelID, voice: vl, receiver: rx, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(l.done)
		rx.Run(ctx, vl.Packets())
	}()

	b.mu.Lock()
	b.links[guildID] = l
	b.mu.Unlock()
	logging.Infow("bot: voice chat started", append(fields, logging.UserFields(m.Author.ID, m.Author.Username)...)...)
	if channelName == "" {
		channelName = "your voice channel"
	}
	b.reply(m, fmt.Sprintf(msgStarted, channelName))
}

func (b *Bot) stopVoice(m *discordgo.Message) {
	if !b.teardown(m.GuildID, true) {
		b.reply(m, msgNotActive)
		return
	}
	b.reply(m, msgStopped)
}

// teardown ends the guild's session. disconnect is false when Discord
// already dropped the bot from voice.
func (b *Bot) teardown(guildID string, disconnect bool) bool {
	b.mu.Lock()
	l, ok := b.links[guildID]
	if ok && l == nil {
		// join still in flight
		b.mu.Unlock()
		return false
	}
	delete(b.links, guildID)
	b.mu.Unlock()

	stopped := b.pipeline.StopSession(guildID)
	if l != nil {
		l.cancel()
		<-l.done
		if disconnect {
			if err := l.voice.Disconnect(); err != nil {
				logging.Warnw("bot: voice disconnect failed", append(logging.GuildFields(guildID, ""), "err", err)...)
			}
		}
	}
	if ok || stopped {
		logging.Infow("bot: voice chat stopped", append(logging.GuildFields(guildID, ""), "disconnect", disconnect)...)
	}
	return ok || stopped
}

// HandleVoiceState reacts to the bot being dropped from voice and to
// humans leaving the session's channel.
func (b *Bot) HandleVoiceState(vs *discordgo.VoiceStateUpdate) {
	if vs == nil || vs.VoiceState == nil {
		return
	}
	guildID, userID := vs.GuildID, vs.UserID
	if userID != "" && userID == b.self() {
		if vs.ChannelID == "" {
			b.teardown(guildID, false)
		}
		return
	}

	b.mu.Lock()
	l := b.links[guildID]
	b.mu.Unlock()
	if l == nil || vs.ChannelID == l.channelID {
		return
	}
	if vs.BeforeUpdate != nil && vs.BeforeUpdate.ChannelID != l.channelID {
		return
	}
	l.receiver.ForgetUser(userID)
	b.pipeline.SpeakerLeft(guildID, userID)
}

// Close disconnects every guild.
func (b *Bot) Close() {
	b.mu.Lock()
	ids := make([]string, 0, len(b.links))
	for id := range b.links {
		ids = append(ids, id)
	}
	b.mu.Unlock()
	for _, id := range ids {
		b.teardown(id, true)
	}
}
