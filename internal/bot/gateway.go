package bot

import (
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/discord-voice-chat/internal/voice"
)

// Gateway is the Discord surface the command handlers use.
type Gateway interface {
	UserVoiceChannel(guildID, userID string) string
	JoinVoice(guildID, channelID string) (VoiceLink, error)
	Reply(m *discordgo.Message, content string) error
}

// VoiceLink is one joined voice channel.
type VoiceLink interface {
	Output() voice.VoiceOutput
	Packets() <-chan *discordgo.Packet
	OnSpeaking(h func(*discordgo.VoiceConnection, *discordgo.VoiceSpeakingUpdate))
	Disconnect() error
}

type discordGateway struct {
	s *discordgo.Session
}

// NewGateway adapts a live discordgo session.
func NewGateway(s *discordgo.Session) Gateway { return &discordGateway{s: s} }

func (g *discordGateway) UserVoiceChannel(guildID, userID string) string {
	if g.s.State == nil {
		return ""
	}
	vs, err := g.s.State.VoiceState(guildID, userID)
	if err != nil || vs == nil {
		return ""
	}
	return vs.ChannelID
}

func (g *discordGateway) JoinVoice(guildID, channelID string) (VoiceLink, error) {
	// not deafened: the bot has to hear speakers
	vc, err := g.s.ChannelVoiceJoin(guildID, channelID, false, false)
	if err != nil {
		return nil, fmt.Errorf("join voice %s/%s: %w", guildID, channelID, err)
	}
	return &discordVoice{vc: vc, out: voice.NewDiscordOutput(vc)}, nil
}

func (g *discordGateway) Reply(m *discordgo.Message, content string) error {
	_, err := g.s.ChannelMessageSendReply(m.ChannelID, content, m.Reference())
	return err
}

type discordVoice struct {
	vc  *discordgo.VoiceConnection
	out *voice.DiscordOutput
}

func (d *discordVoice) Output() voice.VoiceOutput         { return d.out }
func (d *discordVoice) Packets() <-chan *discordgo.Packet { return d.vc.OpusRecv }
func (d *discordVoice) OnSpeaking(h func(*discordgo.VoiceConnection, *discordgo.VoiceSpeakingUpdate)) {
	d.vc.AddHandler(h)
}

func (d *discordVoice) Disconnect() error {
	d.out.Stop()
	return d.vc.Disconnect()
}
