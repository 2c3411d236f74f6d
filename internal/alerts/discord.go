package alerts

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// DiscordEmitter posts alerts to a Discord channel through a bot session.
type DiscordEmitter struct {
	session   *discordgo.Session
	channelID string
	minLevel  Level
}

var _ Emitter = (*DiscordEmitter)(nil)

// levelRank orders levels for filtering; higher is more severe.
var levelRank = map[Level]int{
	LevelInfo:     0,
	LevelTrade:    1,
	LevelWarning:  2,
	LevelError:    3,
	LevelCritical: 4,
}

// NewDiscordEmitter builds an emitter from a bot token and channel ID.
// Alerts below minLevel are dropped to keep the channel readable.
func NewDiscordEmitter(token, channelID string, minLevel Level) (*DiscordEmitter, error) {
	if token == "" || channelID == "" {
		return nil, fmt.Errorf("discord emitter needs both token and channel ID")
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}
	return &DiscordEmitter{session: session, channelID: channelID, minLevel: minLevel}, nil
}

// Emit posts the alert as one message.
func (d *DiscordEmitter) Emit(a Alert) error {
	if levelRank[a.Level] < levelRank[d.minLevel] {
		return nil
	}
	content := fmt.Sprintf("%s **%s**", icon(a.Level), a.Title)
	if a.Message != "" {
		content += "\n" + a.Message
	}
	_, err := d.session.ChannelMessageSend(d.channelID, content)
	if err != nil {
		return fmt.Errorf("sending discord alert: %w", err)
	}
	return nil
}
