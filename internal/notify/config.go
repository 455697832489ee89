package notify

import (
	"github.com/zulandar/postyard/internal/config"
)

// FromConfig builds a Notifier for every enabled chat platform. It returns
// nil, nil when none is configured.
func FromConfig(cfg config.NotifyConfig, account string) (*Notifier, error) {
	var senders []Sender
	if cfg.Slack.Enabled() {
		s, err := NewSlack(SlackOpts{BotToken: cfg.Slack.BotToken, ChannelID: cfg.Slack.ChannelID})
		if err != nil {
			return nil, err
		}
		senders = append(senders, s)
	}
	if cfg.Discord.Enabled() {
		d, err := NewDiscord(DiscordOpts{BotToken: cfg.Discord.BotToken, ChannelID: cfg.Discord.ChannelID})
		if err != nil {
			return nil, err
		}
		senders = append(senders, d)
	}
	if len(senders) == 0 {
		return nil, nil
	}
	return New(Opts{Senders: senders, Account: account, Levels: cfg.Levels})
}
