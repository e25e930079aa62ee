package voice

import (
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

const nameCacheTTL = 5 * time.Minute

type cachedName struct {
	name   string
	expiry time.Time
}

// DiscordResolver resolves display names through the session state cache
// first and REST second, memoizing results for a few minutes.
type DiscordResolver struct {
	s   *discordgo.Session
	ttl time.Duration

	mu    sync.Mutex
	cache map[string]cachedName
}

func NewDiscordResolver(s *discordgo.Session) *DiscordResolver {
	return &DiscordResolver{s: s, ttl: nameCacheTTL, cache: make(map[string]cachedName)}
}

// resolve memoizes fetch under kind:id. Failed lookups are not cached.
func (d *DiscordResolver) resolve(kind, id string, fetch func() string) string {
	if d == nil || d.s == nil || id == "" {
		return ""
	}
	key := kind + ":" + id
	d.mu.Lock()
	if e, ok := d.cache[key]; ok {
		if time.Now().Before(e.expiry) {
			d.mu.Unlock()
			return e.name
		}
		delete(d.cache, key)
	}
	d.mu.Unlock()

	name := fetch()
	if name != "" {
		d.mu.Lock()
		d.cache[key] = cachedName{name: name, expiry: time.Now().Add(d.ttl)}
		d.mu.Unlock()
	}
	return name
}

func (d *DiscordResolver) UserName(userID string) string {
	return d.resolve("user", userID, func() string {
		if u, err := d.s.User(userID); err == nil && u != nil {
			return u.Username
		}
		return ""
	})
}

func (d *DiscordResolver) GuildName(guildID string) string {
	return d.resolve("guild", guildID, func() string {
		if d.s.State != nil {
			if g, err := d.s.State.Guild(guildID); err == nil && g != nil {
				return g.Name
			}
		}
		if g, err := d.s.Guild(guildID); err == nil && g != nil {
			return g.Name
		}
		return ""
	})
}

func (d *DiscordResolver) ChannelName(channelID string) string {
	return d.resolve("channel", channelID, func() string {
		if d.s.State != nil {
			if c, err := d.s.State.Channel(channelID); err == nil && c != nil {
				return c.Name
			}
		}
		if c, err := d.s.Channel(channelID); err == nil && c != nil {
			return c.Name
		}
		return ""
	})
}
