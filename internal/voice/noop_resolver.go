package voice

// NoopResolver returns empty names; tests use it to avoid REST lookups.
type NoopResolver struct{}

func NewNoopResolver() NoopResolver { return NoopResolver{} }

func (NoopResolver) UserName(string) string    { return "" }
func (NoopResolver) GuildName(string) string   { return "" }
func (NoopResolver) ChannelName(string) string { return "" }
