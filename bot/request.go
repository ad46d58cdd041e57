package bot

// User is a user-typed command option.
type User struct {
	ID   string
	Name string
}

// Channel is a channel-typed command option.
type Channel struct {
	ID   string
	Name string
}

// Args holds the values of a command invocation keyed by option name.
// Values are string, int64, float64, bool, User or Channel.
type Args map[string]interface{}

func (o Args) String(name string) (string, bool) {
	s, ok := o[name].(string)
	return s, ok && s != ""
}

func (o Args) Int(name string) (int64, bool) {
	switch v := o[name].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	}
	return 0, false
}

func (o Args) Float(name string) (float64, bool) {
	switch v := o[name].(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	}
	return 0, false
}

func (o Args) User(name string) (User, bool) {
	u, ok := o[name].(User)
	return u, ok
}

func (o Args) Channel(name string) (Channel, bool) {
	c, ok := o[name].(Channel)
	return c, ok
}

// Request is one slash command invocation.
type Request struct {
	Command    string
	Subcommand string
	Options    Args
}

// Mention is a message that replies to another message and mentions the bot.
type Mention struct {
	UserID     string
	ChannelID  string
	Referenced string
	Content    string
}
