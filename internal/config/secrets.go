package config

// RedactedConfig returns a copy of cfg with secrets replaced by "***" for
// logging. Slices are copied so the result can be changed freely.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Broker.Secret)
	redact(&out.Broker.SecretPassword)
	redact(&out.Redis.Password)
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Server.APIKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	out.Feed.Symbols = cloneStrings(cfg.Feed.Symbols)
	out.Server.CORSOrigins = cloneStrings(cfg.Server.CORSOrigins)
	out.Notify.Events = cloneStrings(cfg.Notify.Events)
	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
