package config

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***", for logging the active configuration.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)
	redact(&out.Notify.FCMCredentialsJSON)
	redact(&out.Server.APIKey)

	if cfg.Notify.FCMDeviceTokens != nil {
		out.Notify.FCMDeviceTokens = make([]string, len(cfg.Notify.FCMDeviceTokens))
		for i := range cfg.Notify.FCMDeviceTokens {
			out.Notify.FCMDeviceTokens[i] = redacted
		}
	}
	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = make([]string, len(cfg.Server.CORSOrigins))
		copy(out.Server.CORSOrigins, cfg.Server.CORSOrigins)
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
