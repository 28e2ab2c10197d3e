package config

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging or printing the active
// configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	redact(&out.Redis.Password)

	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	redact(&out.Receipts.RawKey)
	redact(&out.Receipts.KeyPassword)
	redact(&out.Receipts.Passphrase)

	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Admins is copied so redacting keys leaves the original intact.
	if cfg.Auth.Admins != nil {
		out.Auth.Admins = make([]AdminConfig, len(cfg.Auth.Admins))
		for i, adm := range cfg.Auth.Admins {
			adm.Capabilities = append([]string(nil), adm.Capabilities...)
			redact(&adm.APIKey)
			out.Auth.Admins[i] = adm
		}
	}

	if cfg.Notify.Events != nil {
		out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	}
	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
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
