package config

// RedactedConfig returns a copy of cfg with sensitive fields replaced by
// the redaction placeholder "***". Use this when logging the active
// configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	// Copy the venues slice so redaction does not mutate the original.
	out.Venues = make([]VenueConfig, len(cfg.Venues))
	copy(out.Venues, cfg.Venues)
	for i := range out.Venues {
		redact(&out.Venues[i].ApiKey)
		redact(&out.Venues[i].ApiSecret)
		redact(&out.Venues[i].SecretPassword)
	}

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	if cfg.Instruments != nil {
		out.Instruments = make([]string, len(cfg.Instruments))
		copy(out.Instruments, cfg.Instruments)
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
