// Package config loads the gateway configuration.
//
// Values are resolved in this order: built-in defaults, the YAML file,
// then GRAYLOGIC_* environment variables. Validate runs last and reports
// every problem at once rather than stopping at the first.
//
// Secrets (the shared gateway token or password hash, the device token
// signing secret, MQTT/Redis/InfluxDB credentials) are expected to come
// from the environment in production:
//
//	GRAYLOGIC_GATEWAY_TOKEN
//	GRAYLOGIC_GATEWAY_PASSWORD_HASH
//	GRAYLOGIC_DEVICE_TOKEN_SECRET
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	limiter := ratelimit.NewMemory(ratelimit.Config{
//	    MaxAttempts: cfg.Security.RateLimit.MaxAttempts,
//	    Window:      cfg.Security.RateLimit.Window(),
//	})
package config
