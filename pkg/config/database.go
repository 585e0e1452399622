package config

import "fmt"

// DatabaseConfig holds the PostgreSQL connection settings, used when the
// postgres persistence backend is selected.
type DatabaseConfig struct {
	Host     string `env:"NOVA2FA_PG_HOST" env-default:"localhost"`
	Port     uint16 `env:"NOVA2FA_PG_PORT" env-default:"5432"`
	Database string `env:"NOVA2FA_PG_DATABASE" env-default:"nova2fa_db"`
	User     string `env:"NOVA2FA_PG_USER" env-default:"nova2fa"`
	Password string `env:"NOVA2FA_PG_PASSWORD" env-default:"pwd"`
	Schema   string `env:"NOVA2FA_PG_SCHEMA" env-default:"public"`
}

// ToDatabaseURL converts the config to a pgx connection URL.
func (d DatabaseConfig) ToDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable&search_path=%s,public",
		d.User, d.Password, d.Host, d.Port, d.Database, d.Schema)
}
