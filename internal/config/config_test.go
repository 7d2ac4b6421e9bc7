package config

import "testing"

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  DatabaseConfig
		want string
	}{
		{
			"postgres",
			DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, User: "u", Password: "p", Name: "atrium"},
			"postgres://u:p@db:5432/atrium?sslmode=disable",
		},
		{
			"sqlite",
			DatabaseConfig{Driver: "sqlite", Path: "./data", Name: "atrium"},
			"./data/atrium.db",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.DSN(); got != tt.want {
				t.Errorf("DSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDatabaseConfig_IsSQLite(t *testing.T) {
	if (DatabaseConfig{Driver: "postgres"}).IsSQLite() {
		t.Error("postgres driver must not report sqlite")
	}
	if !(DatabaseConfig{Driver: "sqlite"}).IsSQLite() {
		t.Error("sqlite driver must report sqlite")
	}
}
