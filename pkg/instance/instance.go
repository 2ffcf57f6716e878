package instance

import (
	"os"

	"github.com/partyconnect/engage-backend/pkg/env"
)

// GetID identifies the running process in logs and lock ownership. Heroku's
// DYNO is honored when no explicit id is set.
func GetID() string {
	if id := env.First("", "ENGAGE_INSTANCE_ID", "DYNO"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "local"
}
