package instance

import "github.com/angelmondragon/catermatch-backend/pkg/env"

// ID names the running process in logs and lock ownership: the platform dyno, then WORKER_ID,
// then "local".
func ID() string {
	return env.First("local", "DYNO", "WORKER_ID")
}
