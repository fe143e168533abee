package config

// Build metadata injected at link time:
//
//	go build -ldflags "-X 'github.com/slipstream/acquire/internal/config.Version=1.2.0' \
//	                   -X 'github.com/slipstream/acquire/internal/config.Commit=abc123'"
var (
	Version = "dev"
	Commit  = ""
)

// UserAgent is the default User-Agent sent to indexers and download clients.
func UserAgent() string {
	return "acquire/" + Version
}
