package config

const (
	defaultUpstreamURL    = "https://openrouter.ai/api/v1/chat/completions"
	defaultReferer        = "https://github.com/papercomputeco/relay"
	defaultTitle          = "relay"
	defaultConnectTimeout = "30s"
	defaultReadTimeout    = "60s"

	defaultRelayListen = ":8080"
	defaultPacing      = "10ms"
	defaultAPIListen   = ":8081"

	defaultKafkaTopic = "relay.sessions"

	defaultClientRelayTarget = "http://localhost:8080"
	defaultClientAPITarget   = "http://localhost:8081"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Upstream: UpstreamConfig{
			URL:            defaultUpstreamURL,
			Referer:        defaultReferer,
			Title:          defaultTitle,
			ConnectTimeout: defaultConnectTimeout,
			ReadTimeout:    defaultReadTimeout,
		},
		Relay: RelayConfig{
			Listen: defaultRelayListen,
			Pacing: defaultPacing,
		},
		API: APIConfig{
			Listen: defaultAPIListen,
		},
		Events: EventsConfig{
			KafkaTopic: defaultKafkaTopic,
		},
		Client: ClientConfig{
			RelayTarget: defaultClientRelayTarget,
			APITarget:   defaultClientAPITarget,
		},
	}
}
