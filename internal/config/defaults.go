package config

import "time"

func DefaultConfig() *Config {
	return &Config{
		Lock: LockConfig{
			AcquireTimeout: Duration(30 * time.Second),
		},
		Notify: NotifyConfig{
			NATS: NATSConfig{
				Enabled:        false,
				URL:            "nats://localhost:4222",
				ConnectionName: "blockstored",
				SubjectPrefix:  "blockstore",
				MaxReconnects:  -1,
				ReconnectWait:  Duration(2 * time.Second),
			},
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Listen:  ":9090",
				Path:    "/metrics",
			},
			Health: HealthConfig{
				Enabled:       true,
				Listen:        ":8081",
				LivenessPath:  "/healthz",
				ReadinessPath: "/readyz",
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "json",
				Output: "stderr",
			},
		},
	}
}
