package device

import "simfan/internal/config"

func configFan(backend string) config.FanConfig {
	cfg := config.Default().Fan
	cfg.Backend = backend
	return cfg
}
