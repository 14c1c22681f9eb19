package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:      "info",
			LogFormat:     "text",
			LogMaxSizeMB:  50,
			LogMaxBackups: 3,
			LogMaxAgeDays: 28,
		},
		VK: VKConfig{
			RequestsPerSecond: 20,
		},
		Storage: StorageConfig{
			DBPath: "~/.bridgebot/bridge.db",
		},
		Relay: RelayConfig{
			MediaGroupWindowMs:     1500,
			MaxAlbumSize:           10,
			SendTimeoutSeconds:     60,
			DownloadTimeoutSeconds: 15,
			MaxDownloadMB:          50,
			ShutdownGraceSeconds:   30,
			ForwardDepthLimit:      100,
			BusBufferSize:          100,
		},
		HTTP: HTTPConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    8080,
		},
	}
}
