package config

func GetListenAddr() string {
	return GetEnvOrDefault("LISTEN_ADDR", ":8080")
}
