package config

import "time"

func GetBlobTTL() time.Duration {
	return parseEnvDuration("BLOB_TTL", 10*time.Minute)
}

func GetResourceMaxBytes() int64 {
	return int64(parseEnvInt("RESOURCE_MAX_BYTES", 20<<20))
}
