package config

import "time"

func GetStreamMaxLineBytes() int {
	return parseEnvInt("STREAM_MAX_LINE_BYTES", 4<<20)
}

// GetStreamStallAfter is how long a stream may stay silent before views show it as stalled
func GetStreamStallAfter() time.Duration {
	return parseEnvDuration("STREAM_STALL_AFTER", 20*time.Second)
}
