package session

import (
	"log"

	"rdeskd/internal/config"
)

const (
	EnvRedisHost     = "REDIS_HOST"
	EnvRedisPort     = "REDIS_PORT"
	EnvRedisUser     = "REDIS_USERNAME"
	EnvRedisPassword = "REDIS_PASSWORD"
)

// NewStore picks the resumption cache backend: Redis when configured,
// in-memory otherwise.
func NewStore() Store {
	redisHost := config.GetEnv(EnvRedisHost, "")

	if redisHost != "" {
		redisPort := config.GetEnv(EnvRedisPort, "6379")
		redisUser := config.GetEnv(EnvRedisUser, "")
		redisPassword := config.GetEnv(EnvRedisPassword, "")

		store, err := NewRedisStore(redisHost, redisPort, redisUser, redisPassword)
		if err != nil {
			log.Printf("Redis connection failed: %v", err)
			log.Println("Falling back to in-memory session store")
			return NewMemoryStore()
		}
		log.Printf("Using Redis session store: %s:%s", redisHost, redisPort)
		return store
	}

	return NewMemoryStore()
}
