package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// UserSessionKey returns the cache key for a user's login session (JTI).
func (r *CacheKeyStruct) UserSessionKey(userID int) string {
	return fmt.Sprintf("login:%d", userID)
}

// AttemptEventsChannel returns the Redis PubSub channel used to bridge
// attempt broadcast events across backend instances.
func (r *CacheKeyStruct) AttemptEventsChannel() string {
	return "attempt_events"
}

var CacheKey = NewCacheKeyStruct()
