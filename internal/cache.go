// Copyright 2024 eMobility Hub GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package internal

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

var rdb *redis.Client
var ctx = context.Background()
var memCache *cache.Cache

var redisDataExpiration time.Duration
var memoryDataExpiration time.Duration

var redisInitialized bool

// InitCache initializes the tiered response cache: a short-lived in-memory
// tier in front of an optional redis tier shared between hub instances.
func InitCache(redisURI string, redisPassword string, redisDB int, dryRun string) {

	memoryDataExpiration = 10 * time.Second
	memCache = cache.New(memoryDataExpiration, 20*time.Second)

	if dryRun == "True" || dryRun == "true" {
		zap.S().Infof("Running cache in DRY_RUN mode. This means that redis will not be used")
		return
	}
	if redisURI == "" {
		zap.S().Infof("No REDIS_URI configured, running on the memory tier only")
		return
	}

	rdb = redis.NewClient(&redis.Options{
		Addr:     redisURI,
		Password: redisPassword,
		DB:       redisDB,
	})
	redisDataExpiration = 12 * time.Hour
	redisInitialized = true
}

// InitMemcache sets up the memory tier only, used by tests.
func InitMemcache() {
	memoryDataExpiration = 10 * time.Second
	memCache = cache.New(memoryDataExpiration, 20*time.Second)
	redisInitialized = false
	rdb = nil
}

func IsRedisAvailable() bool {
	if !redisInitialized {
		return false
	}
	if rdb != nil {
		timeout, cancel := context.WithTimeout(ctx, time.Second*10)
		defer cancel()
		statusCmd := rdb.Ping(timeout)

		if statusCmd != nil && statusCmd.Val() == "PONG" {
			return true
		}
		zap.S().Debugf("Redis Error: %s", statusCmd)
	}
	return false
}

// GetTiered attempts to get key from the memory cache and falls back to
// redis on a miss.
func GetTiered(key string) (cached bool, value []byte) {
	if memCache == nil {
		return false, nil
	}
	if raw, hit := memCache.Get(key); hit {
		return true, raw.([]byte)
	}

	if !redisInitialized || rdb == nil {
		return false, nil
	}
	raw, err := rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false, nil
	}
	// Promote to the memory tier
	memCache.Set(key, raw, memoryDataExpiration)
	return true, raw
}

// SetTiered stores value in both tiers. ttl zero uses the tier defaults.
func SetTiered(key string, value []byte, ttl time.Duration) {
	if memCache == nil {
		return
	}
	memTTL := memoryDataExpiration
	if ttl > 0 && ttl < memTTL {
		memTTL = ttl
	}
	memCache.Set(key, value, memTTL)

	if !redisInitialized || rdb == nil {
		return
	}
	redisTTL := redisDataExpiration
	if ttl > 0 {
		redisTTL = ttl
	}
	if err := rdb.Set(ctx, key, value, redisTTL).Err(); err != nil {
		zap.S().Debugf("Failed to set %s in redis: %s", key, err)
	}
}
