package localstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// deviceStoragePrefix 设备存储前缀: device:storage:{device_id} -> hash
const deviceStoragePrefix = "device:storage:"

// buildDeviceKey 构建设备存储的Key
func buildDeviceKey(deviceID string) string {
	return deviceStoragePrefix + deviceID
}

// Redis 基于 Redis Hash 的本地存储
// ttl > 0 时每次写入刷新过期时间，长期不活跃的设备数据被回收
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedis 创建 Redis 本地存储
func NewRedis(rdb *redis.Client, ttl time.Duration) *Redis {
	return &Redis{rdb: rdb, ttl: ttl}
}

// ForDevice 返回设备存储
func (r *Redis) ForDevice(deviceID string) Storage {
	return &redisDevice{rdb: r.rdb, key: buildDeviceKey(deviceID), ttl: r.ttl}
}

type redisDevice struct {
	rdb *redis.Client
	key string
	ttl time.Duration
}

func (d *redisDevice) Get(ctx context.Context, field string) (string, bool, error) {
	value, err := d.rdb.HGet(ctx, d.key, field).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (d *redisDevice) Set(ctx context.Context, field, value string) error {
	pipe := d.rdb.Pipeline()
	pipe.HSet(ctx, d.key, field, value)
	if d.ttl > 0 {
		pipe.Expire(ctx, d.key, d.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (d *redisDevice) Remove(ctx context.Context, field string) error {
	return d.rdb.HDel(ctx, d.key, field).Err()
}
