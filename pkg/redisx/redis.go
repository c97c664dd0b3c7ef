package redisx

import (
	"context"

	"github.com/alicebob/miniredis/v2"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	Address   string `json:"address" mapstructure:"address" yaml:"address"`
	Username  string `json:"username" mapstructure:"username" yaml:"username"`
	Password  string `json:"password" mapstructure:"password" yaml:"password"`
	DB        int    `json:"db" mapstructure:"db" yaml:"db"`
	RedisType string `json:"redisType" mapstructure:"redis-type" yaml:"redis-type"`
}

type Redis redis.Cmdable

func NewRedis(cfg RedisConfig) (Redis, error) {
	var redisClient Redis

	switch cfg.RedisType {
	case "standalone", "":
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Address,
			Username: cfg.Username,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
	case "cluster":
		redisClient = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:    []string{cfg.Address},
			Username: cfg.Username,
			Password: cfg.Password,
		})
	case "miniredis":
		// 内嵌redis，测试和本地联调用
		s, err := miniredis.Run()
		if err != nil {
			return nil, errors.WithMessage(err, "failed to start miniredis")
		}
		redisClient = redis.NewClient(&redis.Options{
			Addr: s.Addr(),
		})
	default:
		return nil, errors.Errorf("redis type is illegal: %s", cfg.RedisType)
	}

	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		return nil, errors.WithMessage(err, "failed to ping redis")
	}
	return redisClient, nil
}
