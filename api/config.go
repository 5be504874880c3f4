package api

import (
	"errors"
	"time"
)

type ServerConfig struct {
	ListenAddr string
	WSPath     string

	Hub   HubConfig
	Redis RedisConfig
}

type HubConfig struct {
	PingInterval time.Duration
	PongTimeout  time.Duration
	SendBuffer   int
	ReadLimit    int64
}

type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	CachePrefix string

	StreamKeys RedisStreamKeys
}

type RedisStreamKeys struct {
	Triggers string
}

// Validate 檢查必要的設定，未設定的 hub 參數會使用預設值
func (c ServerConfig) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("listen address cannot be empty")
	}
	if c.WSPath == "" || c.WSPath[0] != '/' {
		return errors.New("websocket path must start with '/'")
	}
	if c.Redis.Addr == "" {
		return errors.New("redis address cannot be empty")
	}
	if c.Redis.StreamKeys.Triggers == "" {
		return errors.New("trigger stream cannot be empty")
	}
	if c.Hub.PingInterval > 0 && c.Hub.PongTimeout > 0 && c.Hub.PingInterval >= c.Hub.PongTimeout {
		return errors.New("ping interval must be shorter than pong timeout")
	}
	return nil
}
