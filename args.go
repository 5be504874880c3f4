package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"intelhub/api"
	"intelhub/protocol"
)

// bindFlags 將指令的 flag 綁定到 viper，環境變數以 INTELHUB_ 為前綴
func bindFlags(flags *pflag.FlagSet) error {
	if err := viper.BindPFlags(flags); err != nil {
		return err
	}
	viper.AutomaticEnv()
	viper.SetEnvPrefix("INTELHUB")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	return nil
}

func setupLogger(cmd *cobra.Command) error {
	if err := bindFlags(cmd.Flags()); err != nil {
		return err
	}
	logger, err := newLogger(cmd.ErrOrStderr(), viper.GetString("log-format"), viper.GetString("log-level"))
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	return nil
}

func newLogger(w io.Writer, format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}

func addRedisFlags(flags *pflag.FlagSet) {
	// redis config
	flags.String("redis-addr", "localhost:6379", "")
	flags.String("redis-password", "", "")
	flags.Int("redis-db", 0, "")
	flags.String("redis-cache-prefix", "", "prefix prepended to every snapshot key")

	// redis stream keys
	flags.String("redis-trigger-stream", "intelhub-triggers", "")
}

func redisConfig() api.RedisConfig {
	return api.RedisConfig{
		Addr:        viper.GetString("redis-addr"),
		Password:    viper.GetString("redis-password"),
		DB:          viper.GetInt("redis-db"),
		CachePrefix: viper.GetString("redis-cache-prefix"),
		StreamKeys: api.RedisStreamKeys{
			Triggers: viper.GetString("redis-trigger-stream"),
		},
	}
}

func addServeFlags(flags *pflag.FlagSet) {
	// server config
	flags.String("listen-addr", ":8080", "")
	flags.String("ws-path", "/ws", "")

	// hub config
	flags.Duration("ping-interval", 25*time.Second, "interval between liveness checks")
	flags.Duration("pong-timeout", 60*time.Second, "silence after which a connection is evicted")
	flags.Int("send-buffer", 256, "outbound messages queued per connection")
	flags.Int64("read-limit", 64<<10, "maximum inbound message size in bytes")

	addRedisFlags(flags)
}

func ParseServeArgs() api.ServerConfig {
	return api.ServerConfig{
		ListenAddr: viper.GetString("listen-addr"),
		WSPath:     viper.GetString("ws-path"),
		Hub: api.HubConfig{
			PingInterval: viper.GetDuration("ping-interval"),
			PongTimeout:  viper.GetDuration("pong-timeout"),
			SendBuffer:   viper.GetInt("send-buffer"),
			ReadLimit:    viper.GetInt64("read-limit"),
		},
		Redis: redisConfig(),
	}
}

func addWatchFlags(flags *pflag.FlagSet) {
	flags.String("server-url", "ws://localhost:8080/ws", "")
	flags.StringSlice("channels", []string{protocol.ChannelAll}, "channels to subscribe to")
	flags.Int("max-reconnect-attempts", 10, "")
	flags.Duration("reconnect-base-delay", time.Second, "")
	flags.Duration("reconnect-max-delay", 30*time.Second, "0 disables the cap")
}

type WatchArgs struct {
	ServerURL   string
	Channels    []string
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func ParseWatchArgs() WatchArgs {
	return WatchArgs{
		ServerURL:   viper.GetString("server-url"),
		Channels:    viper.GetStringSlice("channels"),
		MaxAttempts: viper.GetInt("max-reconnect-attempts"),
		BaseDelay:   viper.GetDuration("reconnect-base-delay"),
		MaxDelay:    viper.GetDuration("reconnect-max-delay"),
	}
}

func (args WatchArgs) Validate() error {
	if args.ServerURL == "" {
		return fmt.Errorf("server-url cannot be empty")
	}
	if len(args.Channels) == 0 {
		return fmt.Errorf("at least one channel is required")
	}
	return nil
}

func addPublishFlags(flags *pflag.FlagSet) {
	flags.String("level", "info", "alert level")
	flags.String("title", "", "alert title")
	flags.String("message", "", "alert message")

	addRedisFlags(flags)
}
