package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"intelhub/adapters/triggers"
)

const publishTimeout = 5 * time.Second

var publishCmd = &cobra.Command{
	Use:   "publish <process_update|metric_update|revenue_update|alert> [json-data]",
	Short: "Publish a broadcast trigger to the hub's Redis stream",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var data string
		if len(args) > 1 {
			data = args[1]
		}
		event, err := buildEvent(triggers.Kind(args[0]), data,
			viper.GetString("level"), viper.GetString("title"), viper.GetString("message"))
		if err != nil {
			return err
		}

		config := redisConfig()
		client := redis.NewClient(&redis.Options{
			Addr:     config.Addr,
			Password: config.Password,
			DB:       config.DB,
		})
		defer client.Close()

		producer, err := triggers.NewProducer(client, config.StreamKeys.Triggers,
			triggers.WithProducerFlushTimeout(publishTimeout))
		if err != nil {
			return err
		}
		producer.Start()
		if err := producer.Publish(event); err != nil {
			producer.Close()
			return err
		}
		// Close 會等待事件寫入 stream
		if err := producer.Close(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "published %s\n", event.Kind)
		return nil
	},
}

func init() {
	addPublishFlags(publishCmd.Flags())
}

// buildEvent 由指令參數建立觸發事件，更新類事件的資料必須是合法 JSON
func buildEvent(kind triggers.Kind, data, level, title, message string) (triggers.Event, error) {
	if kind == triggers.KindAlert {
		if title == "" && message == "" {
			return triggers.Event{}, errors.New("alert requires --title or --message")
		}
		return triggers.NewAlertEvent(level, title, message), nil
	}

	if data == "" {
		data = "null"
	}
	if !json.Valid([]byte(data)) {
		return triggers.Event{}, fmt.Errorf("data is not valid JSON: %s", data)
	}
	return triggers.NewUpdateEvent(kind, json.RawMessage(data))
}
