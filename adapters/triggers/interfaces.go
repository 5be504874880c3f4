package triggers

// Broadcaster 是事件最終送達的廣播入口，由 hub.Hub 實作
type Broadcaster interface {
	BroadcastProcessUpdate(process any) error
	BroadcastMetricUpdate(metrics any) error
	BroadcastRevenueUpdate(revenue any) error
	BroadcastAlert(level, title, message string) error
}

// IProducer 定義了 Producer 的操作介面
type IProducer interface {
	Start()
	Publish(event Event) error
	Close() error
}

// IConsumer 定義了 Consumer 的操作介面
type IConsumer interface {
	Start()
	Close()
}
