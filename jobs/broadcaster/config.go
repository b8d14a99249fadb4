package broadcaster

import "time"

const namedLogger = "broadcaster"

const (
	DriverSarama  = "sarama"
	DriverKafkaGo = "kafka-go"
)

// Config represent the configuration of the trade event broadcaster
type Config struct {
	Enabled bool     `mapstructure:"enabled"`
	Driver  string   `mapstructure:"driver"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`

	Interval time.Duration `mapstructure:"interval"`
	// RetryBackoff delays a failed event before it is sent again.
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	// TruncateAcked drops delivered events from the outbox after each pass.
	TruncateAcked bool `mapstructure:"truncate_acked"`
}

func NewDefaultConfig() Config {
	return Config{
		Enabled:       false,
		Driver:        DriverSarama,
		Brokers:       []string{"localhost:9092"},
		Topic:         "limitbook.trades",
		Interval:      250 * time.Millisecond,
		RetryBackoff:  time.Second,
		TruncateAcked: true,
	}
}
