package orderbook

// namedLogger is the identifier for package and should ideally match the package name
// this is simply emitted as a hierarchical label e.g. 'service.orderbook'.
const namedLogger = "orderbook"

// Config represent the configuration of the matching engine
type Config struct {
	// CheckInvariants verifies the whole book after every mutating call.
	// It is O(book size) per call and meant for tests and debugging.
	CheckInvariants bool `mapstructure:"check_invariants"`

	// LogTrades emits a debug line per execution.
	LogTrades bool `mapstructure:"log_trades"`
}

func NewDefaultConfig() Config {
	return Config{
		CheckInvariants: false,
		LogTrades:       true,
	}
}
