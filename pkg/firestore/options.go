package firestore

// Source selects where a read is served from.
type Source int

const (
	// SourceDefault reads from the transport while the network is enabled and
	// falls back to the cache when the transport is unavailable.
	SourceDefault Source = iota
	// SourceServer only reads from the transport.
	SourceServer
	// SourceCache only reads from the snapshot cache and never blocks on I/O.
	SourceCache
)

func (s Source) String() string {
	switch s {
	case SourceServer:
		return "server"
	case SourceCache:
		return "cache"
	}
	return "default"
}

// ParseSource maps "default", "server" and "cache" to a Source.
func ParseSource(s string) (Source, bool) {
	switch s {
	case "", "default":
		return SourceDefault, true
	case "server":
		return SourceServer, true
	case "cache":
		return SourceCache, true
	}
	return SourceDefault, false
}

// GetOptions configures a document or query read.
type GetOptions struct {
	Source Source
}

func getOptions(opts []GetOptions) GetOptions {
	if len(opts) == 0 {
		return GetOptions{}
	}
	return opts[0]
}

// SetOptions turns Set into a merge. Merge merges every field in the data;
// MergeFields merges only the named field paths. The two are mutually exclusive.
type SetOptions struct {
	Merge       bool
	MergeFields []string
}

// DefaultMaxAttempts is how often RunTransaction runs the update function.
const DefaultMaxAttempts = 5

// TransactionOptions configures RunTransaction.
type TransactionOptions struct {
	// MaxAttempts bounds the number of attempts, DefaultMaxAttempts when zero.
	MaxAttempts int
}

// Settings is the one-time client configuration.
type Settings struct {
	// Persistence enables the snapshot cache. Cache reads miss when it is off.
	Persistence bool
}

// DefaultSettings returns the settings a client starts with.
func DefaultSettings() Settings {
	return Settings{Persistence: true}
}
