package locktable

// DefaultIgnoredIDs are storage-file and cache locks. They are taken for
// every page access and would drown out collection and document activity.
var DefaultIgnoredIDs = []string{
	"dom.dbx",
	"collections.dbx",
	"structure.dbx",
	"values.dbx",
	"symbols.dbx",
	"CollectionCache",
}

// Config controls what the lock table records.
type Config struct {
	Enabled        bool     `mapstructure:"enabled"`
	TraceCallSites bool     `mapstructure:"trace"`
	IgnoredIDs     []string `mapstructure:"ignore"`
}

// DefaultConfig records everything except DefaultIgnoredIDs.
func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		IgnoredIDs: append([]string(nil), DefaultIgnoredIDs...),
	}
}
