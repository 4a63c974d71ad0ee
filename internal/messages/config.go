package messages

// Configuration loading messages.
const (
	ConfigMissingFileFmt      = "missing config file %s: %w"
	ConfigInvalidConfigFmt    = "invalid config %s: %w"
	ConfigUnrecognizedKeysFmt = "unrecognized keys in %s: %v"
	ConfigExpandPathFmt       = "cannot expand path %s: %w"
)
