package messages

// Load pipeline messages: version checks, symbol resolution, ABI
// construction, parameter patching, and the kernel boundary.
const (
	VersionModuleMissing   = "couldn't find the kernel version the module was compiled for"
	VersionMalformedFmt    = "malformed version string %q"
	VersionMismatchFmt     = "kernel-module version mismatch\n\t%s was compiled for kernel version %s\n\twhile this kernel is version %s"
	VersionMismatchWarnFmt = "Warning: kernel-module version mismatch\n\t%s was compiled for kernel version %s\n\twhile this kernel is version %s\n"
	VersionPrefixFmt       = "Symbol version prefix '%s'\n"

	SymbolUnresolvedFmt = "unresolved symbol %s"

	ParamInvalidFmt            = "invalid parameter %s"
	ParamSymbolNotFoundFmt     = "symbol for parameter %s not found"
	ParamUnterminatedStringFmt = "improperly terminated string argument for %s"
	ParamCharSizeMissingFmt    = "parameter type 'c' for %s must be followed by the maximum size"
	ParamStringTooLongFmt      = "string too long for %s (max %d)"
	ParamUnknownTypeFmt        = "unknown parameter type '%c' for %s"
	ParamTooManyValuesFmt      = "too many values for %s (max %d)"
	ParamTooFewValuesFmt       = "too few values for %s (min %d)"
	ParamBadSyntaxFmt          = "invalid argument syntax for %s: '%c'"
	ParamBadValueFmt           = "invalid value %q for %s: %w"
	ParamStorageOverrunFmt     = "too much data for %s storage"

	AbiSectionFailedFmt = "cannot create section %s"

	KernelQueryFailedFmt   = "cannot read kernel state: %w"
	KernelReserveExistsFmt = "a module named %s already exists"
	KernelReserveNomemFmt  = "can't allocate kernel memory for module; needed %d bytes"
	KernelReserveFailedFmt = "create_module: %w"
	KernelInstallFailedFmt = "init_module: %w"
	KernelInstallBusyHint  = "Hint: this error can be caused by incorrect module parameters, including invalid IO and IRQ parameters\n"
	KernelRemoveFailedFmt  = "delete_module %s: %w"

	LoadOpenFailedFmt = "%s: %w"
	LoadLockFailedFmt = "cannot lock %s: %w"

	LoadMapSectionHeaderFmt = "Sections:       Size      %-*s  Align"
	LoadMapSectionRowFmt    = "%-16s%08x  %0*x  2**%d"
	LoadMapSymbolHeader     = "\nSymbols:"
	LoadMapSymbolRowFmt     = "%0*x %c %s"
)
