package messages

// CLI usage strings for the combined binary.
const (
	InsmodUse   = "insmod [flags] module [key=value...]"
	InsmodShort = "Insert a module into the running kernel"
	InsmodLong  = "Insert a loadable kernel module, resolving its symbols against the\nrunning kernel and already-loaded modules, patching command-line\nparameters, and handing the finished image to the kernel."

	RmmodUse   = "rmmod module [module...]"
	RmmodShort = "Remove loaded modules from the running kernel"

	LsmodUse   = "lsmod"
	LsmodShort = "Show the status of loaded modules"

	KsymsUse   = "ksyms"
	KsymsShort = "Show exported kernel symbols"

	FlagForceUsage     = "force loading under a mismatched kernel version"
	FlagAutocleanUsage = "mark the module autoclean-able"
	FlagMapUsage       = "print a load map so crashes can be traced"
	FlagNoloadUsage    = "do everything except touch the kernel"
	FlagNameUsage      = "set the internal module name"
	FlagPollUsage      = "poll mode; only check whether the module matches the kernel"
	FlagQuietUsage     = "do not report individual unresolved symbols"
	FlagVerboseUsage   = "verbose output"
	FlagLockUsage      = "hold an advisory lock to serialize loads of the same module"
	FlagPrefixUsage    = "symbol version prefix for checksummed kernels"
	FlagNoExportUsage  = "do not export the module's external symbols"
	FlagNoKsymUsage    = "do not add debug tag symbols"

	KsymsAllUsage     = "include symbols exported by the kernel proper"
	KsymsModulesUsage = "show module information"

	InsmodMissingModuleArg = "insmod: a module file or name is required"
	RmmodMissingModuleArg  = "rmmod: at least one module name is required"

	DispatchAmbiguousNameFmt    = "%s has an ambiguous name; it must contain exactly one of %s"
	DispatchUnrecognizedNameFmt = "%s does not have a recognisable name; the name must contain one of %s"

	UsingModuleFmt    = "Using %s\n"
	NoModuleByNameFmt = "%s: no module by that name found"

	FlagConfigUsage = "path to the modules.toml configuration"

	LsmodHeader = "Module                  Size  Used by"
	LsmodRowFmt = "%-20s%8d  %2d  %s"

	KsymsRowFmt        = "%0*x  %s"
	KsymsRowModuleFmt  = "%0*x  %s\t[%s]"
	KsymsModuleInfoFmt = "%s: %d bytes at %#x"
)
