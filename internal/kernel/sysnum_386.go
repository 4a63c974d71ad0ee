package kernel

// Classic module syscall numbers on i386.
const (
	sysCreateModule = 127
	sysInitModule   = 128
	sysDeleteModule = 129
	sysQueryModule  = 167
)
