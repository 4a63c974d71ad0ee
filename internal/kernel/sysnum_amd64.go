package kernel

// Classic module syscall numbers on x86-64.
const (
	sysCreateModule = 174
	sysInitModule   = 175
	sysDeleteModule = 176
	sysQueryModule  = 178
)
