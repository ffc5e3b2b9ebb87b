package worker

// Process exit codes of the worker/privileged path. Values are stable so
// scripting callers can branch on the failure category.
const (
	ExitOK                = 0
	ExitWriteFailure      = 2
	ExitVerifyFailure     = 3
	ExitNoPrivilegeHelper = 5
	ExitLaunchFailure     = 6
	ExitUnmountFailure    = 10
	ExitMissingArgs       = 64
	ExitUnexpected        = 99
	ExitCancelled         = 130
)
