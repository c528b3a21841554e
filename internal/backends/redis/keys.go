package redis

import "fmt"

// Multi-key scripts keep their keys in one cluster slot through the {hash tag}.
const (
	windowKeyNameTemplate   = "gk:rl:{%s}"
	blockKeyNameTemplate    = "gk:rl:{%s}:block"
	failureKeyNameTemplate  = "gk:lockout:{%s}:failures"
	lockoutKeyNameTemplate  = "gk:lockout:{%s}:locked"
	idempotencyNameTemplate = "gk:idem:%s"
)

func getWindowKeyName(scope string) string     { return fmt.Sprintf(windowKeyNameTemplate, scope) }
func getBlockKeyName(scope string) string      { return fmt.Sprintf(blockKeyNameTemplate, scope) }
func getFailureKeyName(identity string) string { return fmt.Sprintf(failureKeyNameTemplate, identity) }
func getLockoutKeyName(identity string) string { return fmt.Sprintf(lockoutKeyNameTemplate, identity) }
func getIdempotencyKeyName(ref string) string  { return fmt.Sprintf(idempotencyNameTemplate, ref) }
