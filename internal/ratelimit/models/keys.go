package models

import "strings"

// KeyScope namespaces throttle buckets.
type KeyScope string

const (
	ScopeStaff KeyScope = "staff"
	ScopeIP    KeyScope = "ip"
)

// ThrottleKey builds the bucket key for one identifier. Colons in the
// identifier are replaced so IPv6 addresses cannot collide with the scope.
func ThrottleKey(scope KeyScope, identifier string) string {
	return string(scope) + ":" + strings.ReplaceAll(identifier, ":", "_")
}
