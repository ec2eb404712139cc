package core

import "fmt"

// CheckPermission enforces that claims grant required.
//
// An empty required permission only demands that the permissions claim exists,
// which lets the same gate protect authentication-only endpoints.
func CheckPermission(required string, claims *Claims) error {
	if !claims.HasPermissions() {
		return NewError(KindNoPermissionsClaim, nil)
	}
	if required == "" {
		return nil
	}
	if !claims.HasPermission(required) {
		return NewError(KindPermissionDenied, fmt.Errorf("missing %q", required))
	}
	return nil
}
