//go:build !windows

package elevation

import "os"

// unixPrivileges never elevates. Priorities that need root end up as
// PermissionDenied in the outcome and the CLI suggests sudo.
type unixPrivileges struct{}

// System returns the privilege model of the running OS.
func System() Privileges { return unixPrivileges{} }

func (unixPrivileges) IsElevated() bool { return os.Geteuid() == 0 }
func (unixPrivileges) CanElevate() bool { return false }

func (unixPrivileges) Relaunch(string, []string, string) error { return errNoElevation }
