//go:build windows

package elevation

import (
	"strings"

	"golang.org/x/sys/windows"
)

type windowsPrivileges struct{}

// System returns the privilege model of the running OS.
func System() Privileges { return windowsPrivileges{} }

func (windowsPrivileges) IsElevated() bool {
	return windows.GetCurrentProcessToken().IsElevated()
}

func (windowsPrivileges) CanElevate() bool { return true }

// Relaunch shows the UAC prompt through the "runas" verb.
func (windowsPrivileges) Relaunch(exe string, args []string, dir string) error {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = windows.EscapeArg(a)
	}
	verb, err := windows.UTF16PtrFromString("runas")
	if err != nil {
		return err
	}
	file, err := windows.UTF16PtrFromString(exe)
	if err != nil {
		return err
	}
	params, err := windows.UTF16PtrFromString(strings.Join(quoted, " "))
	if err != nil {
		return err
	}
	cwd, err := windows.UTF16PtrFromString(dir)
	if err != nil {
		return err
	}
	return windows.ShellExecute(0, verb, file, params, cwd, windows.SW_NORMAL)
}
