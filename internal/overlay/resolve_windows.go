//go:build windows

package overlay

import (
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

// resolvePlatform only looks at modules already loaded into the process; the
// consumer injects its module, the host never loads it.
func resolvePlatform(module, symbol string) (SendFunc, error) {
	name, err := windows.UTF16PtrFromString(module)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}
	var mod windows.Handle
	if err := windows.GetModuleHandleEx(windows.GET_MODULE_HANDLE_EX_FLAG_PIN, name, &mod); err != nil {
		return nil, fmt.Errorf("%w: GetModuleHandleEx %s: %v", ErrTransportUnavailable, module, err)
	}
	proc, err := windows.GetProcAddress(mod, symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: GetProcAddress %s: %v", ErrTransportUnavailable, symbol, err)
	}
	return func(version uint32, data unsafe.Pointer) bool {
		r, _, _ := syscall.SyscallN(proc, uintptr(version), uintptr(data))
		return byte(r) != 0
	}, nil
}
