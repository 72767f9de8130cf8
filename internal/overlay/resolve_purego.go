//go:build (darwin || freebsd || linux) && !android

package overlay

import (
	"fmt"
	"unsafe"

	"github.com/ebitengine/purego"
)

func resolvePlatform(module, symbol string) (SendFunc, error) {
	lib, err := purego.Dlopen(module, purego.RTLD_NOW|purego.RTLD_LOCAL)
	if err != nil {
		return nil, fmt.Errorf("%w: dlopen %s: %v", ErrTransportUnavailable, module, err)
	}
	sym, err := purego.Dlsym(lib, symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: dlsym %s: %v", ErrTransportUnavailable, symbol, err)
	}
	var fn func(version uint32, data unsafe.Pointer) bool
	purego.RegisterFunc(&fn, sym)
	return fn, nil
}
