//go:build !windows && !((darwin || freebsd || linux) && !android)

package overlay

func resolvePlatform(module, symbol string) (SendFunc, error) {
	return nil, ErrTransportUnavailable
}
