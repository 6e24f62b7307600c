//go:build !linux

package framebuffer

import "fmt"

// Open is only available on Linux
func Open(path string) (*Surface, error) {
	return nil, fmt.Errorf("%w: fbdev %s requires linux", ErrNotFramebuffer, path)
}
