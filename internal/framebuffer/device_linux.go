//go:build linux

package framebuffer

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/fbstream/internal/logger"
)

// ioctl requests from linux/fb.h
const (
	fbioGetVScreenInfo = 0x4600
	fbioGetFScreenInfo = 0x4602
)

type fbBitfield struct {
	Offset   uint32
	Length   uint32
	MsbRight uint32
}

// fb_var_screeninfo
type fbVarScreenInfo struct {
	Xres, Yres               uint32
	XresVirtual, YresVirtual uint32
	Xoffset, Yoffset         uint32
	BitsPerPixel             uint32
	Grayscale                uint32
	Red, Green, Blue, Transp fbBitfield
	Nonstd                   uint32
	Activate                 uint32
	Height, Width            uint32
	AccelFlags               uint32
	Pixclock                 uint32
	LeftMargin, RightMargin  uint32
	UpperMargin, LowerMargin uint32
	HsyncLen, VsyncLen       uint32
	Sync                     uint32
	Vmode                    uint32
	Rotate                   uint32
	Colorspace               uint32
	Reserved                 [4]uint32
}

// fb_fix_screeninfo
type fbFixScreenInfo struct {
	ID           [16]byte
	SmemStart    uintptr
	SmemLen      uint32
	Type         uint32
	TypeAux      uint32
	Visual       uint32
	Xpanstep     uint16
	Ypanstep     uint16
	Ywrapstep    uint16
	LineLength   uint32
	MmioStart    uintptr
	MmioLen      uint32
	Accel        uint32
	Capabilities uint16
	Reserved     [2]uint16
}

func xioctl(fd uintptr, req uintptr, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, req, uintptr(arg))
		if errno == 0 {
			return nil
		}
		if errno != unix.EINTR {
			return errno
		}
	}
}

// Open maps the fbdev at path. The device's panning offsets are folded into
// the surface so callers only deal with visible coordinates.
func Open(path string) (*Surface, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open framebuffer device: %w", err)
	}
	defer f.Close()

	var finfo fbFixScreenInfo
	if err := xioctl(f.Fd(), fbioGetFScreenInfo, unsafe.Pointer(&finfo)); err != nil {
		return nil, fmt.Errorf("%w: FBIOGET_FSCREENINFO %s: %v", ErrNotFramebuffer, path, err)
	}
	var vinfo fbVarScreenInfo
	if err := xioctl(f.Fd(), fbioGetVScreenInfo, unsafe.Pointer(&vinfo)); err != nil {
		return nil, fmt.Errorf("%w: FBIOGET_VSCREENINFO %s: %v", ErrNotFramebuffer, path, err)
	}
	if vinfo.BitsPerPixel != 32 {
		return nil, fmt.Errorf("%w: %d bits per pixel", ErrUnsupportedDepth, vinfo.BitsPerPixel)
	}

	size := int(finfo.SmemLen)
	if size == 0 {
		size = int(finfo.LineLength) * int(vinfo.YresVirtual)
	}
	logger.Info("Framebuffer", "%s: %dx%d (virtual %dx%d) line_length=%d offset=(%d,%d) mapping %d bytes",
		path, vinfo.Xres, vinfo.Yres, vinfo.XresVirtual, vinfo.YresVirtual,
		finfo.LineLength, vinfo.Xoffset, vinfo.Yoffset, size)

	buf, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap framebuffer: %w", err)
	}

	s, err := NewSurface(buf, int(finfo.LineLength), int(vinfo.Xres), int(vinfo.Yres))
	if err != nil {
		_ = unix.Munmap(buf)
		return nil, err
	}
	s.xoffset = int(vinfo.Xoffset)
	s.yoffset = int(vinfo.Yoffset)
	s.release = func() error {
		if err := unix.Munmap(buf); err != nil {
			return fmt.Errorf("munmap framebuffer: %w", err)
		}
		return nil
	}
	return s, nil
}
