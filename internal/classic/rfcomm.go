package classic

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"
)

// btProtoRFCOMM is Linux's BTPROTO_RFCOMM (include/net/bluetooth/rfcomm.h).
// golang.org/x/sys/unix mirrors the generic socket address families
// (AF_BLUETOOTH among them) but not protocol-family-specific protocol
// numbers, so this one is defined locally.
const btProtoRFCOMM = 3

// Open dials an RFCOMM channel on mac directly over a raw AF_BLUETOOTH
// socket — the generic stream helper higher OBEX/SPP profiles build on
// (§4.7). golang.org/x/sys/unix has no typed Sockaddr for AF_BLUETOOTH, so
// the sockaddr_rc struct is built by hand and passed to connect(2) via a raw
// syscall, the same approach userspace Bluetooth tooling outside the BlueZ
// D-Bus API uses.
func Open(ctx context.Context, mac string, channel int) (*os.File, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM, btProtoRFCOMM)
	if err != nil {
		return nil, fmt.Errorf("rfcomm socket: %w", err)
	}

	bdaddr, err := encodeBdaddr(mac)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	// struct sockaddr_rc { sa_family_t rc_family; bdaddr_t rc_bdaddr; uint8_t rc_channel; };
	sa := make([]byte, 9)
	binary.LittleEndian.PutUint16(sa[0:2], unix.AF_BLUETOOTH)
	copy(sa[2:8], bdaddr[:])
	sa[8] = byte(channel)

	done := make(chan error, 1)
	go func() {
		_, _, errno := unix.Syscall(unix.SYS_CONNECT, uintptr(fd), uintptr(unsafe.Pointer(&sa[0])), uintptr(len(sa)))
		if errno != 0 {
			done <- errno
			return
		}
		done <- nil
	}()

	select {
	case err := <-done:
		if err != nil {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("rfcomm connect %s channel %d: %w", mac, channel, err)
		}
		return os.NewFile(uintptr(fd), fmt.Sprintf("rfcomm:%s:%d", mac, channel)), nil
	case <-ctx.Done():
		_ = unix.Close(fd)
		return nil, ctx.Err()
	}
}

// encodeBdaddr parses a colon-separated MAC address into bdaddr_t's
// byte order, which is the reverse of the human-readable address.
func encodeBdaddr(mac string) ([6]byte, error) {
	var out [6]byte
	parts := strings.Split(mac, ":")
	if len(parts) != 6 {
		return out, fmt.Errorf("invalid bluetooth address %q", mac)
	}
	for i := 0; i < 6; i++ {
		b, err := strconv.ParseUint(parts[5-i], 16, 8)
		if err != nil {
			return out, fmt.Errorf("invalid bluetooth address %q: %w", mac, err)
		}
		out[i] = byte(b)
	}
	return out, nil
}
