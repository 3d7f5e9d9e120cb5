package pathmon

import (
	"errors"
	"os"
	"reflect"
	"syscall"

	"golang.org/x/net/icmp"
)

// getFD gets the system file descriptor for an icmp.PacketConn
func getFD(c *icmp.PacketConn) (uintptr, error) {
	v := reflect.ValueOf(c).Elem().FieldByName("c").Elem()
	if v.Elem().Kind() != reflect.Struct {
		return 0, errors.New("invalid type")
	}

	fd := v.Elem().FieldByName("conn").FieldByName("fd")
	if fd.Elem().Kind() != reflect.Struct {
		return 0, errors.New("invalid type")
	}

	pfd := fd.Elem().FieldByName("pfd")
	if pfd.Kind() != reflect.Struct {
		return 0, errors.New("invalid type")
	}

	return uintptr(pfd.FieldByName("Sysfd").Int()), nil
}

// SetMark applies SO_MARK to both sockets, so probe traffic can be
// matched by fwmark-based routing and firewall rules.
func (tr *Transport) SetMark(mark uint) error {
	for _, conn := range []*icmp.PacketConn{tr.conn4, tr.conn6} {
		if conn == nil {
			continue
		}

		fd, err := getFD(conn)
		if err != nil {
			return err
		}

		err = os.NewSyscallError(
			"setsockopt",
			syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_MARK, int(mark)),
		)
		if err != nil {
			return err
		}
	}
	return nil
}
