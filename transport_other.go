//go:build !linux

package pathmon

import "errors"

func (tr *Transport) SetMark(mark uint) error {
	return errors.New("setting SO_MARK socket option is not supported on this platform")
}
