package simulation

import (
	"errors"
	"fmt"
)

// ErrConfig reports an unusable run configuration.
type ErrConfig struct {
	Msg string
}

func (e ErrConfig) Error() string {
	return fmt.Sprintf("bad config: %s", e.Msg)
}

func IsErrConfig(err error) bool {
	return errors.As(err, &ErrConfig{})
}

func configf(format string, args ...any) error {
	return ErrConfig{Msg: fmt.Sprintf(format, args...)}
}
