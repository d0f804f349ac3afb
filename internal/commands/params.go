package commands

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/tkn-tub/module-simple/internal/device"
)

// param decodes the positional parameter at index i into dst. A missing or
// null parameter leaves dst untouched and reports false.
func param[T any](params []json.RawMessage, i int, name string, dst *T) (bool, error) {
	if i >= len(params) {
		return false, nil
	}
	raw := bytes.TrimSpace(params[i])
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, invalidParams("invalid %s: %v", name, err)
	}
	return true, nil
}

// requireParam is param for parameters that must be present
func requireParam[T any](params []json.RawMessage, i int, name string, dst *T) error {
	ok, err := param(params, i, name, dst)
	if err != nil {
		return err
	}
	if !ok {
		return invalidParams("missing %s", name)
	}
	return nil
}

// ifaceParam reads an interface name, defaulting to the module's interface
func ifaceParam(params []json.RawMessage, i int) (string, error) {
	iface := device.Interface
	if _, err := param(params, i, "iface", &iface); err != nil {
		return "", err
	}
	return iface, nil
}

func maxParams(params []json.RawMessage, n int) error {
	if len(params) > n {
		return invalidParams("expected at most %d params, got %d", n, len(params))
	}
	return nil
}

func invalidParams(format string, args ...interface{}) *CommandError {
	return &CommandError{Code: ErrInvalidParams, Message: fmt.Sprintf(format, args...)}
}
