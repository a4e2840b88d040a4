package mcp

import (
	"fmt"

	"github.com/locusmcp/locus/internal/errors"
)

// toolError converts an engine error into the message returned over the
// wire: the user-facing remediation first, then the developer detail so
// clients can log the cause.
func toolError(err error) error {
	if err == nil {
		return nil
	}
	message, suggestion := errors.UserMessage(err)
	code := errors.CodeOf(err)
	if code == "" {
		return fmt.Errorf("%s (%s)", message, err.Error())
	}
	if suggestion != "" {
		return fmt.Errorf("%s %s [%s: %s]", message, suggestion, code, err.Error())
	}
	return fmt.Errorf("%s [%s: %s]", message, code, err.Error())
}
