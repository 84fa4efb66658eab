package passframework

import (
	"github.com/tliron/commonlog"
)

// CommonLogAdapter wires the pipeline's Logger interface to
// tliron/commonlog, the same logging library cmd/kanso-lsp's main.go
// configures for the teacher's LSP server — used here for the obfuscation
// driver's pipeline progress instead, since this core has no LSP surface of
// its own.
type CommonLogAdapter struct {
	log commonlog.Logger
}

// NewCommonLogAdapter wraps the named commonlog logger (e.g. the driver's
// "polarisc" logger) as a passframework.Logger.
func NewCommonLogAdapter(name string) *CommonLogAdapter {
	return &CommonLogAdapter{log: commonlog.GetLogger(name)}
}

func (c *CommonLogAdapter) Infof(format string, args ...interface{}) {
	c.log.Infof(format, args...)
}

func (c *CommonLogAdapter) Errorf(format string, args ...interface{}) {
	c.log.Errorf(format, args...)
}
