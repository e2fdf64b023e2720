package engine

import (
	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/require"
	"go.uber.org/zap"
)

// Printer receives console output from script.
type Printer = console.Printer

// LogPrinter writes console output to a zap logger.
type LogPrinter struct {
	logger *zap.Logger
}

// NewLogPrinter returns a printer writing to l, or to Logger() when l is nil.
func NewLogPrinter(l *zap.Logger) *LogPrinter {
	if l == nil {
		l = Logger()
	}
	return &LogPrinter{logger: l.Named("console")}
}

func (p *LogPrinter) Log(s string)   { p.logger.Info(s) }
func (p *LogPrinter) Warn(s string)  { p.logger.Warn(s) }
func (p *LogPrinter) Error(s string) { p.logger.Error(s) }

// InstallConsole installs a global console object writing to printer.
// The require function used to wire it up is not left on the global object.
func InstallConsole(rt *goja.Runtime, printer Printer) {
	reg := require.NewRegistry()
	reg.RegisterNativeModule(console.ModuleName, console.RequireWithPrinter(printer))
	reg.Enable(rt)
	console.Enable(rt)
	rt.GlobalObject().Delete("require")
}
