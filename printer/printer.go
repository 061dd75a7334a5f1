// Package printer provides leveled, colorized logging to stderr, the same
// shape the teacher's own printer package used for CLI output, pared down
// to the surface this stack's workers and commands actually call: Infoln,
// Infof, Errorf, and verbosity-gated Debugf via V(level).
package printer

import (
	"fmt"
	"io"
	"os"

	"github.com/logrusorgru/aurora"
	"github.com/spf13/viper"
)

var (
	Stderr = NewP(os.Stderr)
	Color  = aurora.NewAurora(true)
)

func Infoln(args ...interface{}) {
	Stderr.Infoln(args...)
}

func Infof(fmtString string, args ...interface{}) {
	Stderr.Infof(fmtString, args...)
}

func Errorf(fmtString string, args ...interface{}) {
	Stderr.Errorf(fmtString, args...)
}

// V gates debug-only logging behind viper's "verbose-level" setting: calls
// on the returned P are no-ops unless level is at or below that setting.
// Every worker hot path (ethernet/ipv4/tcp/arpresolver frame tracing) logs
// through V so normal operation pays only the branch, not the formatting.
func V(level int) P {
	return Stderr.V(level)
}

// P is the logging surface one output stream exposes.
type P interface {
	Infoln(args ...interface{})
	Infof(f string, args ...interface{})
	Errorf(f string, args ...interface{})
	Debugf(f string, args ...interface{})
	V(level int) P
}

type impl struct {
	out io.Writer
}

func NewP(out io.Writer) P {
	return impl{out: out}
}

func (p impl) ln(t string, args ...interface{}) {
	newArgs := make([]interface{}, 0, len(args)+1)
	newArgs = append(newArgs, t)
	newArgs = append(newArgs, args...)
	fmt.Fprintln(p.out, newArgs...)
}

func (p impl) Infoln(args ...interface{}) {
	p.ln(Color.Blue("[INFO] ").String(), args...)
}

func (p impl) Infof(fmtString string, args ...interface{}) {
	fmt.Fprintf(p.out, Color.Blue("[INFO] ").String())
	fmt.Fprintf(p.out, fmtString, args...)
}

func (p impl) Errorf(fmtString string, args ...interface{}) {
	fmt.Fprintf(p.out, Color.Red("[ERROR] ").String())
	fmt.Fprintf(p.out, fmtString, args...)
}

func (p impl) Debugf(fmtString string, args ...interface{}) {
	if viper.GetBool("debug") {
		fmt.Fprintf(p.out, Color.Magenta("[DEBUG] ").String())
		fmt.Fprintf(p.out, fmtString, args...)
	}
}

func (p impl) V(level int) P {
	if l := viper.GetInt("verbose-level"); l > 0 && level <= l {
		return p
	}
	return noopPrinter{}
}

type noopPrinter struct{}

func (noopPrinter) Infoln(args ...interface{})           {}
func (noopPrinter) Infof(f string, args ...interface{})  {}
func (noopPrinter) Errorf(f string, args ...interface{}) {}
func (noopPrinter) Debugf(f string, args ...interface{}) {}
func (p noopPrinter) V(level int) P                      { return p }
