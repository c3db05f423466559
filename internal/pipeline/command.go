package pipeline

import (
	"errors"
	"fmt"

	"github.com/MrWong99/voxplot/internal/feature"
)

// ErrUsage is matched by every [UsageError].
var ErrUsage = errors.New("usage error")

// UsageError reports a malformed command: an unknown command or feature
// selector, or missing arguments.
type UsageError struct {
	Msg string
	Err error
}

func (e *UsageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *UsageError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrUsage, e.Err}
	}
	return []error{ErrUsage}
}

// Usagef returns a [UsageError] with a formatted message.
func Usagef(format string, args ...any) error {
	return &UsageError{Msg: fmt.Sprintf(format, args...)}
}

// CommandKind selects what [Analyzer.Run] produces.
type CommandKind int

const (
	// AutoFull writes a plot and a text table for every feature next to the
	// input and prints the written paths.
	AutoFull CommandKind = iota

	// GeneratePlot writes one plot for one feature to an output path.
	GeneratePlot

	// PrintRawData writes the (time, value) table of one feature to stdout.
	PrintRawData

	// PrintSummary writes descriptive statistics of one feature to stdout.
	PrintSummary
)

var commandNames = map[CommandKind]string{
	AutoFull:     "auto_full",
	GeneratePlot: "generate_plot_file",
	PrintRawData: "print_raw_data",
	PrintSummary: "print_summary",
}

// String returns the CLI name of k.
func (k CommandKind) String() string {
	if s, ok := commandNames[k]; ok {
		return s
	}
	return fmt.Sprintf("CommandKind(%d)", int(k))
}

// ParseCommandKind maps a CLI command name to its kind. AutoFull has no
// name on the command line and is not accepted.
func ParseCommandKind(s string) (CommandKind, error) {
	for k, name := range commandNames {
		if name == s && k != AutoFull {
			return k, nil
		}
	}
	return 0, Usagef("unknown command %q; valid commands: generate_plot_file, print_raw_data, print_summary", s)
}

// Command is one request to [Analyzer.Run].
type Command struct {
	Kind CommandKind

	// Feature is required by every kind except AutoFull.
	Feature feature.Kind

	// Output is the plot path for GeneratePlot.
	Output string
}

// Validate returns a [UsageError] when c is incomplete.
func (c Command) Validate() error {
	switch c.Kind {
	case AutoFull:
		return nil
	case GeneratePlot, PrintRawData, PrintSummary:
	default:
		return Usagef("unknown command %s", c.Kind)
	}

	if !c.Feature.IsValid() {
		_, err := feature.ParseKind(string(c.Feature))
		return &UsageError{Msg: c.Kind.String(), Err: err}
	}
	if c.Kind == GeneratePlot && c.Output == "" {
		return Usagef("%s %s: missing output path", c.Kind, c.Feature)
	}
	if c.Kind == PrintSummary && c.Feature == feature.Amplitude {
		return Usagef("%s: amplitude has no summary; use intensity or pitch", c.Kind)
	}
	return nil
}
