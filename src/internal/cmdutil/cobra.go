package cmdutil

import (
	"fmt"
	"os"
	"strings"

	"github.com/pachyderm/durachunk/src/internal/errors"
	"github.com/spf13/cobra"
)

// PrintErrorStacks should be set to true if you want to print out a stack for
// errors that are returned by the run commands.
var PrintErrorStacks bool

// RunFixedArgs wraps a function in a function
// that checks its exact argument count.
func RunFixedArgs(numArgs int, run func(*cobra.Command, []string) error) func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		if len(args) != numArgs {
			fmt.Fprintf(cmd.ErrOrStderr(), "expected %d arguments, got %d\n\n", numArgs, len(args))
			cmd.Usage() //nolint:errcheck
			os.Exit(2)
		}
		if err := run(cmd, args); err != nil {
			ErrorAndExit("%v", err)
		}
	}
}

// RunBoundedArgs wraps a function in a function
// that checks its argument count is within a range.
func RunBoundedArgs(min int, max int, run func(*cobra.Command, []string) error) func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		if len(args) < min || len(args) > max {
			fmt.Fprintf(cmd.ErrOrStderr(), "expected %d to %d arguments, got %d\n\n", min, max, len(args))
			cmd.Usage() //nolint:errcheck
			os.Exit(2)
		}
		if err := run(cmd, args); err != nil {
			ErrorAndExit("%v", err)
		}
	}
}

// ErrorAndExit errors with the given format and args, and then exits.
func ErrorAndExit(format string, args ...interface{}) {
	if errString := strings.TrimSpace(fmt.Sprintf(format, args...)); errString != "" {
		fmt.Fprintf(os.Stderr, "%s\n", errString)
	}
	if len(args) > 0 && PrintErrorStacks {
		if err, ok := args[0].(error); ok {
			errors.ForEachStackFrame(err, func(frame errors.Frame) {
				fmt.Fprintf(os.Stderr, "%+v\n", frame)
			})
		}
	}
	os.Exit(1)
}

// Location names one content item, written "space:contentID" on the command line.
type Location struct {
	SpaceID   string
	ContentID string
}

func (l Location) String() string {
	return l.SpaceID + ":" + l.ContentID
}

// ParseLocation parses "space:contentID".  The content id may itself contain
// colons; only the first one separates the space.
func ParseLocation(arg string) (Location, error) {
	parts := strings.SplitN(arg, ":", 2)
	if len(parts) != 2 {
		return Location{}, errors.Errorf("invalid location %q: expected space:contentID", arg)
	}
	if parts[0] == "" {
		return Location{}, errors.Errorf("invalid location %q: space cannot be empty", arg)
	}
	if parts[1] == "" {
		return Location{}, errors.Errorf("invalid location %q: content id cannot be empty", arg)
	}
	return Location{SpaceID: parts[0], ContentID: parts[1]}, nil
}

// RepeatedStringArg is an alias for []string
type RepeatedStringArg []string

func (r *RepeatedStringArg) String() string {
	return "[" + strings.Join(*r, ", ") + "]"
}

// Set adds a string to r
func (r *RepeatedStringArg) Set(s string) error {
	*r = append(*r, s)
	return nil
}

// Type returns the string representation of the type of r
func (r *RepeatedStringArg) Type() string {
	return "[]string"
}
