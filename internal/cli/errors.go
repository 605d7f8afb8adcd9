package cli

import (
	"fmt"
	"os"

	hiloerrors "github.com/randalmurphal/hilo/internal/errors"
)

// PrintError prints an error to stderr. Structured errors use their
// user-facing form; in verbose mode the code and cause follow.
func PrintError(err error) {
	if he := hiloerrors.AsHiloError(err); he != nil {
		fmt.Fprintln(os.Stderr, he.UserMessage())
		if verbose {
			fmt.Fprintf(os.Stderr, "\nCode: %s\n", he.Code)
			if he.Cause != nil {
				fmt.Fprintf(os.Stderr, "Cause: %v\n", he.Cause)
			}
		}
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
}
