// Command loqa-highlight follows a streamed chat answer and highlights each
// word as it is spoken.
//
// Usage:
//
//	loqa-highlight [--config file] <command>
//
// Commands:
//
//	daemon     - run the HTTP API, bus relay and optional reference backend
//	ask        - run one session and draw it in the terminal
//	reference  - run only the reference backend
//	version    - print the version
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
