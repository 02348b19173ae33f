package cmd

import (
	"fmt"
	"io"
)

const banner = `
  _                          _
 (_)_ __ ___  _ __ __      _(_)_ __ ___
 | | '__/ _ \| '_ \\ \ /\ / / | '__/ _ \
 | | | | (_) | | | |\ V  V /| | | |  __/
 |_|_|  \___/|_| |_| \_/\_/ |_|_|  \___|

`

func printBanner(w io.Writer) {
	fmt.Fprintf(w, "\x1b[34m%s\x1b[0m", banner)
	fmt.Fprintf(w, "\x1b[32m  Session control server - Version %s\x1b[0m\n\n", Version)
}
