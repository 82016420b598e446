// The main package for the edgeschema executable.
package main

import (
	"github.com/discoverly/edgeschema/cmd"
)

func main() {
	cmd.Execute()
}
