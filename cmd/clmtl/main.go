// Command clmtl inspects clspv SPIR-V modules and runs kernels on a clmtl
// device.
package main

import (
	"os"

	"github.com/gogpu/clmtl/cmd/clmtl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
