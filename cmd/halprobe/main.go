// Command halprobe inspects the halcore device backends and runs a buffer
// round trip through the selected device.
package main

import (
	"fmt"
	"os"

	_ "github.com/gogpu/halcore/device/software"
	_ "github.com/gogpu/halcore/device/wgpu"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "halprobe:", err)
		os.Exit(1)
	}
}
