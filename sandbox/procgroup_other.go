//go:build !unix

package sandbox

import (
	"os"
	"os/exec"
)

func configureProcessGroup(*exec.Cmd) {}

func maxRSSKB(*os.ProcessState) int64 { return 0 }
