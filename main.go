package main

import (
	"os"
	"runtime/debug"

	"github.com/mezonai/mmn-plasma/cmd"
	"github.com/mezonai/mmn-plasma/logx"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			_ = logx.Errorf("CLIENT CRASHED: %v\n%s", r, debug.Stack())
			os.Exit(1)
		}
	}()

	cmd.Execute()
}
