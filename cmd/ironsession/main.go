package main

import (
	"os"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/ironsession/cmd/ironsession/cmd"
)

func main() {
	memguard.CatchInterrupt()
	code := cmd.Execute()
	memguard.Purge()
	os.Exit(code)
}
