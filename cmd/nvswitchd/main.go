package main

import (
	"fmt"
	"os"

	"github.com/leptonai/nvswitchd/cmd/nvswitchd/command"
	cmdcommon "github.com/leptonai/nvswitchd/cmd/nvswitchd/common"
)

func main() {
	app := command.App()
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%s %s\n", cmdcommon.WarningSign, err)
		os.Exit(1)
	}
}
