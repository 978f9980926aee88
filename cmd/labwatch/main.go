package main

import (
	"labwatch/cmd/labwatch/commands"
	"labwatch/pkg/serviceutil"
)

func main() {
	ctx, stop := serviceutil.SignalContext()
	defer stop()
	commands.ExecuteContext(ctx)
}
