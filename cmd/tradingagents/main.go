package main

import (
	"github.com/dyike/TradingAgentsGo/internal/cli"
)

func main() {
	cli.Run()
}
