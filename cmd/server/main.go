package main

import (
	"github.com/triad-med/triad/internal/server"
	"github.com/triad-med/triad/internal/util"
	"github.com/triad-med/triad/pkg/logger"
	"github.com/triad-med/triad/pkg/logger/console"

	_ "github.com/lib/pq"
)

func main() {
	util.LoadEnv()

	debug := util.GetEnvBool("DEBUG", false)

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
	})
	logger.Init(consoleLogger)

	server.Init()
}
