package main

import (
	"github.com/shiran1989/magshimim-cyber-homework/internal/server"
	"github.com/shiran1989/magshimim-cyber-homework/internal/util"
	"github.com/shiran1989/magshimim-cyber-homework/pkg/logger"
	"github.com/shiran1989/magshimim-cyber-homework/pkg/logger/console"
)

func main() {
	util.LoadEnv()

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: util.GetEnvBool("DEBUG", false),
		JSON:  util.GetEnvString("LOG_FORMAT", "text") == "json",
	})
	logger.Init(consoleLogger)

	server.Init()
}
