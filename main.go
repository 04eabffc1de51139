package main

import (
	"log"

	"print-host/bootstrap/config"
	"print-host/bootstrap/mode"
	"print-host/bootstrap/server"
	"print-host/logger"

	_ "print-host/migrations"
)

func main() {
	flags := config.ParseFlags()
	if err := logger.Setup(logger.Options{
		Level: flags.LogLevel,
		File:  flags.LogFile,
		Color: logger.UseColors(),
	}); err != nil {
		log.Fatal(err)
	}
	defer logger.Close()

	app := config.NewPocketBaseApp(flags)
	svc := mode.Build(app, flags)
	server.RegisterServe(app, svc, flags)

	app.RootCmd.SetArgs(config.PreparePocketBaseArgs(flags))
	if err := app.Start(); err != nil {
		log.Fatal(err)
	}
}
