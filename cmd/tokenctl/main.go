// Command tokenctl is the operator tool for a token broker database: it
// refreshes credentials, manages principals and sweeps stale authorizations
// using the same environment as the server.
package main

import (
	"os"

	"token-broker/internal/app"
	"token-broker/internal/common/logging"
)

func main() {
	cli := newCLI(os.Stdout, buildApp)
	err := cli.Run(os.Args)
	logging.MustSync()
	if err != nil {
		logging.Error("tokenctl failed", err)
		os.Exit(1)
	}
}

// buildApp loads the broker configuration and assembles its components.
// Logs go to stderr so command output stays scriptable.
func buildApp() (*app.App, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, err
	}

	output := os.Stderr
	if cfg.LogFile != "" {
		if err := app.InitLogging(cfg); err != nil {
			return nil, err
		}
	} else {
		logger, err := logging.NewZapLogger(logging.LogConfig{
			Level:  logging.ParseLevel(cfg.LogLevel),
			Output: output,
			JSON:   cfg.LogFormat == "json",
			Name:   "tokenctl",
		})
		if err != nil {
			return nil, err
		}
		logging.SetGlobalLogger(logger)
	}

	return app.New(cfg)
}
