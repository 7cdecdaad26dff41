// Command memberledger runs the referral ledger server and its maintenance tasks.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/router-for-me/MemberLedger/internal/app"
	"github.com/router-for-me/MemberLedger/internal/config"
	log "github.com/sirupsen/logrus"
)

func main() {
	var configPath string
	var output string
	flag.StringVar(&configPath, "config", "", "path to config.yaml")
	flag.StringVar(&output, "out", "", "scan: write the CSV report to this file instead of stdout")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-config path] <serve|migrate|scan>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	command := "serve"
	if flag.NArg() > 0 {
		command = flag.Arg(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.AppConfig{ConfigPath: configPath}
	var err error
	switch command {
	case "serve":
		err = app.RunServer(ctx, cfg)
	case "migrate":
		err = app.Migrate(ctx, cfg)
	case "scan":
		err = runScan(ctx, cfg, output)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.WithError(err).Error("memberledger failed")
		os.Exit(1)
	}
}

func runScan(ctx context.Context, cfg config.AppConfig, output string) error {
	if output == "" {
		return app.Scan(ctx, cfg, os.Stdout)
	}
	file, errCreate := os.Create(output)
	if errCreate != nil {
		return fmt.Errorf("create %s: %w", output, errCreate)
	}
	errScan := app.Scan(ctx, cfg, file)
	if errClose := file.Close(); errClose != nil && errScan == nil {
		errScan = errClose
	}
	return errScan
}
