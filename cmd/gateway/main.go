package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"gopkg.in/yaml.v3"
	"kejapay.africa/gateway/cmd/gateway/internal/router"
)

var app struct {
	debug  bool
	config string
}

func init() {
	flagset := flag.NewFlagSet("gateway", flag.ExitOnError)
	flagset.BoolVar(&app.debug, "debug", false, "set debug mode")
	flagset.StringVar(&app.config, "config", "config.yaml", "YAML configuration")
	err := flagset.Parse(os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}
}

func main() {
	if app.debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	configContents, err := os.ReadFile(app.config)
	if err != nil {
		log.Fatal(err)
	}

	var cfg Config
	err = yaml.Unmarshal(configContents, &cfg)
	if err != nil {
		log.Fatal(err)
	}

	ctrl, config, store, err := cfg.Compile(context.Background(), router.Observe)
	if err != nil {
		log.Fatal(err)
	}
	defer config.DB.Close()
	defer ctrl.Close()

	e := gin.Default()
	var r = router.Router{
		ReconcileInterval: cfg.ReconcileInterval,
		Payments:          ctrl,
		Accounts:          store,
		Base:              e,
	}
	r.Register()

	err = e.Run(cfg.ListenAddress)
	if err != nil {
		log.Fatal(err)
	}
}
