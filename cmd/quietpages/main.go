package main

import (
	"net/http"
	"os"
	"os/signal"

	"github.com/hashicorp/go-hclog"
	"github.com/joho/godotenv"
	"github.com/quietpages/quietpages/auth"
	"github.com/quietpages/quietpages/config"
	"github.com/quietpages/quietpages/globals"
	"github.com/quietpages/quietpages/hub"
	"github.com/quietpages/quietpages/persistence"
	"github.com/quietpages/quietpages/presence"
	"github.com/quietpages/quietpages/server"
	"github.com/spf13/pflag"
)

var (
	configPath = pflag.StringP("config", "c", "", "path to config file or directory")
	addr       = pflag.String("addr", "localhost:8000", "service address (including port)")
	sslCert    = pflag.String("ssl-cert", "", "SSL cert (optional)")
	sslKey     = pflag.String("ssl-key", "", "SSL key (optional)")
)

func main() {
	_ = godotenv.Load()

	flagSet := config.GetFlagSet()
	pflag.CommandLine.AddFlagSet(flagSet)
	pflag.Parse()

	globalConfig, err := config.ReadConfiguration(*configPath, flagSet)
	if err != nil {
		panic(err)
	}
	if globalConfig.LogLevel != "" {
		globals.AppLogger.SetLevel(hclog.LevelFromString(globalConfig.LogLevel))
	}

	persister, err := persistence.NewPersister(globalConfig)
	if err != nil {
		panic(err)
	}
	if persister == nil {
		panic("no persistence configured")
	}
	defer persister.Close()

	authenticator, err := auth.NewAuthenticator(globalConfig)
	if err != nil {
		panic(err)
	}

	registry := presence.NewRegistry(globalConfig.PresenceConfig.TypingTTL)
	broadcastHub := hub.NewHub(globalConfig, persister)

	stop := make(chan struct{})
	go broadcastHub.Run(stop)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	go func() {
		<-c
		close(stop)
		globals.AppLogger.Error("interrupted!")
		os.Exit(1)
	}()

	srv := server.NewServer(globalConfig, persister, broadcastHub, registry, authenticator)
	globals.AppLogger.Info("listening", "addr", *addr)
	if *sslCert != "" && *sslKey != "" {
		err = http.ListenAndServeTLS(*addr, *sslCert, *sslKey, srv.Router())
	} else {
		err = http.ListenAndServe(*addr, srv.Router())
	}
	globals.AppLogger.Error("stopped listening", "error", err)
}
