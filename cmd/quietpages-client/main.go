package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/hashicorp/go-hclog"
	"github.com/joho/godotenv"
	"github.com/quietpages/quietpages/client"
	"github.com/quietpages/quietpages/config"
	"github.com/quietpages/quietpages/globals"
	"github.com/spf13/pflag"
)

// Headless sync client: keeps one room's timeline current via the live event
// stream with the poll fallback, mirrors it into a local cache and logs a
// notification for every foreign-role message.

var (
	configPath = pflag.StringP("config", "c", "", "path to config file or directory")
	serverURL  = pflag.String("server", "http://localhost:8000", "server base URL")
	roomId     = pflag.String("room", "", "room id")
	token      = pflag.String("token", "", "room access token")
	admin      = pflag.Bool("admin", false, "the token is the privileged side of the room")
	cacheFile  = pflag.String("cache", "", "local cache file (default: in-memory)")
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
	if *roomId == "" || *token == "" {
		panic("room and token are required")
	}

	cacheName := *cacheFile
	if cacheName == "" {
		cacheName = ":memory:"
	}
	cache, err := client.NewBuntCache(cacheName)
	if err != nil {
		panic(err)
	}
	defer cache.Close()

	api := client.NewRoomAPI(*serverURL, *roomId, *token)
	engine := client.NewEngine(*roomId, *admin, api, cache, client.LogNotifier{})
	engine.SetForeground(false)

	reconnectDelay, watchdog, pollInterval := client.Timings(globalConfig)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	roomSync, err := client.StartRoomSync(ctx, engine, api, reconnectDelay, watchdog, pollInterval)
	if err != nil {
		panic(err)
	}
	defer roomSync.Close()
	globals.AppLogger.Info("syncing", "room", *roomId, "messages", len(engine.Timeline()))

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	<-c
	globals.AppLogger.Info("interrupted!")
}
