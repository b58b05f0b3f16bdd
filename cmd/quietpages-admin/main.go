package main

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/joho/godotenv"
	"github.com/quietpages/quietpages/auth"
	"github.com/quietpages/quietpages/config"
	"github.com/quietpages/quietpages/globals"
	"github.com/quietpages/quietpages/persistence"
	"github.com/quietpages/quietpages/types"
	"github.com/spf13/cobra"
)

// A very simple CLI tool for the administration of quietpages rooms and
// access phrases.

var (
	configPath string

	globalConfig *config.Config
	persister    persistence.Persister
)

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:          "quietpages-admin",
		Short:        "administer quietpages rooms",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			globalConfig, err = config.ReadConfiguration(configPath, config.GetFlagSet())
			if err != nil {
				return err
			}
			if globalConfig.LogLevel != "" {
				globals.AppLogger.SetLevel(hclog.LevelFromString(globalConfig.LogLevel))
			}
			persister, err = persistence.NewPersister(globalConfig)
			if err != nil {
				return err
			}
			if persister == nil {
				return fmt.Errorf("no persistence configured")
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if persister != nil {
				persister.Close()
			}
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file or directory")

	roomCmd := &cobra.Command{Use: "room", Short: "room administration"}

	var roomName, roomPassword string
	roomCreateCmd := &cobra.Command{
		Use:   "create",
		Short: "create a new room",
		RunE: func(cmd *cobra.Command, args []string) error {
			room := types.Room{
				Id:   auth.NewRoomId(),
				Name: roomName,
				Tags: make(map[string]string),
			}
			if roomPassword != "" {
				hash, err := auth.HashPhrase(roomPassword, globalConfig.AuthConfig.BcryptCost)
				if err != nil {
					return err
				}
				room.PasswordHash = hash
			}
			if err := persister.StoreRoom(room); err != nil {
				return err
			}
			fmt.Printf("created room %s (%s)\n", room.Id, room.Name)
			return nil
		},
	}
	roomCreateCmd.Flags().StringVar(&roomName, "name", "", "room name")
	roomCreateCmd.Flags().StringVar(&roomPassword, "password", "", "admin password")

	roomListCmd := &cobra.Command{
		Use:   "list",
		Short: "list all rooms",
		RunE: func(cmd *cobra.Command, args []string) error {
			rooms, err := persister.GetRooms()
			if err != nil {
				return err
			}
			for _, room := range rooms {
				fmt.Printf("%s\t%s\n", room.Id, room.Name)
			}
			return nil
		},
	}

	roomClearCmd := &cobra.Command{
		Use:   "clear <room-id>",
		Short: "delete all messages of a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			count, err := persister.ClearRoom(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("deleted %d messages\n", count)
			return nil
		},
	}

	roomCmd.AddCommand(roomCreateCmd, roomListCmd, roomClearCmd)

	phraseSetCmd := &cobra.Command{
		Use:   "phrase <room-id> <phrase>",
		Short: "set the secret access phrase of a room",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			room := types.Room{Id: args[0]}
			if err := persister.GetRoom(&room); err != nil {
				return err
			}
			hash, err := auth.HashPhrase(args[1], globalConfig.AuthConfig.BcryptCost)
			if err != nil {
				return err
			}
			if err := persister.StoreRoomPhrase(room.Id, hash); err != nil {
				return err
			}
			fmt.Printf("phrase set for room %s\n", room.Id)
			return nil
		},
	}

	var tokenAdmin bool
	tokenCmd := &cobra.Command{
		Use:   "token <room-id>",
		Short: "issue an access token for a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			authenticator, err := auth.NewAuthenticator(globalConfig)
			if err != nil {
				return err
			}
			session := auth.Session{RoomId: args[0], UserId: auth.NewUserId()}
			if tokenAdmin {
				session.UserId = types.ParticipantKeyAdmin
				session.IsAdmin = true
			}
			token, err := authenticator.IssueToken(session)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	tokenCmd.Flags().BoolVar(&tokenAdmin, "admin", false, "issue a privileged token")

	rootCmd.AddCommand(roomCmd, phraseSetCmd, tokenCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
