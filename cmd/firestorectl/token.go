package main

import (
	"context"
	"errors"
	"fmt"

	"firestore-client/internal/auth"
	"firestore-client/internal/config"

	"github.com/spf13/cobra"
)

var (
	tokenEmail  string
	tokenClaims string
)

var tokenCmd = &cobra.Command{
	Use:   "token [uid]",
	Short: "Issue a bearer token signed with JWT_SECRET_KEY",
	Long: `Sign a token the emulator accepts. Custom claims given with --claims as a JSON
object are visible to security rules as request.auth.token.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.LoadServerConfig()
		if err != nil {
			fatal("Failed to load configuration", err)
		}
		if !cfg.AuthEnabled() {
			fatal("Cannot sign tokens", errors.New("JWT_SECRET_KEY is not set"))
		}
		var custom map[string]interface{}
		if tokenClaims != "" {
			if custom, err = parseData(tokenClaims); err != nil {
				fatal("Invalid claims", err)
			}
		}
		tokens, err := auth.NewJWTokenService(cfg)
		if err != nil {
			fatal("Failed to create token service", err)
		}
		token, err := tokens.GenerateToken(context.Background(), args[0], tokenEmail, custom)
		if err != nil {
			fatal("Failed to sign token", err)
		}
		fmt.Println(token)
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().StringVar(&tokenEmail, "email", "", "Email claim")
	tokenCmd.Flags().StringVar(&tokenClaims, "claims", "", "Custom claims as a JSON object")
}
