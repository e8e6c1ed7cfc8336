package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"memo-sync/internal/credential"
	"memo-sync/internal/domain"
	"memo-sync/internal/remote"
)

var (
	loginUsername string
	loginPassword string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and store the session token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		password := loginPassword
		if password == "" {
			fmt.Print("Password: ")
			line, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read password: %w", err)
			}
			password = strings.TrimSpace(line)
		}

		creds, err := credential.NewFileStore(cfg.TokenFile)
		if err != nil {
			return err
		}

		client := remote.New(cfg.ServerURL, creds, remote.WithTimeout(cfg.RequestTimeout), remote.WithLogger(lg))
		token, err := client.Login(context.Background(), loginUsername, password)
		if errors.Is(err, domain.ErrInvalidCredentials) {
			return errors.New("invalid username or password")
		}
		if err != nil {
			return err
		}

		if err := creds.SetToken(token); err != nil {
			return err
		}
		fmt.Println("Logged in.")
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := credential.NewFileStore(cfg.TokenFile)
		if err != nil {
			return err
		}
		creds.ClearToken()
		fmt.Println("Logged out.")
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVarP(&loginUsername, "username", "u", "admin", "Account name")
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "Password (prompted when empty)")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}
