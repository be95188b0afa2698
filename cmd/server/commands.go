package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/parcelchat-server/internal/app"
	"github.com/vovakirdan/parcelchat-server/internal/auth"
	"github.com/vovakirdan/parcelchat-server/internal/config"
	"github.com/vovakirdan/parcelchat-server/internal/log"
	"github.com/vovakirdan/parcelchat-server/internal/store"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

// load resolves configuration and builds the logger for a command.
func (o *rootOptions) load() (config.Config, *zerolog.Logger, error) {
	bootstrap := log.New(o.logLevel)

	cfg, path, err := config.Load(bootstrap, o.configPath)
	if err != nil {
		return cfg, bootstrap, err
	}
	cfg.UpdateFrom(config.Config{LogLevel: o.logLevel})

	logger := log.New(cfg.LogLevel)
	logger.Debug().Str("config", path).Msg("configuration loaded")
	return cfg, logger, nil
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	serve := newServeCmd(opts)
	root := &cobra.Command{
		Use:          "parcelchat",
		Short:        "Real-time admin/client messaging server",
		SilenceUsage: true,
		RunE:         serve.RunE,
	}
	root.Flags().AddFlagSet(serve.Flags())
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config.yaml (created with defaults when missing)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	root.AddCommand(
		serve,
		newMigrateCmd(opts),
		newUserCmd(opts),
		newConversationCmd(opts),
		newTokenCmd(opts),
	)
	return root
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			cfg.UpdateFrom(config.Config{Addr: addr})

			application, err := app.New(cmd.Context(), &cfg, logger)
			if err != nil {
				return err
			}

			logger.Info().Str("addr", cfg.Addr).Msg("starting parcelchat server")
			if err := application.Run(cmd.Context()); err != nil {
				logger.Error().Err(err).Msg("server exited with error")
				return err
			}
			logger.Info().Msg("server stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address override")
	return cmd
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			st, err := app.OpenStore(cmd.Context(), &cfg, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return nil
		},
	}
}

func newUserCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}

	var (
		params auth.RegisterParams
		role   string
		status string
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "Create a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			st, err := app.OpenStore(cmd.Context(), &cfg, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			params.Role = store.Role(strings.ToUpper(role))
			params.Status = store.UserStatus(strings.ToUpper(status))

			user, err := auth.NewService(st, app.JWTConfig(&cfg)).Register(cmd.Context(), params)
			if err != nil {
				return fmt.Errorf("add user: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), user.ID)
			return nil
		},
	}
	add.Flags().StringVar(&params.Email, "email", "", "email address")
	add.Flags().StringVar(&params.Password, "password", "", "password (at least 8 characters)")
	add.Flags().StringVar(&params.Name, "name", "", "display name")
	add.Flags().StringVar(&role, "role", string(store.RoleClient), "ADMIN or CLIENT")
	add.Flags().StringVar(&status, "status", string(store.UserStatusActive), "ACTIVE, PENDING or DISABLED")
	_ = add.MarkFlagRequired("email")
	_ = add.MarkFlagRequired("password")

	cmd.AddCommand(add)
	return cmd
}

func newConversationCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conversation",
		Short: "Manage conversations",
	}

	var adminEmail, clientEmail string
	add := &cobra.Command{
		Use:   "add",
		Short: "Open the conversation between an admin and a client",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			st, err := app.OpenStore(cmd.Context(), &cfg, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			admin, err := lookupUser(cmd, st, adminEmail, store.RoleAdmin)
			if err != nil {
				return err
			}
			client, err := lookupUser(cmd, st, clientEmail, store.RoleClient)
			if err != nil {
				return err
			}

			conv, err := st.CreateConversation(cmd.Context(), admin.ID, client.ID)
			if err != nil {
				return fmt.Errorf("add conversation: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), conv.ID)
			return nil
		},
	}
	add.Flags().StringVar(&adminEmail, "admin", "", "admin email")
	add.Flags().StringVar(&clientEmail, "client", "", "client email")
	_ = add.MarkFlagRequired("admin")
	_ = add.MarkFlagRequired("client")

	cmd.AddCommand(add)
	return cmd
}

func newTokenCmd(opts *rootOptions) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a connection token for a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			st, err := app.OpenStore(cmd.Context(), &cfg, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			user, err := lookupUser(cmd, st, email, "")
			if err != nil {
				return err
			}
			token, err := auth.NewService(st, app.JWTConfig(&cfg)).IssueToken(user)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "user email")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

// lookupUser finds a user by email and checks the role when one is given.
func lookupUser(cmd *cobra.Command, st store.UserStore, email string, role store.Role) (*store.User, error) {
	user, err := st.GetUserByEmail(cmd.Context(), strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("user %s not found", email)
		}
		return nil, err
	}
	if role != "" && user.Role != role {
		return nil, fmt.Errorf("user %s is %s, want %s", email, user.Role, role)
	}
	return user, nil
}
