package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"apphub.local/matrix-bots/internal/appcontext"
	"apphub.local/matrix-bots/internal/apps"
	"apphub.local/matrix-bots/internal/chat"
)

var appsCmd = &cobra.Command{
	Use:   "apps",
	Short: "List apps known to the registry",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		list, err := newRegistry(rt.cfg).List(cmd.Context())
		if err != nil {
			return fmt.Errorf("list apps: %w", err)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tDOMAIN\tMATRIX USER\tSTATUS\tCREDENTIALS")
		for _, app := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", app.ID, app.Name, app.Domain, app.MatrixUserID, app.Status, credentialKind(app))
		}
		return w.Flush()
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset <instanceID> <userID>",
	Short: "Clear the conversation history for one app user",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd.Context(), rt.cfg, rt.log)
		if err != nil {
			return err
		}
		defer store.Close()

		existed, err := store.Clear(cmd.Context(), args[0], args[1])
		if err != nil {
			return fmt.Errorf("clear conversation: %w", err)
		}
		if existed {
			fmt.Fprintf(cmd.OutOrStdout(), "cleared conversation %s/%s\n", args[0], args[1])
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "no conversation for %s/%s\n", args[0], args[1])
		}
		return nil
	},
}

var promptCmd = &cobra.Command{
	Use:   "prompt <appID>",
	Short: "Print the system prompt used for an app",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		service := chat.NewService(newRegistry(rt.cfg), appcontext.NewBuilder(), nil, nil)
		prompt, err := service.Prompt(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), prompt)
		return nil
	},
}

func credentialKind(app apps.AppInstance) string {
	creds := app.Credentials()
	switch {
	case strings.TrimSpace(creds.AccessToken) != "":
		return "token"
	case strings.TrimSpace(creds.Password) != "":
		return "password"
	default:
		return "none"
	}
}
