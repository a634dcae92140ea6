// File: cmd/run.go
package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autosetname/internal/login"
	"github.com/xkilldash9x/autosetname/internal/observability"
	"github.com/xkilldash9x/autosetname/internal/orchestrator"
)

// launchBrowser is swapped out in tests.
var launchBrowser orchestrator.LaunchFunc = orchestrator.DefaultLaunch

func newRunCmd(a *app) *cobra.Command {
	var (
		email    string
		password string
		prefix   string
		headless bool
	)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Sign in and set a random profile name",
		Long: `Launches Microsoft Edge, signs in through the Microsoft identity provider,
dismisses the interstitials along the way and submits a freshly generated
profile name on the Minecraft profile page.

Credentials may also come from AUTOSETNAME_ACCOUNT_EMAIL and
AUTOSETNAME_ACCOUNT_PASSWORD; flags take precedence.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			acct := a.cfg.Account()
			if cmd.Flags().Changed("email") {
				acct.Email = email
			}
			if cmd.Flags().Changed("password") {
				acct.Password = password
			}
			a.cfg.SetAccount(acct)

			if cmd.Flags().Changed("prefix") {
				a.cfg.SetProfilePrefix(prefix)
			}
			if cmd.Flags().Changed("headless") {
				a.cfg.SetBrowserHeadless(headless)
			}
			if err := a.cfg.Validate(); err != nil {
				return fmt.Errorf("%w: %w", orchestrator.ErrConfig, err)
			}

			orch, err := orchestrator.New(a.cfg, logger, launchBrowser)
			if err != nil {
				return err
			}

			creds := login.Credentials{Email: acct.Email, Password: acct.Password}
			logger.Info("Starting run.", zap.String("account", creds.String()))
			res := orch.Run(ctx, creds)

			fmt.Fprintf(cmd.OutOrStdout(), "run %s %s in %s\n", res.RunID, res.Status, res.Elapsed.Round(time.Millisecond))
			fmt.Fprintf(cmd.OutOrStdout(), "login: %s\n", res.Login.Summary())
			if res.Profile.Name != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "profile name: %s (submitted: %t)\n", res.Profile.Name, res.Profile.Submitted)
			}

			if res.Status == orchestrator.Failed {
				return fmt.Errorf("run %s failed: %w", res.RunID, res.Err)
			}
			return nil
		},
	}

	runCmd.Flags().StringVar(&email, "email", "", "account e-mail address")
	runCmd.Flags().StringVar(&password, "password", "", "account password")
	runCmd.Flags().StringVar(&prefix, "prefix", "", "fixed prefix for the generated profile name")
	runCmd.Flags().BoolVar(&headless, "headless", false, "run the browser without a window")

	return runCmd
}
