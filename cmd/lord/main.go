package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	cl "landlord/internal/cli"
	"landlord/internal/config"
	"landlord/internal/game"
	"landlord/internal/syncq"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL

	root := &cobra.Command{
		Use:          "lord",
		Short:        "Landlord CLI game client",
		SilenceUsage: true,
	}

	root.AddCommand(
		newSignupCmd(&apiBase),
		newLoginCmd(&apiBase),
		newLogoutCmd(),
		newDashCmd(&apiBase),
		newClockCmd(&apiBase),
		newPropertiesCmd(&apiBase),
		newInvestCmd(&apiBase),
		newDivestCmd(&apiBase),
		newEscrowsCmd(&apiBase),
		newRentsCmd(&apiBase),
		newLedgerCmd(&apiBase),
		newLeaderboardCmd(&apiBase),
		newSyncCmd(&apiBase),
		newAdminCmd(&apiBase),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(apiBase *string) *cl.Client {
	return cl.NewClient(strings.TrimSpace(*apiBase))
}

func newSignupCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "signup",
		Short: "Create a Landlord account",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := promptRequired("Email")
			if err != nil {
				return err
			}
			password, err := promptPassword("Password")
			if err != nil {
				return err
			}
			handle, err := promptOptional("Handle (optional)")
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := newClient(apiBase)
			session, err := client.Signup(ctx, email, password, handle)
			if err != nil {
				return err
			}
			if strings.TrimSpace(session.AccessToken) == "" {
				printWarn("Signup created. Verify email, then run `lord login`.")
				return nil
			}
			if err := cl.SaveSession(cl.Session{
				AccessToken:  session.AccessToken,
				RefreshToken: session.RefreshToken,
				Email:        session.User.Email,
				UserID:       session.User.ID,
			}); err != nil {
				return err
			}
			printSuccess("Signup complete. Session saved.")
			return nil
		},
	}
}

func newLoginCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Login to Landlord",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := promptRequired("Email")
			if err != nil {
				return err
			}
			password, err := promptPassword("Password")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := newClient(apiBase)
			session, err := client.Login(ctx, email, password)
			if err != nil {
				return err
			}
			if err := cl.SaveSession(cl.Session{
				AccessToken:  session.AccessToken,
				RefreshToken: session.RefreshToken,
				Email:        session.User.Email,
				UserID:       session.User.ID,
			}); err != nil {
				return err
			}
			printSuccess("Login successful.")
			return nil
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear local session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cl.ClearSession(); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func newDashCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "dash",
		Short: "Show your portfolio dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := newClient(apiBase)
			out, err := client.Dashboard(ctx, sess.AccessToken)
			if err != nil {
				return err
			}
			return renderDashboard(out)
		},
	}
}

func newClockCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "clock",
		Short: "Show the world clock",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := newClient(apiBase)
			out, err := client.Clock(ctx, sess.AccessToken)
			if err != nil {
				return err
			}
			return renderClock(out)
		},
	}
}

func newPropertiesCmd(apiBase *string) *cobra.Command {
	properties := &cobra.Command{
		Use:     "properties",
		Short:   "Property market commands",
		Aliases: []string{"props"},
	}

	properties.AddCommand(&cobra.Command{
		Use:   "list [all]",
		Short: "List properties on the market",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			all := len(args) > 0 && strings.EqualFold(strings.TrimSpace(args[0]), "all")
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := newClient(apiBase)
			out, err := client.ListProperties(ctx, sess.AccessToken, all)
			if err != nil {
				return err
			}
			return renderPropertiesList(out)
		},
	})

	properties.AddCommand(&cobra.Command{
		Use:   "show [property_id]",
		Short: "Inspect one property with its valuation history",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			id, err := int64FromArgOrPrompt(args, 0, "Property ID")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := newClient(apiBase)
			out, err := client.PropertyDetail(ctx, sess.AccessToken, id)
			if err != nil {
				return err
			}
			return renderPropertyDetail(out)
		},
	})

	return properties
}

func newInvestCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "invest [property_id]",
		Short: "Buy shares of a property (opens an escrow)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			id, err := int64FromArgOrPrompt(args, 0, "Property ID")
			if err != nil {
				return err
			}
			qty, err := promptFloat("Shares to buy", 0)
			if err != nil {
				return err
			}
			units, err := game.SharesToUnits(qty)
			if err != nil {
				return err
			}

			idem := uuid.NewString()
			path := fmt.Sprintf("/v1/properties/%d/invest", id)
			client := newClient(apiBase)
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := client.Invest(ctx, sess.AccessToken, id, units, idem)
			if err != nil {
				return queueWhenOffline(err, "POST", path, map[string]any{"units": units}, idem)
			}
			return renderInvestResult(out, qty)
		},
	}
}

func newDivestCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "divest [property_id]",
		Short: "Sell shares of a property back to the market",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			id, err := int64FromArgOrPrompt(args, 0, "Property ID")
			if err != nil {
				return err
			}
			qty, err := promptFloat("Shares to sell", 0)
			if err != nil {
				return err
			}
			units, err := game.SharesToUnits(qty)
			if err != nil {
				return err
			}

			idem := uuid.NewString()
			path := fmt.Sprintf("/v1/properties/%d/divest", id)
			client := newClient(apiBase)
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := client.Divest(ctx, sess.AccessToken, id, units, idem)
			if err != nil {
				return queueWhenOffline(err, "POST", path, map[string]any{"units": units}, idem)
			}
			return renderDivestResult(out, qty)
		},
	}
}

func newEscrowsCmd(apiBase *string) *cobra.Command {
	escrows := &cobra.Command{
		Use:   "escrows",
		Short: "Escrow commands",
	}

	escrows.AddCommand(&cobra.Command{
		Use:   "list [all]",
		Short: "List your escrows (open by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			all := len(args) > 0 && strings.EqualFold(strings.TrimSpace(args[0]), "all")
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := newClient(apiBase)
			out, err := client.Escrows(ctx, sess.AccessToken, all)
			if err != nil {
				return err
			}
			return renderEscrowsList(out)
		},
	})

	escrows.AddCommand(&cobra.Command{
		Use:   "show [escrow_id]",
		Short: "Inspect one escrow",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			id, err := int64FromArgOrPrompt(args, 0, "Escrow ID")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := newClient(apiBase)
			out, err := client.EscrowDetail(ctx, sess.AccessToken, id)
			if err != nil {
				return err
			}
			return renderEscrowDetail(out)
		},
	})

	escrows.AddCommand(&cobra.Command{
		Use:   "cancel [escrow_id]",
		Short: "Cancel an open escrow and refund the hold",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			id, err := int64FromArgOrPrompt(args, 0, "Escrow ID")
			if err != nil {
				return err
			}

			idem := uuid.NewString()
			path := fmt.Sprintf("/v1/escrows/%d/cancel", id)
			client := newClient(apiBase)
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := client.CancelEscrow(ctx, sess.AccessToken, id, idem)
			if err != nil {
				return queueWhenOffline(err, "POST", path, nil, idem)
			}
			return renderCancelResult(out)
		},
	})

	return escrows
}

func newRentsCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "rents [limit]",
		Short: "Show rent payments you received",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			limit := limitFromArgs(args)
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := newClient(apiBase)
			out, err := client.Rents(ctx, sess.AccessToken, limit)
			if err != nil {
				return err
			}
			return renderRents(out)
		},
	}
}

func newLedgerCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "ledger [limit]",
		Short: "Show your money movements",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			limit := limitFromArgs(args)
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := newClient(apiBase)
			out, err := client.Ledger(ctx, sess.AccessToken, limit)
			if err != nil {
				return err
			}
			return renderLedger(out)
		},
	}
}

func newLeaderboardCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "leaderboard",
		Short: "Net worth leaderboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := newClient(apiBase)
			out, err := client.Leaderboard(ctx, sess.AccessToken)
			if err != nil {
				return err
			}
			return renderLeaderboard(out, "Leaderboard")
		},
	}
}

func newSyncCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay commands queued while offline",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			queue, err := syncq.Load()
			if err != nil {
				return err
			}
			if len(queue) == 0 {
				printInfo("Sync queue is empty.")
				return nil
			}
			client := newClient(apiBase)
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()

			out, err := client.SyncReplay(ctx, sess.AccessToken, queue)
			if err != nil {
				if cl.Offline(err) {
					printWarn("Still offline. Queue kept.")
					return nil
				}
				return err
			}
			// The server settled every command one way or the other, so the
			// local queue is done.
			if err := syncq.Clear(); err != nil {
				return err
			}
			return renderSyncResults(out, len(queue))
		},
	}
}

func newAdminCmd(apiBase *string) *cobra.Command {
	admin := &cobra.Command{
		Use:   "admin",
		Short: "World administration (requires admin token)",
	}

	admin.AddCommand(&cobra.Command{
		Use:   "clock [pause|resume|scale]",
		Short: "Pause or resume the world, or change its time scale",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := adminToken()
			if err != nil {
				return err
			}
			var action string
			if len(args) > 0 {
				action = strings.ToLower(strings.TrimSpace(args[0]))
			} else {
				action, err = promptChoice("Action", []string{"pause", "resume", "scale"}, "scale")
				if err != nil {
					return err
				}
			}
			var scale float64
			if action == "scale" {
				scale, err = promptFloat("Game seconds per real second", 0)
				if err != nil {
					return err
				}
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := newClient(apiBase)
			out, err := client.AdminClock(ctx, token, action, scale)
			if err != nil {
				return err
			}
			return renderClock(out)
		},
	})

	admin.AddCommand(&cobra.Command{
		Use:   "replenish [min_listed]",
		Short: "Top the market back up to a minimum listing count",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := adminToken()
			if err != nil {
				return err
			}
			minListed := 0
			if len(args) > 0 {
				n, err := strconv.Atoi(strings.TrimSpace(args[0]))
				if err != nil || n <= 0 {
					return fmt.Errorf("invalid min_listed")
				}
				minListed = n
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := newClient(apiBase)
			out, err := client.AdminReplenish(ctx, token, minListed)
			if err != nil {
				return err
			}
			listed, _ := out["listed"].(float64)
			printSuccess(fmt.Sprintf("Listed %d new properties.", int(listed)))
			return nil
		},
	})

	admin.AddCommand(&cobra.Command{
		Use:   "tick",
		Short: "Run one world pass right now",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := adminToken()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()
			client := newClient(apiBase)
			out, err := client.AdminTick(ctx, token)
			if err != nil {
				return err
			}
			return renderTickReport(out)
		},
	})

	return admin
}

func adminToken() (string, error) {
	token := strings.TrimSpace(os.Getenv("LORD_ADMIN_TOKEN"))
	if token != "" {
		return token, nil
	}
	return promptPassword("Admin token")
}

// queueWhenOffline saves a write the API never saw so `lord sync` can replay
// it. Errors the API returned are surfaced, not queued.
func queueWhenOffline(err error, method, path string, body map[string]any, idem string) error {
	if err == nil {
		return nil
	}
	if !cl.Offline(err) {
		return err
	}
	var raw json.RawMessage
	if body != nil {
		raw, _ = json.Marshal(body)
	}
	if pushErr := syncq.Push(syncq.Command{
		Method:         method,
		Path:           path,
		Body:           raw,
		IdempotencyKey: idem,
	}); pushErr != nil {
		return fmt.Errorf("offline and failed to queue: %w", pushErr)
	}
	printWarn("API unreachable. Command queued; run `lord sync` when back online.")
	return nil
}

func int64FromArgOrPrompt(args []string, idx int, label string) (int64, error) {
	if len(args) > idx {
		v, err := strconv.ParseInt(strings.TrimSpace(args[idx]), 10, 64)
		if err != nil || v <= 0 {
			return 0, fmt.Errorf("invalid %s", strings.ToLower(label))
		}
		return v, nil
	}
	return promptInt64(label, 1)
}

func limitFromArgs(args []string) int {
	if len(args) == 0 {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(args[0]))
	if err != nil || n <= 0 {
		return 0
	}
	return n
}
