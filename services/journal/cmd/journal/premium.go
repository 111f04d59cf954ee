package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"mentalia/services/journal/internal/app"
	"mentalia/services/journal/internal/checkoutclient"
)

var errCheckoutDisabled = errors.New("checkoutServiceURL is not configured")

func init() {
	premiumCmd := &cobra.Command{Use: "premium", Short: "Subscription status and checkout"}

	var email string
	var refresh bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show premium status",
		RunE: withEnv(func(ctx context.Context, env *journalEnv, cmd *cobra.Command, _ []string) error {
			status, err := env.app.PremiumStatus(ctx, email, refresh)
			if err != nil {
				return err
			}
			status.Token = ""
			if jsonFlag {
				return printJSON(cmd.OutOrStdout(), status)
			}
			renderPremium(cmd.OutOrStdout(), status)
			return nil
		}),
	}
	statusCmd.Flags().StringVarP(&email, "email", "e", "", "Subscriber email (default: last used)")
	statusCmd.Flags().BoolVar(&refresh, "refresh", false, "Ask the checkout service even if a valid token is cached")
	premiumCmd.AddCommand(statusCmd)

	var (
		priceID, userID, userName string
		trialDays                 int
	)
	checkoutCmd := &cobra.Command{
		Use:   "checkout",
		Short: "Start a subscription checkout and print its URL",
		RunE: withEnv(func(ctx context.Context, env *journalEnv, cmd *cobra.Command, _ []string) error {
			if env.checkout == nil {
				return errCheckoutDisabled
			}
			if email == "" {
				stored, err := env.app.Setting(ctx, app.SettingPremiumEmail, "")
				if err != nil {
					return err
				}
				email = stored
			}
			if userID == "" {
				userID = uuid.NewString()
			}
			session, err := env.checkout.CreateCheckout(ctx, checkoutclient.CheckoutRequest{
				PriceID:   priceID,
				UserID:    userID,
				UserEmail: email,
				UserName:  userName,
				Trial:     trialDays > 0,
				TrialDays: trialDays,
			})
			if err != nil {
				return err
			}
			if err := env.app.SaveSetting(ctx, app.SettingPremiumEmail, email); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), session.URL)
			return nil
		}),
	}
	checkoutCmd.Flags().StringVarP(&email, "email", "e", "", "Subscriber email")
	checkoutCmd.Flags().StringVar(&priceID, "price", "", "Stripe price id (required)")
	checkoutCmd.Flags().StringVar(&userID, "user", "", "User id (default: random)")
	checkoutCmd.Flags().StringVar(&userName, "name", "", "Display name")
	checkoutCmd.Flags().IntVar(&trialDays, "trial-days", 0, "Free trial length in days")
	_ = checkoutCmd.MarkFlagRequired("price")
	premiumCmd.AddCommand(checkoutCmd)

	portalCmd := &cobra.Command{
		Use:   "portal",
		Short: "Print a billing portal URL",
		RunE: withEnv(func(ctx context.Context, env *journalEnv, cmd *cobra.Command, _ []string) error {
			if env.checkout == nil {
				return errCheckoutDisabled
			}
			if email == "" {
				stored, err := env.app.Setting(ctx, app.SettingPremiumEmail, "")
				if err != nil {
					return err
				}
				email = stored
			}
			url, err := env.checkout.CreatePortalSession(ctx, email)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), url)
			return nil
		}),
	}
	portalCmd.Flags().StringVarP(&email, "email", "e", "", "Subscriber email (default: last used)")
	premiumCmd.AddCommand(portalCmd)

	rootCmd.AddCommand(premiumCmd)
}
