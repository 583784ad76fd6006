package main

import (
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/courierlabs/pushgate/pkg/security"
	"github.com/courierlabs/pushgate/pkg/storage"
	"github.com/courierlabs/pushgate/pkg/types"
)

// openStore opens the database named by --db or DATABASE_URL. The gateway
// must be stopped; bolt takes an exclusive file lock.
func openStore(cmd *cobra.Command) (storage.Store, error) {
	path, _ := cmd.Flags().GetString("db")
	if path == "" {
		path = strings.TrimPrefix(os.Getenv("DATABASE_URL"), "file:")
	}
	if path == "" {
		return nil, fmt.Errorf("--db or DATABASE_URL is required")
	}
	return storage.NewBoltStore(path)
}

var appsCmd = &cobra.Command{
	Use:   "apps",
	Short: "Manage registered apps",
}

var appsCreateCmd = &cobra.Command{
	Use:   "create APP_ID",
	Short: "Register a new app",
	Long: `Register a new app. The app id must look like a bundle id
(letters, digits, dots, dashes, underscores, at least one dot).
The generated API secret is printed once.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		name, _ := cmd.Flags().GetString("name")
		app := &types.App{ID: args[0], Name: name, Enabled: true}
		if err := store.CreateApp(app); err != nil {
			return fmt.Errorf("failed to create app: %v", err)
		}

		fmt.Printf("✓ Created app '%s'\n", app.ID)
		fmt.Printf("  API secret: %s (shown once)\n", app.APISecret)
		return nil
	},
}

var appsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List apps",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		apps, err := store.ListApps()
		if err != nil {
			return err
		}
		if len(apps) == 0 {
			fmt.Println("No apps registered.")
			return nil
		}
		for _, app := range apps {
			state := "enabled"
			if !app.Enabled {
				state = "disabled"
			}
			fmt.Printf("%-40s %-10s %s\n", app.ID, state, app.Name)
		}
		return nil
	},
}

var appsShowCmd = &cobra.Command{
	Use:   "show APP_ID",
	Short: "Show an app and its configured platforms",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		app, err := store.GetApp(args[0])
		if err != nil {
			return fmt.Errorf("failed to load app: %v", err)
		}
		cfg, _ := store.GetAppConfig(args[0])

		fmt.Printf("App:     %s\n", app.ID)
		fmt.Printf("Name:    %s\n", app.Name)
		fmt.Printf("Enabled: %v\n", app.Enabled)
		fmt.Printf("Created: %s\n", app.CreatedAt.Format("2006-01-02 15:04:05 MST"))
		if cfg != nil && cfg.IOS != nil {
			fmt.Printf("iOS:     bundle %s, team %s, key %s\n", cfg.IOS.BundleID, cfg.IOS.TeamID, cfg.IOS.KeyID)
		} else {
			fmt.Println("iOS:     not configured")
		}
		if cfg != nil && cfg.Android != nil {
			fmt.Println("Android: configured")
		} else {
			fmt.Println("Android: not configured")
		}
		return nil
	},
}

func setEnabled(cmd *cobra.Command, id string, enabled bool) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.UpdateApp(id, nil, &enabled); err != nil {
		return fmt.Errorf("failed to update app: %v", err)
	}
	state := "enabled"
	if !enabled {
		state = "disabled"
	}
	fmt.Printf("✓ App '%s' %s\n", id, state)
	return nil
}

var appsEnableCmd = &cobra.Command{
	Use:   "enable APP_ID",
	Short: "Enable an app",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setEnabled(cmd, args[0], true)
	},
}

var appsDisableCmd = &cobra.Command{
	Use:   "disable APP_ID",
	Short: "Disable an app without deleting its credentials",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setEnabled(cmd, args[0], false)
	},
}

var appsRotateCmd = &cobra.Command{
	Use:   "rotate-secret APP_ID",
	Short: "Replace the app's API secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		secret, err := store.RotateSecret(args[0])
		if err != nil {
			return fmt.Errorf("failed to rotate secret: %v", err)
		}
		fmt.Printf("✓ Rotated secret for '%s'\n", args[0])
		fmt.Printf("  API secret: %s (shown once)\n", secret)
		return nil
	},
}

var appsDeleteCmd = &cobra.Command{
	Use:   "delete APP_ID",
	Short: "Delete an app and its platform credentials",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.DeleteApp(args[0]); err != nil {
			return fmt.Errorf("failed to delete app: %v", err)
		}
		fmt.Printf("✓ Deleted app '%s'\n", args[0])
		return nil
	},
}

var appsSetIOSCmd = &cobra.Command{
	Use:   "set-ios APP_ID",
	Short: "Set the app's APNs credential",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		bundleID, _ := cmd.Flags().GetString("bundle-id")
		teamID, _ := cmd.Flags().GetString("team-id")
		keyID, _ := cmd.Flags().GetString("key-id")
		keyFile, _ := cmd.Flags().GetString("key-file")
		production, _ := cmd.Flags().GetBool("production")

		key, err := os.ReadFile(keyFile)
		if err != nil {
			return fmt.Errorf("failed to read key file: %v", err)
		}

		cfg := &types.IOSConfig{
			AppID:      args[0],
			BundleID:   bundleID,
			TeamID:     teamID,
			KeyID:      keyID,
			PrivateKey: string(key),
			Production: production,
		}
		if err := store.UpsertIOSConfig(cfg); err != nil {
			return fmt.Errorf("failed to store iOS config: %v", err)
		}
		fmt.Printf("✓ Stored APNs credential for '%s'\n", args[0])
		return nil
	},
}

var appsSetAndroidCmd = &cobra.Command{
	Use:   "set-android APP_ID",
	Short: "Set the app's FCM credential",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		accountFile, _ := cmd.Flags().GetString("service-account-file")
		account, err := os.ReadFile(accountFile)
		if err != nil {
			return fmt.Errorf("failed to read service account file: %v", err)
		}

		cfg := &types.AndroidConfig{
			AppID:          args[0],
			ServiceAccount: string(account),
		}
		if err := store.UpsertAndroidConfig(cfg); err != nil {
			return fmt.Errorf("failed to store Android config: %v", err)
		}
		fmt.Printf("✓ Stored FCM credential for '%s'\n", args[0])
		return nil
	},
}

var appsDeleteIOSCmd = &cobra.Command{
	Use:   "delete-ios APP_ID",
	Short: "Remove the app's APNs credential",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.DeleteIOSConfig(args[0]); err != nil {
			return fmt.Errorf("failed to delete iOS config: %v", err)
		}
		fmt.Printf("✓ Removed APNs credential for '%s'\n", args[0])
		return nil
	},
}

var appsDeleteAndroidCmd = &cobra.Command{
	Use:   "delete-android APP_ID",
	Short: "Remove the app's FCM credential",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.DeleteAndroidConfig(args[0]); err != nil {
			return fmt.Errorf("failed to delete Android config: %v", err)
		}
		fmt.Printf("✓ Removed FCM credential for '%s'\n", args[0])
		return nil
	},
}

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Manage admin logins",
}

var adminPasswdCmd = &cobra.Command{
	Use:   "passwd USERNAME",
	Short: "Change an admin password",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		fmt.Print("New password: ")
		password, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("failed to read password: %v", err)
		}
		if len(password) < 8 {
			return fmt.Errorf("password must be at least 8 characters")
		}

		hash, err := security.HashPassword(string(password))
		if err != nil {
			return err
		}
		if err := store.UpdateAdminPassword(args[0], hash); err != nil {
			return fmt.Errorf("failed to update password: %v", err)
		}
		fmt.Printf("✓ Updated password for '%s'\n", args[0])
		return nil
	},
}

func init() {
	appsCmd.AddCommand(appsCreateCmd)
	appsCmd.AddCommand(appsListCmd)
	appsCmd.AddCommand(appsShowCmd)
	appsCmd.AddCommand(appsEnableCmd)
	appsCmd.AddCommand(appsDisableCmd)
	appsCmd.AddCommand(appsRotateCmd)
	appsCmd.AddCommand(appsDeleteCmd)
	appsCmd.AddCommand(appsSetIOSCmd)
	appsCmd.AddCommand(appsSetAndroidCmd)
	appsCmd.AddCommand(appsDeleteIOSCmd)
	appsCmd.AddCommand(appsDeleteAndroidCmd)

	adminCmd.AddCommand(adminPasswdCmd)

	appsCmd.PersistentFlags().String("db", "", "Database file (defaults to DATABASE_URL)")
	adminCmd.PersistentFlags().String("db", "", "Database file (defaults to DATABASE_URL)")

	appsCreateCmd.Flags().String("name", "", "Display name")

	appsSetIOSCmd.Flags().String("bundle-id", "", "APNs topic bundle id")
	appsSetIOSCmd.Flags().String("team-id", "", "Apple developer team id")
	appsSetIOSCmd.Flags().String("key-id", "", "APNs auth key id")
	appsSetIOSCmd.Flags().String("key-file", "", "Path to the .p8 auth key")
	appsSetIOSCmd.Flags().Bool("production", false, "Use the production APNs host")
	appsSetIOSCmd.MarkFlagRequired("bundle-id")
	appsSetIOSCmd.MarkFlagRequired("team-id")
	appsSetIOSCmd.MarkFlagRequired("key-id")
	appsSetIOSCmd.MarkFlagRequired("key-file")

	appsSetAndroidCmd.Flags().String("service-account-file", "", "Path to the service account JSON")
	appsSetAndroidCmd.MarkFlagRequired("service-account-file")
}
