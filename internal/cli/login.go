package cli

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/phqovo/slimming/internal/errors"
	"github.com/phqovo/slimming/internal/models"
)

// loginCmd binds a platform account to a local user.
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Bind a platform account to a local user",
	Long: `Perform the platform login handshake and store the resulting session
as a verified credential for the given user.

If the platform requires secondary verification, the command prints the
verification URL. Complete the verification in a browser, then run the
command again.

Example:
  slimming login --user 42 --username user@example.com --password secret`,
	RunE: runLogin,
}

var loginFlags struct {
	UserID     int64
	DataSource string
	Username   string
	Password   string
}

func init() {
	loginCmd.Flags().Int64Var(&loginFlags.UserID, "user", 0, "User ID (required)")
	loginCmd.Flags().StringVar(&loginFlags.DataSource, "source", "mi_health", "Data source")
	loginCmd.Flags().StringVar(&loginFlags.Username, "username", "", "Platform account username (required)")
	loginCmd.Flags().StringVar(&loginFlags.Password, "password", "", "Platform account password (required)")

	RootCmd.AddCommand(loginCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	if loginFlags.UserID <= 0 {
		return fmt.Errorf("--user is required")
	}
	if loginFlags.Username == "" || loginFlags.Password == "" {
		return fmt.Errorf("--username and --password are required")
	}

	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.store.Close()

	session, err := rt.auth.Login(context.Background(), loginFlags.Username, loginFlags.Password)
	if err != nil {
		var secondary *errors.ErrSecondaryVerification
		if stderrors.As(err, &secondary) {
			fmt.Println("Secondary verification required.")
			fmt.Println("Open the following URL, complete the verification, then retry:")
			fmt.Println("  " + secondary.NotificationURL)
			return nil
		}
		return fmt.Errorf("login failed: %w", err)
	}

	cred := &models.Credential{
		UserID:      loginFlags.UserID,
		DataSource:  loginFlags.DataSource,
		Token:       session.Token,
		SecurityKey: session.Security,
		Cookies:     session.Cookies,
		Verified:    true,
		UpdatedAt:   time.Now().UTC(),
	}
	if err := rt.store.PutCredential(cred); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}

	fmt.Printf("Bound platform user %d to local user %d (%s)\n",
		session.UserID, loginFlags.UserID, loginFlags.DataSource)
	return nil
}
