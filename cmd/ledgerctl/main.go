package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmerrifield20/stockledger/internal/identity"
	"github.com/jmerrifield20/stockledger/pkg/client"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL string
	cfgFile   string
	output    string
	timeout   time.Duration
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ledgerctl",
	Short: "Inspect and verify a stockledger server",
	Long: `ledgerctl reads the hash-chained ledger of a stockledger server.

It can show the chain length and root, fetch entries by sequence or hash,
list ranges, ask the server to verify the chain, and mint development
user tokens for the inventory API.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.stockledger")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("ledgerctl")
		viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8080"
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.stockledger/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "ledger server URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "text", "output format: text or json")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")

	rootCmd.AddCommand(statusCmd, getCmd, rangeCmd, verifyCmd, tokenCmd, versionCmd)
}

func newClient() (*client.Client, error) {
	var opts []client.Option
	if tok := viper.GetString("token"); tok != "" {
		opts = append(opts, client.WithBearerToken(tok))
	}
	return client.New(serverURL, opts...)
}

func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ── status ───────────────────────────────────────────────────────────────────

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the chain length and root hash",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		ov, err := c.Overview(ctx)
		if err != nil {
			return err
		}
		if output == "json" {
			return printJSON(ov)
		}
		fmt.Printf("Server:  %s\n", serverURL)
		fmt.Printf("Entries: %d\n", ov.Entries)
		fmt.Printf("Root:    %s\n", ov.Root)
		return nil
	},
}

// ── get ──────────────────────────────────────────────────────────────────────

var getCmd = &cobra.Command{
	Use:   "get <sequence|hash>",
	Short: "Fetch one entry by sequence number or entry hash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		e, err := c.GetEntry(ctx, args[0])
		if err != nil {
			return err
		}
		if output == "json" {
			return printJSON(e)
		}
		fmt.Printf("Sequence:      %d\n", e.Sequence)
		fmt.Printf("Action:        %s\n", e.Action)
		fmt.Printf("Signer:        %s\n", e.SignerID)
		fmt.Printf("Timestamp:     %s\n", e.Timestamp.Format(time.RFC3339Nano))
		fmt.Printf("Hash:          %s\n", e.Hash)
		fmt.Printf("Previous hash: %s\n", e.PreviousHash)
		fmt.Printf("Payload hash:  %s\n", e.PayloadHash)
		fmt.Printf("Payload:       %s\n", e.Payload)
		return nil
	},
}

// ── range ────────────────────────────────────────────────────────────────────

var (
	rangeFrom int64
	rangeTo   int64
)

var rangeCmd = &cobra.Command{
	Use:   "range",
	Short: "List entries in sequence order",
	Long: `List entries from --from to --to inclusive. Omit --to to list through
the current tail.

  ledgerctl range --from 100 --to 199`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		entries, err := c.Range(ctx, rangeFrom, rangeTo)
		if err != nil {
			return err
		}
		if output == "json" {
			return printJSON(entries)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SEQ\tACTION\tSIGNER\tTIMESTAMP\tHASH")
		for _, e := range entries {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
				e.Sequence, e.Action, e.SignerID, e.Timestamp.Format(time.RFC3339), shortHash(e.Hash))
		}
		return w.Flush()
	},
}

func init() {
	rangeCmd.Flags().Int64Var(&rangeFrom, "from", 0, "first sequence number")
	rangeCmd.Flags().Int64Var(&rangeTo, "to", client.ToTail, "last sequence number (default: tail)")
}

func shortHash(h string) string {
	if len(h) <= 12 {
		return h
	}
	return h[:12]
}

// ── verify ───────────────────────────────────────────────────────────────────

var (
	verifyFrom  int64
	verifyTo    int64
	verifyEntry string
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify chain integrity (or one entry with --entry)",
	Long: `Ask the server to recompute hashes and links over a range and report the
first divergence. Exits non-zero when the chain is invalid.

  ledgerctl verify
  ledgerctl verify --from 500
  ledgerctl verify --entry 3f2a...`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		if verifyEntry != "" {
			ok, err := c.VerifyEntry(ctx, verifyEntry)
			if err != nil {
				return err
			}
			if output == "json" {
				return printJSON(map[string]any{"entry": verifyEntry, "valid": ok})
			}
			if !ok {
				return fmt.Errorf("entry %s: hash mismatch", verifyEntry)
			}
			fmt.Printf("✓ entry %s is intact\n", verifyEntry)
			return nil
		}

		res, err := c.Verify(ctx, verifyFrom, verifyTo)
		if err != nil {
			return err
		}
		if output == "json" {
			if err := printJSON(res); err != nil {
				return err
			}
		} else if res.Valid {
			fmt.Printf("✓ chain valid (%d entries checked)\n", res.Checked)
		}
		if !res.Valid {
			return fmt.Errorf("chain invalid at sequence %d: %s (%d entries checked)", res.AtSequence, res.Reason, res.Checked)
		}
		return nil
	},
}

func init() {
	verifyCmd.Flags().Int64Var(&verifyFrom, "from", 0, "first sequence number")
	verifyCmd.Flags().Int64Var(&verifyTo, "to", client.ToTail, "last sequence number (default: tail)")
	verifyCmd.Flags().StringVar(&verifyEntry, "entry", "", "verify a single entry by sequence or hash")
}

// ── token ────────────────────────────────────────────────────────────────────

var (
	tokenUser   string
	tokenEmail  string
	tokenRole   string
	tokenTTL    time.Duration
	tokenIssuer string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a user token signed with the server's JWT secret",
	Long: `Mint an HS256 user token for the inventory API. The secret is read from
auth.jwt_secret in the config file or LEDGERCTL_AUTH_JWT_SECRET.

  export LEDGERCTL_TOKEN=$(ledgerctl token --email alice@example.com)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := viper.GetString("auth.jwt_secret")
		if secret == "" {
			return fmt.Errorf("auth.jwt_secret is not configured")
		}
		issuer, err := identity.NewUserTokenIssuer([]byte(secret), tokenIssuer, tokenTTL)
		if err != nil {
			return err
		}
		userID := tokenUser
		if userID == "" {
			userID = tokenEmail
		}
		if userID == "" {
			return fmt.Errorf("one of --user or --email is required")
		}
		tok, err := issuer.Issue(userID, tokenEmail, tokenRole)
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "user ID (defaults to --email)")
	tokenCmd.Flags().StringVar(&tokenEmail, "email", "", "email recorded as the ledger signer")
	tokenCmd.Flags().StringVar(&tokenRole, "role", "", "optional role claim")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	tokenCmd.Flags().StringVar(&tokenIssuer, "issuer", "stockledger", "iss claim; must match the server's server.issuer_url")
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the ledgerctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ledgerctl %s\n", version)
	},
}
