package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"bridgebot/internal/bus"
	"bridgebot/internal/store"

	"github.com/spf13/cobra"
)

// checker is implemented by adapters that can verify their token without
// starting to receive.
type checker interface {
	Name() string
	Check(ctx context.Context) (string, error)
}

type doctorReport struct {
	passed, warned, failed int
}

func (r *doctorReport) pass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
	r.passed++
}

func (r *doctorReport) fail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
	r.failed++
}

func (r *doctorReport) warn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
	r.warned++
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your bridge installation",
		Long: `Verifies that the configuration, database, adapter tokens and HTTP port
are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("Bridge bot doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			var r doctorReport

			if _, err := os.Stat(cfgPath); err != nil {
				r.warn("Config file", fmt.Sprintf("not found at %s, using environment", cfgPath))
			} else {
				r.pass("Config file", cfgPath)
			}

			cfg, err := loadConfig()
			if err != nil {
				r.fail("Config validation", err.Error())
				fmt.Printf("\nRun 'bridgebot init' to create a default configuration.\n")
				return fmt.Errorf("config invalid")
			}
			r.pass("Config validation", "valid")

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			if st, err := store.NewSQLiteStore(cfg.Storage.DBPath, logger); err != nil {
				r.fail("Database", err.Error())
			} else {
				schema, verr := st.SchemaVersion()
				if perr := st.Ping(ctx); perr != nil || verr != nil {
					r.fail("Database", fmt.Sprintf("ping: %v, schema: %v", perr, verr))
				} else {
					r.pass("Database", fmt.Sprintf("%s (schema v%d)", cfg.Storage.DBPath, schema))
				}
				st.Close()
			}

			adapters := buildAdapters(cfg, bus.New(1, logger), logger)
			if len(adapters) == 0 {
				r.fail("Adapters", "neither telegram nor vk is enabled")
			}
			for _, a := range adapters {
				c, ok := a.(checker)
				if !ok {
					continue
				}
				if who, err := c.Check(ctx); err != nil {
					r.fail("Adapter: "+c.Name(), err.Error())
				} else {
					r.pass("Adapter: "+c.Name(), who)
				}
			}

			if cfg.HTTP.Enabled {
				if err := checkPort(cfg.HTTP.Addr()); err != nil {
					r.warn("HTTP port", fmt.Sprintf("%s may be in use: %v", cfg.HTTP.Addr(), err))
				} else {
					r.pass("HTTP port", cfg.HTTP.Addr()+" available")
				}
			}

			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					r.warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
				} else {
					r.pass("Log file", cfg.General.LogFile)
				}
			}

			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
			if r.failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running the bridge.\n")
				return fmt.Errorf("%d check(s) failed", r.failed)
			}
			if r.warned > 0 {
				fmt.Printf("\nThe bridge should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! Run 'bridgebot run' to start.\n")
			}
			return nil
		},
	}
}

func checkPort(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}
