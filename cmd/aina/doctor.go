package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"aina/internal/config"
	"aina/internal/memory"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check configuration, storage and backend health",
		Long: `Verifies that the configuration loads, the database and session store
open, the chat backend answers and the configured channels have their
credentials. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cfgPath := resolveConfigPath()
			fmt.Fprintf(out, "Aina status v%s\n", version)
			fmt.Fprintf(out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			var r checkReport
			r.out = out

			if _, err := os.Stat(cfgPath); err != nil {
				r.fail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Fprintf(out, "\nRun 'aina init' to create a default configuration.\n")
				return r.result()
			}
			r.pass("Config file", cfgPath)

			cfg, err := loadConfig()
			if err != nil {
				r.fail("Config validation", err.Error())
				return r.result()
			}
			r.pass("Config validation", "valid")

			if cfg.Memory.Enabled || cfg.Session.Backend == "sqlite" {
				if err := checkDatabase(cfg.Memory.DBPath); err != nil {
					r.fail("Database", err.Error())
				} else {
					r.pass("Database", cfg.Memory.DBPath)
				}
			} else {
				r.warn("Database", "conversation log disabled")
			}

			quiet := newQuietLogger()
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			a, err := openApp(ctx, cfg, nil, quiet)
			if err != nil {
				r.fail("Session store", err.Error())
				return r.result()
			}
			defer a.Close()
			if _, err := a.sessions.ListProfiles(ctx, 1); err != nil {
				r.fail("Session store", err.Error())
			} else {
				r.pass("Session store", cfg.Session.Backend)
			}

			if err := a.responder.Healthy(ctx); err != nil {
				r.fail("Chat backend", err.Error())
			} else {
				r.pass("Chat backend", a.responder.BackendName())
			}

			if a.speechName == "" {
				r.fail("Speech backend", "not configured")
			} else if cfg.Speech.APIKey == "" {
				r.warn("Speech backend", a.speechName+" has no API key")
			} else {
				r.pass("Speech backend", a.speechName)
			}

			if a.whatsapp != nil {
				st := a.whatsapp.Status(ctx)
				if st.Connected {
					r.pass("WhatsApp", fmt.Sprintf("%s (%s, quality %s)", st.PhoneNumber, st.VerifiedName, st.QualityRating))
				} else {
					r.fail("WhatsApp", st.Error)
				}
			}
			if a.telegram != nil {
				if err := a.telegram.Connect(); err != nil {
					r.fail("Telegram", err.Error())
				} else {
					r.pass("Telegram", "bot authenticated")
				}
			}

			if err := checkPort(cfg.Server.Host, cfg.Server.Port); err != nil {
				r.warn("HTTP port", fmt.Sprintf("port %d may be in use: %v", cfg.Server.Port, err))
			} else {
				r.pass("HTTP port", fmt.Sprintf(":%d available", cfg.Server.Port))
			}

			return r.result()
		},
	}
}

type checkReport struct {
	out                    io.Writer
	passed, warned, failed int
}

func (r *checkReport) pass(check, detail string) {
	r.passed++
	fmt.Fprintf(r.out, "  [PASS] %-20s %s\n", check, detail)
}

func (r *checkReport) fail(check, detail string) {
	r.failed++
	fmt.Fprintf(r.out, "  [FAIL] %-20s %s\n", check, detail)
}

func (r *checkReport) warn(check, detail string) {
	r.warned++
	fmt.Fprintf(r.out, "  [WARN] %-20s %s\n", check, detail)
}

func (r *checkReport) result() error {
	fmt.Fprintf(r.out, "\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Fprintf(r.out, "Results: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
	if r.failed > 0 {
		return fmt.Errorf("%d check(s) failed", r.failed)
	}
	return nil
}

// checkDatabase opens the database, which also applies migrations, and
// performs a write.
func checkDatabase(dbPath string) error {
	db, err := memory.Open(config.ExpandPath(dbPath), newQuietLogger())
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _status_probe (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _status_probe")
	return nil
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}
