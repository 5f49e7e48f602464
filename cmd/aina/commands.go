package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"aina/internal/domain"
	"aina/internal/speech"
)

// withApp loads the config and opens the shared adapters for a one-shot
// command.
func withApp(fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	a, err := openApp(ctx, cfg, nil, newQuietLogger())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func profileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Inspect sender profiles in the session store",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [sender]",
		Short: "Show one sender's profile and onboarding state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				p, err := a.sessions.GetProfile(ctx, args[0])
				if err != nil {
					return err
				}
				if p == nil {
					return fmt.Errorf("no profile for %s", args[0])
				}
				return printJSON(cmd.OutOrStdout(), struct {
					*domain.SenderProfile
					State domain.OnboardingState `json:"state"`
				}{p, domain.StateOf(p)})
			})
		},
	})

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List profiles, most recently updated first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				profiles, err := a.sessions.ListProfiles(ctx, limit)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "SENDER\tSTATE\tNAME\tSPECIALTY\tORIENTATION\tUPDATED")
				for i := range profiles {
					p := &profiles[i]
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
						p.SenderID, domain.StateOf(p), p.DisplayName, p.Specialty, p.Orientation,
						p.UpdatedAt.Local().Format(time.DateTime))
				}
				return tw.Flush()
			})
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 50, "maximum profiles to show")
	cmd.AddCommand(list)

	return cmd
}

func historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [sender]",
		Short: "Show the logged conversation for a sender",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				if a.conversations == nil {
					return fmt.Errorf("conversation log is disabled (memory.enabled=false)")
				}
				if limit <= 0 {
					limit = a.cfg.Memory.HistoryMax
				}
				conv, err := a.conversations.GetConversation(ctx, args[0], limit)
				if err != nil {
					return err
				}
				if conv == nil {
					return fmt.Errorf("no conversation for %s", args[0])
				}
				out := cmd.OutOrStdout()
				if p := conv.Profile; p != nil {
					fmt.Fprintf(out, "%s: %s, %s, %s\n\n", conv.SenderID, p.DisplayName, p.Specialty, p.Orientation)
				} else {
					fmt.Fprintf(out, "%s\n\n", conv.SenderID)
				}
				for _, t := range conv.Turns {
					fmt.Fprintf(out, "[%s] %s (%s)\n> %s\n< %s\n\n",
						t.Timestamp.Local().Format(time.DateTime), t.Channel, t.Kind, t.Input, t.Response)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum turns (default memory.historyMax)")
	return cmd
}

func transcribeCmd() *cobra.Command {
	var language string
	cmd := &cobra.Command{
		Use:   "transcribe [file]",
		Short: "Transcribe an audio file with the configured speech backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			audio, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			return withApp(func(ctx context.Context, a *app) error {
				stt := a.transcriber
				if ext := filepath.Ext(args[0]); ext != "" {
					stt = speech.New(speech.Config{
						Backend:  a.speechBackend,
						Language: a.cfg.Speech.Language,
						Filename: "audio" + strings.ToLower(ext),
						Logger:   a.logger,
					})
				}
				text, ok := stt.Transcribe(ctx, audio, language)
				if !ok {
					return fmt.Errorf("could not transcribe %s: %w", args[0], domain.ErrTranscriptionUnavailable)
				}
				fmt.Fprintln(cmd.OutOrStdout(), text)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&language, "language", "l", "", "language hint (default speech.language)")
	return cmd
}

func sendCmd() *cobra.Command {
	var via string
	cmd := &cobra.Command{
		Use:   "send [to] [message]",
		Short: "Send a message through a channel (default whatsapp)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				for _, ch := range a.channels() {
					if ch.Name() != via {
						continue
					}
					if c, ok := ch.(interface{ Connect() error }); ok {
						if err := c.Connect(); err != nil {
							return err
						}
					}
					if err := ch.Deliver(ctx, args[0], args[1]); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "sent to %s via %s\n", args[0], via)
					return nil
				}
				return fmt.Errorf("channel %q is not enabled: %w", via, domain.ErrUnknownChannel)
			})
		},
	}
	cmd.Flags().StringVar(&via, "via", "whatsapp", "channel to send through (whatsapp, telegram)")
	return cmd
}
