package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/dmchat/internal/config"
	"github.com/zhouzirui/dmchat/internal/tui"
)

const sendEchoTimeout = 5 * time.Second

func main() {
	if err := execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "dmchat: %v\n", err)
		os.Exit(1)
	}
}

func execute() error {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newRootCmd().ExecuteContext(ctx)
}

type rootOptions struct {
	configPath string
	logFile    string
	theme      string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "dmchat",
		Short:         "dmchat is a terminal client for one-to-one direct messages",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to config file")
	cmd.PersistentFlags().StringVar(&opts.logFile, "log-file", "", "Append logs to this file instead of stderr")

	tuiCmd := newTUICmd(opts)
	cmd.AddCommand(tuiCmd, newRecentCmd(opts), newHistoryCmd(opts), newSendCmd(opts), newWhoamiCmd(opts))
	cmd.RunE = tuiCmd.RunE
	cmd.Args = tuiCmd.Args
	cmd.Flags().AddFlagSet(tuiCmd.Flags())
	return cmd
}

func (o *rootOptions) load() (config.Client, error) {
	cfg, err := config.LoadClient(config.LoadOptions{Path: strings.TrimSpace(o.configPath)})
	if err != nil {
		return config.Client{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func (o *rootOptions) logOutput(interactive bool) (io.Writer, func(), error) {
	if o.logFile != "" {
		f, err := os.OpenFile(o.logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		return f, func() { _ = f.Close() }, nil
	}
	if interactive {
		// The terminal belongs to the UI.
		return io.Discard, func() {}, nil
	}
	return os.Stderr, func() {}, nil
}

func newTUICmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tui [email]",
		Short: "Open the interactive client, optionally with a peer",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			out, closeLog, err := opts.logOutput(true)
			if err != nil {
				return err
			}
			defer closeLog()

			bridge := tui.NewBridge()
			s, err := openSession(cmd.Context(), cfg, out, bridge)
			if err != nil {
				return err
			}
			defer s.engine.Disconnect()

			var peer string
			if len(args) == 1 {
				peer = args[0]
			}
			app := tui.NewApp(tui.AppConfig{Engine: s.engine, ThemeName: opts.theme, Peer: peer})
			program := tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(cmd.Context()))
			bridge.SetProgram(program)

			if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
				return fmt.Errorf("run tui: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.theme, "theme", "dark", "Color theme (dark or light)")
	return cmd
}

func newRecentCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "recent",
		Short: "List recent conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, closeLog, err := opts.batchSession(cmd.Context())
			if err != nil {
				return err
			}
			defer closeLog()

			if err := s.engine.RefreshRecent(cmd.Context()); err != nil {
				return fmt.Errorf("load recent: %w", err)
			}

			v := s.engine.View()
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PEER\tID\tLAST MESSAGE")
			for _, summary := range v.Recent {
				last := "-"
				if summary.LastTimestamp != nil {
					last = summary.LastTimestamp.Local().Format(time.DateTime)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", summary.DisplayName(), summary.OtherID, last)
			}
			return tw.Flush()
		},
	}
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history <email>",
		Short: "Print the conversation with a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, closeLog, err := opts.batchSession(cmd.Context())
			if err != nil {
				return err
			}
			defer closeLog()

			if err := s.engine.OpenByEmail(cmd.Context(), args[0]); err != nil {
				return err
			}
			v := s.engine.View()
			for _, msg := range v.Messages {
				who := v.OpenPeer.Label
				if msg.SenderID == v.Me {
					who = "you"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s: %s\n", msg.Timestamp.Local().Format(time.DateTime), who, msg.Body)
			}
			return nil
		},
	}
}

func newSendCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "send <email> <message>",
		Short: "Send one message and wait for the relay to confirm it",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, closeLog, err := opts.batchSession(cmd.Context())
			if err != nil {
				return err
			}
			defer closeLog()
			defer s.engine.Disconnect()

			before, err := openAndCount(cmd.Context(), s, args[0])
			if err != nil {
				return err
			}

			s.engine.SetDraft(strings.Join(args[1:], " "))
			if err := s.engine.Send(); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), sendEchoTimeout)
			defer cancel()
			if err := s.waitForMessages(ctx, before+1); err != nil {
				return fmt.Errorf("message sent but not confirmed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "sent")
			return nil
		},
	}
}

func openAndCount(ctx context.Context, s *session, email string) (int, error) {
	if err := s.engine.ResolveAndConnect(ctx, email); err != nil {
		return 0, err
	}
	return len(s.engine.View().Messages), nil
}

func newWhoamiCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, closeLog, err := opts.batchSession(cmd.Context())
			if err != nil {
				return err
			}
			defer closeLog()

			uid, _ := s.identity.UserID()
			label := s.me.Label
			if label == "" {
				label = "-"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", uid, label)
			return nil
		},
	}
}

func (o *rootOptions) batchSession(ctx context.Context) (*session, func(), error) {
	cfg, err := o.load()
	if err != nil {
		return nil, nil, err
	}
	out, closeLog, err := o.logOutput(false)
	if err != nil {
		return nil, nil, err
	}
	s, err := openSession(ctx, cfg, out, nil)
	if err != nil {
		closeLog()
		return nil, nil, err
	}
	return s, closeLog, nil
}
