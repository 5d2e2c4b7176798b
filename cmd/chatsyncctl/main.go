package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/session"
	"github.com/spf13/cobra"
)

var (
	sessionFlag string
	jsonFlag    bool
	timeoutFlag time.Duration
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd().ExecuteContext(ctx)
	stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "chatsyncctl",
		Short:         "Control a chatsync session daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&sessionFlag, "session", "", "session name (overrides config default)")
	root.PersistentFlags().BoolVar(&jsonFlag, "json", false, "output in JSON format")
	root.PersistentFlags().DurationVar(&timeoutFlag, "timeout", 10*time.Second, "request timeout")

	root.AddCommand(
		statusCmd(),
		sessionsCmd(),
		conversationsCmd(),
		messagesCmd(),
		openCmd(),
		olderCmd(),
		sendCmd(),
		retryCmd(),
		readCmd(),
		typingCmd(),
		createCmd(),
		deleteCmd(),
		reloadCmd(),
		watchCmd(),
	)
	return root
}

// withClient dials the session daemon and runs fn with a bounded context.
func withClient(fn func(ctx context.Context, c *api.Client) error) error {
	name, err := session.Resolve(sessionFlag)
	if err != nil {
		return err
	}
	c, err := api.Dial(session.SocketPath(name))
	if err != nil {
		return fmt.Errorf("cannot connect to daemon for session %q: %w", name, err)
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), timeoutFlag)
	defer cancel()
	return fn(ctx, c)
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show engine status",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return withClient(func(ctx context.Context, c *api.Client) error {
				snap, err := c.GetSnapshot(ctx)
				if err != nil {
					return err
				}
				if jsonFlag {
					return outputJSON(map[string]any{
						"status":        snap.Status,
						"reason":        snap.StatusReason,
						"self":          snap.Self,
						"conversations": len(snap.Conversations),
						"online":        snap.Online,
					})
				}
				fmt.Printf("Self:          %s (%s)\n", snap.Self.DisplayName, snap.Self.ID)
				fmt.Printf("Status:        %s\n", snap.Status)
				if snap.StatusReason != "" {
					fmt.Printf("Reason:        %s\n", snap.StatusReason)
				}
				fmt.Printf("Conversations: %d\n", len(snap.Conversations))
				fmt.Printf("Online:        %d\n", len(snap.Online))
				return nil
			})
		},
	}
}

func sessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List known sessions",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			names, err := session.List()
			if err != nil {
				return err
			}
			type entry struct {
				Name    string       `json:"name"`
				Path    string       `json:"path"`
				Running bool         `json:"running"`
				Holder  *lock.Holder `json:"holder,omitempty"`
			}
			entries := make([]entry, 0, len(names))
			for _, name := range names {
				e := entry{Name: name, Path: session.Dir(name)}
				h, err := lock.Inspect(session.Dir(name))
				switch {
				case err == nil:
					e.Running, e.Holder = true, h
				case !errors.Is(err, lock.ErrNotHeld):
					return err
				}
				entries = append(entries, e)
			}
			if jsonFlag {
				return outputJSON(entries)
			}
			if len(entries) == 0 {
				fmt.Println("No sessions found.")
				return nil
			}
			for _, e := range entries {
				running := "stopped"
				if e.Running {
					running = fmt.Sprintf("running, pid %d", e.Holder.PID)
				}
				fmt.Printf("%-20s %s (%s)\n", e.Name, e.Path, running)
			}
			return nil
		},
	}
}

func conversationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"ls"},
		Short:   "List conversations",
		Args:    cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return withClient(func(ctx context.Context, c *api.Client) error {
				snap, err := c.GetSnapshot(ctx)
				if err != nil {
					return err
				}
				if jsonFlag {
					return outputJSON(snap.Conversations)
				}
				for _, conv := range snap.Conversations {
					marker := " "
					if conv.Pinned {
						marker = "*"
					}
					unread := ""
					if conv.UnreadCount > 0 {
						unread = fmt.Sprintf(" [%d]", conv.UnreadCount)
					}
					typing := ""
					if names := snap.Typing[conv.ID]; len(names) > 0 {
						typing = " (typing)"
					}
					fmt.Printf("%s %-24s %-20s%s%s %s\n", marker, conv.ID, conv.DisplayName(), unread, typing, conv.LastMessageSummary)
				}
				return nil
			})
		},
	}
}

func printMessages(msgs []model.Message) error {
	if jsonFlag {
		return outputJSON(msgs)
	}
	for _, m := range msgs {
		state := ""
		if m.State != model.Confirmed {
			state = " [" + string(m.State) + "]"
		}
		fmt.Printf("%s %-12s %s%s\n", m.CreatedAt.Local().Format("2006-01-02 15:04"), m.SenderName, m.Content, state)
	}
	return nil
}

func messagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "messages <conversation-id>",
		Short: "Show a conversation's loaded messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *api.Client) error {
				msgs, err := c.ListMessages(ctx, args[0])
				if err != nil {
					return err
				}
				return printMessages(msgs)
			})
		},
	}
}

func openCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "open <conversation-id>",
		Short: "Load the latest page of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *api.Client) error {
				msgs, err := c.OpenConversation(ctx, args[0])
				if err != nil {
					return err
				}
				return printMessages(msgs)
			})
		},
	}
}

func olderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "older <conversation-id>",
		Short: "Load the previous page of history",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *api.Client) error {
				n, err := c.LoadOlder(ctx, args[0])
				if err != nil {
					return err
				}
				if jsonFlag {
					return outputJSON(map[string]int{"added": n})
				}
				fmt.Printf("Loaded %d older messages\n", n)
				return nil
			})
		},
	}
}

func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <conversation-id> <text>",
		Short: "Send a message",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *api.Client) error {
				msg, err := c.Send(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				if jsonFlag {
					return outputJSON(msg)
				}
				fmt.Printf("Queued %s (%s)\n", msg.ID, msg.State)
				return nil
			})
		},
	}
}

func retryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <conversation-id> <message-id>",
		Short: "Re-send a failed message",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *api.Client) error {
				msg, err := c.Retry(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				if jsonFlag {
					return outputJSON(msg)
				}
				fmt.Printf("Retrying %s (%s)\n", msg.ID, msg.State)
				return nil
			})
		},
	}
}

func readCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read <conversation-id>",
		Short: "Mark a conversation as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *api.Client) error {
				return c.MarkRead(ctx, args[0])
			})
		},
	}
}

func typingCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "typing <start|stop> <conversation-id>",
		Short:     "Broadcast a typing signal",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"start", "stop"},
		RunE: func(_ *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *api.Client) error {
				switch args[0] {
				case "start":
					return c.StartTyping(ctx, args[1])
				case "stop":
					return c.StopTyping(ctx, args[1])
				}
				return fmt.Errorf("unknown typing action %q", args[0])
			})
		},
	}
}

func createCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <participant-id>",
		Short: "Start a conversation with a participant",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *api.Client) error {
				conv, err := c.CreateConversation(ctx, args[0])
				if err != nil {
					return err
				}
				if jsonFlag {
					return outputJSON(conv)
				}
				fmt.Printf("Conversation %s with %s\n", conv.ID, conv.DisplayName())
				return nil
			})
		},
	}
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <conversation-id>",
		Short: "Delete a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *api.Client) error {
				return c.DeleteConversation(ctx, args[0])
			})
		},
	}
}

func reloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Reload the conversation directory",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return withClient(func(ctx context.Context, c *api.Client) error {
				return c.ReloadConversations(ctx)
			})
		},
	}
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch [kind-prefix...]",
		Short: "Stream engine events until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := session.Resolve(sessionFlag)
			if err != nil {
				return err
			}
			c, err := api.Dial(session.SocketPath(name))
			if err != nil {
				return fmt.Errorf("cannot connect to daemon for session %q: %w", name, err)
			}
			defer func() { _ = c.Close() }()

			stream, err := c.WatchEvents(cmd.Context(), args...)
			if err != nil {
				return err
			}
			for {
				env, err := stream.Recv()
				if err != nil {
					if cmd.Context().Err() != nil {
						return nil
					}
					return err
				}
				if jsonFlag {
					if err := outputJSON(env); err != nil {
						return err
					}
					continue
				}
				fmt.Printf("%s %-24s %s\n", time.UnixMilli(env.OccurredAtUnixMs).Format("15:04:05.000"), env.Kind, env.Payload)
			}
		},
	}
}

func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
