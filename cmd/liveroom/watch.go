package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"liveroom/internal/engine"
	"liveroom/internal/remote"
	"liveroom/pkg/interfaces"
	"liveroom/pkg/types"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Server string
	Room   string
	User   string
	Name   string
	Role   string
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Join a room from the terminal",
		Long: `Join a room as a participant, follow the queue and chat, and act from stdin.

Commands:
  /hand          raise your hand
  /end           end your own request (teachers: end the current speaker)
  /accept <n|id> accept the n-th waiting participant (teachers)
  /clear         lower all hands (teachers)
  /hide, /show   simulate the page going to the background and back
  /quit          leave
  ?text          ask a question
  text           send a chat message

Example:
  liveroom watch --server http://localhost:8080 --room cs101 --user s1 --name Ada`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.Server, "server", "http://localhost:8080", "liveroom server base URL")
	cmd.Flags().StringVar(&opts.Room, "room", "", "room to join (required)")
	cmd.Flags().StringVar(&opts.User, "user", "", "your user id (required)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "display name (defaults to the user id)")
	cmd.Flags().StringVar(&opts.Role, "role", string(types.RoleStudent), "student|teacher|admin")
	_ = cmd.MarkFlagRequired("room")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func (o *WatchOptions) user() (*types.User, error) {
	role := types.Role(o.Role)
	if !types.IsValidRole(role) {
		return nil, types.ErrInvalidRole
	}
	if !types.IsValidUserID(o.User) {
		return nil, types.ErrInvalidUserID
	}
	name := o.Name
	if name == "" {
		name = o.User
	}
	return &types.User{ID: o.User, DisplayName: name, Role: role}, nil
}

func runWatch(parent context.Context, opts *WatchOptions, in io.Reader, out io.Writer) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, log, err := opts.load()
	if err != nil {
		return err
	}
	defer log.Sync()

	user, err := opts.user()
	if err != nil {
		return err
	}
	client, err := remote.New(opts.Server, opts.Room, user.ID, remote.WithLogger(log))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng := engine.New(client, interfaces.StaticIdentity(user),
		engine.WithConfig(cfg.EngineSettings()),
		engine.WithLogger(log),
	)
	r := newRenderer(out, user)
	unsubscribe := eng.Subscribe(r.render)
	defer unsubscribe()

	if err := eng.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = eng.Stop() }()

	// change-feed events only trigger an early poll
	go func() {
		err := client.Watch(ctx, func(types.ChangeEvent) { eng.Refresh() })
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("change feed ended", "error", err)
		}
	}()

	fmt.Fprintf(out, "joined %s as %s (%s)\n", opts.Room, user.DisplayName, user.Role)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			err := dispatch(ctx, eng, line)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				fmt.Fprintln(out, "!", err)
			}
		}
	}
}

// dispatch runs one line of input against the engine.
func dispatch(ctx context.Context, eng *engine.Engine, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		if q, ok := strings.CutPrefix(line, "?"); ok {
			_, err := eng.SendMessage(ctx, q, true)
			return err
		}
		_, err := eng.SendMessage(ctx, line, false)
		return err
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/hand":
		return eng.RaiseHand(ctx)
	case "/end":
		return eng.EndCall(ctx)
	case "/accept":
		id, err := resolveQueueRef(eng.Snapshot(), arg)
		if err != nil {
			return err
		}
		return eng.AcceptStudent(ctx, id)
	case "/clear":
		return eng.LowerAllHands(ctx)
	case "/hide":
		eng.SetVisible(false)
		return nil
	case "/show":
		eng.SetVisible(true)
		return nil
	case "/quit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %s", cmd)
	}
}

// resolveQueueRef turns "2" into the id of the second waiting record; any
// other argument is taken as an interaction id.
func resolveQueueRef(snap *types.Snapshot, arg string) (string, error) {
	if arg == "" {
		return "", errors.New("usage: /accept <position|id>")
	}
	if n, err := strconv.Atoi(arg); err == nil {
		waiting := waitingRecords(snap)
		if n < 1 || n > len(waiting) {
			return "", fmt.Errorf("no waiting participant at position %d", n)
		}
		return waiting[n-1].ID, nil
	}
	return arg, nil
}

func waitingRecords(snap *types.Snapshot) []types.InteractionRecord {
	out := make([]types.InteractionRecord, 0, len(snap.Queue))
	for _, r := range snap.Queue {
		if r.Status == types.InteractionWaiting {
			out = append(out, r)
		}
	}
	return out
}
