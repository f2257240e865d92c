package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/revsync/internal/output"
	revsync "github.com/marcus/revsync/internal/sync"
	"github.com/marcus/revsync/internal/syncclient"
	"github.com/marcus/revsync/internal/syncconfig"
	"github.com/marcus/revsync/internal/wsync"
)

var syncCmd = &cobra.Command{
	Use:   "sync <object-id>",
	Short: "Push pending revisions and pull remote ones",
	Long: `Connect to the authority, push every pending revision of the object and
merge what others wrote. Without --watch the command returns once everything
local is acknowledged; with --watch it keeps the object live until interrupted.`,
	Example: `  revsync sync notes
  revsync sync notes --watch
  revsync sync notes --server http://authority:8080`,
	GroupID: "sync",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")
		if server == "" {
			server = syncconfig.GetServerURL()
		}
		watch, _ := cmd.Flags().GetBool("watch")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_, err := syncclient.New(server, "").HealthCheck(hctx)
		cancel()
		if err != nil {
			output.Error("authority %s unreachable: %v", server, err)
			return err
		}

		ws, err := workspaceFor(cmd)
		if err != nil {
			return err
		}
		defer ws.Close()

		s, err := ws.openObject(ctx, args[0], sessionOptions{ServerURL: server})
		if err != nil {
			return err
		}
		closeCtx := context.WithoutCancel(ctx)
		defer s.Close(closeCtx)

		if err := s.Start(ctx); err != nil {
			return err
		}
		if watch {
			return watchObject(ctx, s)
		}

		wctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := s.WaitSynced(wctx, 50*time.Millisecond); err != nil {
			output.Error("not all revisions acknowledged: %v", err)
			return err
		}
		output.Success("%s synced at rev %d", args[0], s.Revisions().RevID())
		return nil
	},
}

// watchObject prints the text whenever it changes until ctx is done.
func watchObject(ctx context.Context, s *revsync.Session) error {
	states, unsubscribe := s.WS().SubscribeState()
	defer unsubscribe()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	last := s.Editor().Text()
	output.Info("%s", last)
	for {
		select {
		case <-ctx.Done():
			return nil
		case st := <-states:
			switch st {
			case wsync.ConnectStateConnected:
				output.Success("connected")
			case wsync.ConnectStateDisconnected:
				output.Warning("disconnected, retrying")
			}
		case <-ticker.C:
			if text := s.Editor().Text(); text != last {
				last = text
				fmt.Println(output.SectionHeader(fmt.Sprintf("rev %d", s.Revisions().RevID())))
				output.Info("%s", text)
			}
		}
	}
}

func init() {
	syncCmd.Flags().String("server", "", "Authority URL (default from config)")
	syncCmd.Flags().BoolP("watch", "w", false, "Stay connected and print remote changes")
	syncCmd.Flags().Duration("timeout", 30*time.Second, "How long to wait for acknowledgements")
	rootCmd.AddCommand(syncCmd)
}
