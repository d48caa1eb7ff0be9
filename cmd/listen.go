package cmd

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/harmonycast/harmonycast/internal/client"
	"github.com/harmonycast/harmonycast/internal/player"
)

var (
	listenServerURL string
	listenRoom      string
	listenName      string
	listenWantHost  bool
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Join a room with the headless player",
	Long: `Connects to a room server, mirrors the shared timeline in a headless
player and accepts playback commands on stdin:

  play | pause | seek <sec> | track <url> | volume <0..1> | status | quit`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()

		cfg, err := setup()
		if err != nil {
			return err
		}
		if listenServerURL != "" {
			cfg.Client.ServerURL = listenServerURL
		}
		if listenRoom != "" {
			cfg.Client.Room = listenRoom
		}
		if listenName != "" {
			cfg.Client.Name = listenName
		}
		if cmd.Flags().Changed("host") {
			cfg.Client.WantHost = listenWantHost
		}

		wsURL, err := roomURL(cfg.Client.ServerURL, cfg.Client.Room)
		if err != nil {
			return err
		}

		clock := clockwork.NewRealClock()
		conn := client.NewConn(client.ConnConfig{
			URL:          wsURL,
			BackoffFloor: cfg.Client.BackoffFloor,
			BackoffCap:   cfg.Client.BackoffCap,
			WriteTimeout: cfg.Client.WriteTimeout,
		}, clock, slog.Default())

		sess := client.NewSession(client.SessionConfig{
			Name:          cfg.Client.Name,
			WantHost:      cfg.Client.WantHost,
			ProbeInterval: cfg.Client.ProbeInterval,
			Tuning:        syncTuning(cfg.Sync),
		}, conn, player.NewSimulated(clock), clock, slog.Default())

		go conn.Run(ctx)
		go sess.Run(ctx)

		slog.Info("listening", slog.String("url", wsURL), slog.String("room", cfg.Client.Room))

		lines := make(chan string)
		go func() {
			defer close(lines)
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				lines <- scanner.Text()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					<-ctx.Done()
					return nil
				}
				if quit := runCommand(sess, line); quit {
					return nil
				}
			}
		}
	},
}

func init() {
	listenCmd.Flags().StringVar(&listenServerURL, "server", "", "websocket endpoint (default from SERVER_URL)")
	listenCmd.Flags().StringVar(&listenRoom, "room", "", "room to join (default from ROOM)")
	listenCmd.Flags().StringVar(&listenName, "name", "", "display name")
	listenCmd.Flags().BoolVar(&listenWantHost, "host", false, "claim the host seat if vacant")
}

func roomURL(base, room string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	q := u.Query()
	q.Set("room", room)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// runCommand applies one stdin line. Returns true on quit.
func runCommand(sess *client.Session, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	switch fields[0] {
	case "play":
		sess.Play()
	case "pause":
		sess.Pause()
	case "seek":
		if len(fields) < 2 {
			fmt.Println("usage: seek <sec>")
			return false
		}
		sec, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			fmt.Println("usage: seek <sec>")
			return false
		}
		sess.Seek(sec)
	case "track":
		if len(fields) < 2 {
			fmt.Println("usage: track <url>")
			return false
		}
		sess.SetTrack(fields[1])
	case "volume":
		if len(fields) < 2 {
			fmt.Println("usage: volume <0..1>")
			return false
		}
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			fmt.Println("usage: volume <0..1>")
			return false
		}
		sess.SetVolume(v)
	case "status":
		printStatus(sess.Status())
	case "quit", "exit":
		return true
	default:
		fmt.Println("commands: play pause seek track volume status quit")
	}
	return false
}

func printStatus(st client.Status) {
	role := "guest"
	if st.Identity.IsHost {
		role = "host"
	}
	link := "offline"
	if st.Connected {
		link = "online"
	}
	fmt.Printf("%s %s track=%q paused=%v pos=%.2fs desired=%.2fs rate=%.4f offset=%+dms rtt=%dms calibrated=%v\n",
		link, role,
		st.State.TrackURL, st.State.Paused,
		st.ActualSec, st.DesiredSec, st.AppliedRate,
		st.Clock.OffsetMs, st.Clock.LastRttMs, st.Clock.Calibrated,
	)
}
