package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"

	"github.com/signalhop/signalhop/internal/config"
	"github.com/signalhop/signalhop/internal/rendezvous"
	sig "github.com/signalhop/signalhop/internal/signal"
	"github.com/signalhop/signalhop/internal/signaling"
	"github.com/signalhop/signalhop/internal/webrtcpeer"
)

var joinCmd = &cobra.Command{
	Use:   "join <room>",
	Short: "Join a room and pipe stdin/stdout over the data channel",
	Long: `Join a room on the relay. The first peer into the room publishes an
offer and waits; the second answers it. Once connected, lines from stdin are
sent to the peer and received messages are printed to stdout.

Examples:
  signalhop join room-1
  signalhop --relay https://relay.example.com join room-1`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return join(cmd.Context(), args[0])
	},
}

func join(ctx context.Context, room string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	exchange := signaling.NewClient(flagRelayURL, nil)

	iceServers, err := fetchICEServers(ctx, flagRelayURL)
	if err != nil {
		// Degraded mode: host candidates only.
		log.Warn("ice lookup failed, continuing without STUN/TURN", "error", err)
		iceServers = nil
	}

	api, err := webrtcpeer.NewAPI(config.Config{}, log)
	if err != nil {
		return err
	}
	peer, err := webrtcpeer.NewPeer(api, iceServers, log)
	if err != nil {
		return err
	}

	sess, err := rendezvous.NewSession(rendezvous.Config{
		Room:            room,
		Exchange:        exchange,
		Surface:         peer,
		Logger:          log,
		PollInterval:    flagPollInterval,
		StragglerPasses: flagStragglerPasses,
	})
	if err != nil {
		return err
	}
	defer sess.Close()

	peer.OnMessage(func(data []byte) {
		fmt.Println(string(data))
	})

	if err := sess.Start(ctx); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "joined %s as %s, waiting for peer...\n", room, sess.Role())

	if sess.Role() == rendezvous.RoleInitiator {
		// Watch the relay for the answer so connecting does not wait out a
		// full poll tick. Best effort: if the watch fails, polling covers it.
		watchCtx, stopWatch := context.WithCancel(ctx)
		defer stopWatch()
		go func() {
			wc := &signaling.WatchClient{}
			if _, err := wc.Await(watchCtx, exchange.WatchURL(room, sig.KindAnswer)); err == nil {
				sess.Nudge()
			}
		}()
	}

	select {
	case <-peer.Ready():
	case <-sess.Done():
		if err := sess.Err(); err != nil {
			return err
		}
		return fmt.Errorf("session closed before connecting")
	case <-ctx.Done():
		return ctx.Err()
	}
	fmt.Fprintln(os.Stderr, "connected")

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
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := peer.Send([]byte(line)); err != nil {
				return fmt.Errorf("send: %w", err)
			}
		case <-sess.Done():
			return sess.Err()
		case <-ctx.Done():
			return nil
		}
	}
}

// fetchICEServers asks the relay for its ICE configuration, including any
// ephemeral TURN credentials it mints.
func fetchICEServers(ctx context.Context, relayURL string) ([]webrtc.ICEServer, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, relayURL+"/ice", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ice lookup: %s", resp.Status)
	}

	var payload struct {
		ICEServers []webrtc.ICEServer `json:"iceServers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	return payload.ICEServers, nil
}
