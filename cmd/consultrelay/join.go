package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/consultrelay/internal/config"
	"github.com/1ureka/consultrelay/internal/negotiator"
	"github.com/1ureka/consultrelay/internal/transcript"
	"github.com/1ureka/consultrelay/internal/util"
)

func newJoinCmd(opts *options) *cobra.Command {
	var (
		relayURL string
		room     string
		role     string
		timeout  time.Duration
		ice      []string
	)

	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join a consultation room as patient or doctor",
		Long:  "Join a consultation room, negotiate a call with the other participant, and chat from the terminal. Each line read from stdin is sent as a chat message. Missing flags are asked for interactively.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			if cmd.Flags().Changed("timeout") {
				cfg.Negotiator.Timeout = timeout
			}
			if cmd.Flags().Changed("ice") {
				cfg.ICE.Servers = ice
			}

			if room == "" {
				room = askRoom()
			}
			r, ok := config.ParseRole(role)
			if !ok {
				if role != "" {
					util.LogWarning("unknown role, please pick one", "role", role)
				}
				r = askRole()
			}

			return runJoin(cmd.Context(), cfg, relayURL, room, r, os.Stdin)
		},
	}

	cmd.Flags().StringVar(&relayURL, "relay", "http://localhost:3000", "Relay base URL")
	cmd.Flags().StringVar(&room, "room", "", "Room (appointment) id")
	cmd.Flags().StringVar(&role, "role", "", "Participant role: patient or doctor")
	cmd.Flags().DurationVar(&timeout, "timeout", negotiator.DefaultTimeout, "Handshake timeout once the other participant is present")
	cmd.Flags().StringSliceVar(&ice, "ice", nil, "STUN/TURN server URLs (overrides ice.servers)")
	return cmd
}

// runJoin negotiates a call in room and forwards stdin lines as chat until
// the call fails, stdin is exhausted after the user hangs up, or ctx ends.
func runJoin(ctx context.Context, cfg *config.Config, relayURL, room string, role config.Role, in io.Reader) error {
	n := negotiator.New(negotiator.Config{
		RelayURL:   relayURL,
		Room:       room,
		Role:       role,
		ICEServers: cfg.ICE.Servers,
		Timeout:    cfg.Negotiator.Timeout,
		Media:      negotiator.SyntheticSource{StreamID: room},
		Handlers: negotiator.Handlers{
			OnChat: printChat,
			OnState: func(s negotiator.State) {
				if s == negotiator.Connected {
					util.LogSuccess("call connected")
				}
			},
			OnPeer: func(ev negotiator.PeerEvent) {
				if ev.Joined {
					pterm.Info.Println(fmt.Sprintf("%s joined the room", ev.Role))
				} else {
					pterm.Warning.Println(fmt.Sprintf("%s left the room", ev.Role))
				}
			},
			OnRemoteStream: func(track *webrtc.TrackRemote) {
				go drainRemote(track)
			},
		},
	})

	pterm.Info.Println(fmt.Sprintf("Joining room as %s, type a line and press Enter to chat", role))

	go forwardChat(ctx, n, in)

	err := n.Run(ctx)
	if errors.Is(err, context.Canceled) {
		util.LogInfo("left the room")
		return nil
	}
	return err
}

// forwardChat sends each non-empty input line as a chat message.
func forwardChat(ctx context.Context, n *negotiator.Negotiator, in io.Reader) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := n.SendChat(line); err != nil {
			if errors.Is(err, negotiator.ErrClosed) {
				return
			}
			util.LogWarning("chat not sent", "error", err)
		}
	}
}

func printChat(m transcript.ChatMessage) {
	stamp := m.Timestamp
	if t, err := time.Parse(transcript.TimestampLayout, m.Timestamp); err == nil {
		stamp = t.Local().Format("15:04")
	}
	pterm.Printfln("%s %s %s", pterm.Gray(stamp), pterm.Bold.Sprint(string(m.Sender)+":"), m.Text)
}

// drainRemote consumes the remote RTP stream; the headless client does not
// render media.
func drainRemote(track *webrtc.TrackRemote) {
	util.LogInfo("receiving remote media", "kind", track.Kind().String(), "codec", track.Codec().MimeType)
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}

// askRoom prompts until a non-empty room id is entered.
func askRoom() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Room (appointment) id").
			Show()

		if room := strings.TrimSpace(raw); room != "" {
			pterm.Println()
			return room
		}

		util.LogWarning("room id must not be empty")
		pterm.Println()
	}
}

// askRole lets the user pick a side of the consultation.
func askRole() config.Role {
	choice, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Patient", "Doctor"}).
		WithDefaultText("Select your role").
		Show()

	pterm.Println()
	if strings.HasPrefix(choice, "Doctor") {
		return config.RoleDoctor
	}
	return config.RolePatient
}
