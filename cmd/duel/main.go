package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"puzzleduel/internal/config"
	"puzzleduel/internal/duel"
	"puzzleduel/internal/gateway"
	"puzzleduel/internal/lobby"
	"puzzleduel/internal/puzzle"
	"puzzleduel/internal/relay"
	"puzzleduel/internal/stats"
)

func main() {
	configPath := flag.String("config", "duel.yaml", "path to config file")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("loading config")
	}

	peerID := uuid.NewString()
	name := cfg.DisplayName
	if name == "" {
		name = "player-" + peerID[:8]
	}

	catalog, err := puzzle.Load(cfg.CatalogPath)
	if err != nil {
		log.Fatal().Err(err).Msg("loading puzzle catalog")
	}

	store, err := stats.Open(cfg.StatsPath)
	if err != nil {
		log.Fatal().Err(err).Msg("opening stats store")
	}
	defer store.Close()

	// The relay identity is fresh per session; the record is keyed by the
	// stable local user id so it survives restarts.
	userID, err := store.UserID()
	if err != nil {
		log.Fatal().Err(err).Msg("loading user id")
	}

	totals, err := store.Load(userID)
	if err != nil {
		log.Fatal().Err(err).Msg("loading stats")
	}
	fmt.Printf("record: %dW %dL %dD\n", totals.Wins, totals.Losses, totals.Draws)

	r, err := relay.NewNATS(peerID, natsConfig(cfg))
	if err != nil {
		log.Fatal().Err(err).Msg("connecting to relay")
	}
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var gw *gateway.Gateway
	if cfg.GatewayAddr != "" {
		gw = gateway.New(gateway.DefaultConfig())
		go gw.Start(ctx)
		srv := &http.Server{Addr: cfg.GatewayAddr, Handler: gw.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("gateway server")
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Info().Str("addr", cfg.GatewayAddr).Msg("ui gateway listening")
	}

	ui := &terminalUI{catalog: catalog}
	var machine *duel.Machine
	machine = duel.NewMachine(duel.Config{
		Self:    duel.Peer{ID: peerID, Name: name},
		Relay:   r,
		Puzzles: catalog,
		Stats:   stats.NewRecorder(store, userID),
		Timing:  duel.DefaultTiming(),
		Notify: func(n duel.Notification) {
			if gw != nil {
				gw.Notify(n)
			}
			ui.render(n, func() (duel.MatchView, bool) { return machine.Match() })
		},
	})
	if err := machine.Start(); err != nil {
		log.Fatal().Err(err).Msg("starting duel machine")
	}

	dir, err := lobby.Join(r, relay.Member{ID: peerID, Name: name, JoinedAt: time.Now()}, func(peers []relay.Member) {
		fmt.Printf("lobby: %d peer(s) online\n", len(peers))
	})
	if err != nil {
		log.Fatal().Err(err).Msg("joining lobby")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		// Backgrounding/teardown mid-match: best-effort disconnected
		// notice, then clean exit. Not recorded as a loss on this side.
		machine.Suspend()
		machine.Close()
		dir.Leave()
		cancel()
		os.Exit(0)
	}()

	runCommands(machine, dir, store, userID)
}

func natsConfig(cfg config.Config) relay.NATSConfig {
	nc := relay.DefaultNATSConfig()
	nc.URL = cfg.RelayURL
	return nc
}

func runCommands(machine *duel.Machine, dir *lobby.Directory, store *stats.Store, userID string) {
	fmt.Println("commands: who | invite <n> | accept | decline | cancel | answer <n> | stats | quit")
	scanner := bufio.NewScanner(os.Stdin)
	var peers []relay.Member

	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "who":
			peers = dir.Peers()
			if len(peers) == 0 {
				fmt.Println("nobody else is online")
			}
			for i, p := range peers {
				fmt.Printf("  [%d] %s (%s)\n", i, p.Name, p.ID)
			}
		case "invite":
			if len(fields) < 2 {
				fmt.Println("usage: invite <n>  (run who first)")
				continue
			}
			idx, err := strconv.Atoi(fields[1])
			if err != nil || idx < 0 || idx >= len(peers) {
				fmt.Println("no such peer; run who first")
				continue
			}
			if err := machine.SendInvite(peers[idx].ID); err != nil {
				fmt.Println(err)
			}
		case "accept":
			if err := machine.AcceptInvite(); err != nil {
				fmt.Println(err)
			}
		case "decline":
			if err := machine.DeclineInvite(); err != nil {
				fmt.Println(err)
			}
		case "cancel":
			if err := machine.CancelInvite(); err != nil {
				fmt.Println(err)
			}
		case "answer":
			if len(fields) < 2 {
				fmt.Println("usage: answer <n>")
				continue
			}
			idx, err := strconv.Atoi(fields[1])
			if err != nil {
				fmt.Println("usage: answer <n>")
				continue
			}
			machine.Submit(idx)
		case "stats":
			totals, err := store.Load(userID)
			if err != nil {
				fmt.Println(err)
				continue
			}
			fmt.Printf("record: %dW %dL %dD\n", totals.Wins, totals.Losses, totals.Draws)
		case "quit":
			machine.Suspend()
			machine.Close()
			dir.Leave()
			return
		default:
			fmt.Println("unknown command")
		}
	}
}

// terminalUI prints duel notifications, standing in for the app's screens.
type terminalUI struct {
	catalog *puzzle.Catalog
}

func (u *terminalUI) render(n duel.Notification, view func() (duel.MatchView, bool)) {
	switch n.Type {
	case duel.NotifyInvite:
		fmt.Printf("\n%s challenges you! accept / decline\n", n.Invite.FromName)
	case duel.NotifyInviteCancelled:
		fmt.Println("\nthe challenge was withdrawn")
	case duel.NotifyCountdownTick:
		fmt.Printf("%d...\n", n.Tick)
	case duel.NotifyResult:
		fmt.Printf("\nresult: %s\n", n.Result.Outcome)
		if n.Result.Remote != nil {
			fmt.Printf("  you: correct=%v in %dms  opponent: correct=%v in %dms\n",
				n.Result.Own.IsCorrect, n.Result.Own.MsTaken,
				n.Result.Remote.IsCorrect, n.Result.Remote.MsTaken)
		}
	case duel.NotifyPhase:
		switch n.Phase {
		case duel.PhaseFound:
			fmt.Println("\nmatch found!")
		case duel.PhaseWaiting:
			fmt.Println("waiting for opponent...")
		case duel.PhasePlaying:
			if view == nil {
				return
			}
			m, ok := view()
			if !ok {
				return
			}
			p, err := u.catalog.Lookup(m.PuzzleRef)
			if err != nil {
				return
			}
			fmt.Printf("\n%s\n", p.Prompt)
			for i, opt := range p.Options {
				fmt.Printf("  [%d] %s\n", i, opt)
			}
			fmt.Println("answer <n> to submit")
		}
	}
}
