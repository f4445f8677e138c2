// Command terrachat is an interactive terminal client for the Terraform
// generation chat backend. It keeps one conversation on screen, mirrors
// the server's event stream into it and renders progress as it happens.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"terrachat/pkg/banner"
	"terrachat/pkg/chat"
	"terrachat/pkg/config"
	"terrachat/pkg/logger"
	"terrachat/pkg/models"
	"terrachat/pkg/rest"
	"terrachat/pkg/stream"
	"terrachat/pkg/token"
)

var version = "dev"

func main() {
	_ = godotenv.Load()

	var (
		configPath = flag.String("config", "", "path to YAML config file")
		apiBase    = flag.String("api", "", "REST base URL (overrides config)")
		wsURL      = flag.String("ws", "", "websocket URL (overrides config)")
		projectID  = flag.String("project", "", "project id (overrides config)")
		authToken  = flag.String("token", os.Getenv("TERRACHAT_TOKEN"), "bearer token")
	)
	flag.Parse()

	eff, err := config.LoadEffective(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	cfg := eff.Config
	if *apiBase != "" {
		cfg.Client.APIBase = *apiBase
	}
	if *wsURL != "" {
		cfg.Client.WSURL = *wsURL
	}
	if *projectID != "" {
		cfg.Client.ProjectID = *projectID
	}
	if cfg.Client.APIBase == "" {
		cfg.Client.APIBase = "http://localhost:8081"
	}
	if cfg.Client.WSURL == "" {
		cfg.Client.WSURL = "ws://localhost:8081/ws"
	}
	if cfg.Client.ProjectID == "" {
		cfg.Client.ProjectID = "default"
	}
	if *authToken == "" {
		*authToken = "dev-token"
	}

	logger.InitWithLevel(cfg.Logging.Level)
	banner.PrintClient(cfg.Client.APIBase, cfg.Client.WSURL, cfg.Client.ProjectID, eff.Source, version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// the dev credential never rotates; a real deployment would exchange
	// a refresh token here
	guard := token.NewGuard(func(ctx context.Context) (models.TokenData, error) {
		return models.TokenData{AccessToken: *authToken}, nil
	})
	api := rest.NewClient(cfg.Client.APIBase, guard)
	mgr := stream.NewManager(stream.Config{
		URL:            cfg.Client.WSURL,
		ProjectID:      cfg.Client.ProjectID,
		Token:          guard.GetValidToken,
		ReconnectDelay: cfg.Client.ReconnectDelayOr(stream.DefaultReconnectDelay),
		OnState: func(s stream.ConnState) {
			logger.Info("stream_state", "state", string(s))
		},
	})
	session := chat.NewSession(chat.Config{
		ProjectID:    cfg.Client.ProjectID,
		API:          api,
		Stream:       mgr,
		HistoryLimit: cfg.Client.HistoryLimit,
		OnNotice: func(n chat.Notice) {
			fmt.Printf("\n[%s] %s\n> ", n.Level, n.Text)
		},
	})
	session.Start(ctx)
	session.NewChat("")

	go renderLoop(ctx, session)
	repl(ctx, session, api, cfg.Client.ProjectID)
	mgr.Close()
}

// renderLoop prints timeline additions and progress transitions as they
// arrive from the stream.
func renderLoop(ctx context.Context, s *chat.Session) {
	seen := map[string]struct{}{}
	lastStatus := models.GenerationIdle
	tick := time.NewTicker(300 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
		for _, m := range s.Timeline.Snapshot() {
			if _, ok := seen[m.ID]; ok {
				continue
			}
			seen[m.ID] = struct{}{}
			if m.Type == models.MessageUser && m.Local() {
				continue // already echoed locally at the prompt
			}
			fmt.Printf("\n[%s] %s\n> ", m.Type, m.Content)
		}
		p := s.Progress.Current()
		if p.Status != lastStatus {
			lastStatus = p.Status
			if p.Status == models.GenerationRunning || p.Status == models.GenerationCompleted {
				fmt.Printf("\n[progress] %s %.0f%% %s\n> ", p.Status, p.ProgressPercentage, p.CurrentStep)
			}
		}
		if c := s.Clarifications.Current(); c.Open {
			// rendered once; the gate stays open until answered
			for _, q := range c.Questions {
				if _, ok := seen["clq-"+q.ID]; ok {
					continue
				}
				seen["clq-"+q.ID] = struct{}{}
				fmt.Printf("\n[clarify] %s: %s\n> ", q.ID, q.Question)
			}
		}
	}
}

func repl(ctx context.Context, s *chat.Session, api *rest.Client, projectID string) {
	sc := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for sc.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
		case line == "/quit":
			return
		case strings.HasPrefix(line, "/new"):
			s.NewChat(strings.TrimSpace(strings.TrimPrefix(line, "/new")))
			fmt.Println("started a new conversation")
		case line == "/threads":
			threads, err := api.ListThreads(ctx, projectID)
			if err == nil {
				for _, th := range threads {
					fmt.Printf("%s  %s (%d messages)\n", th.ID, th.Title, th.MessageCount)
				}
			}
		case strings.HasPrefix(line, "/open "):
			id := strings.TrimSpace(strings.TrimPrefix(line, "/open "))
			_ = s.SelectThread(ctx, models.Thread{ID: id, ProjectID: projectID})
			for _, m := range s.Timeline.Snapshot() {
				fmt.Printf("[%s] %s\n", m.Type, m.Content)
			}
		case line == "/older":
			if !s.HasMore() {
				fmt.Println("no older messages")
				break
			}
			_ = s.LoadOlder(ctx)
		case strings.HasPrefix(line, "/answer"):
			answers := parseAnswers(strings.TrimPrefix(line, "/answer"))
			if err := s.RespondToClarification(ctx, answers); err != nil {
				fmt.Println("answer:", err)
			}
		default:
			_ = s.SendMessage(ctx, line)
		}
		fmt.Print("> ")
	}
}

// parseAnswers splits "q1=small q2=eu-west-1" into the answer map.
func parseAnswers(s string) map[string]string {
	out := map[string]string{}
	for _, part := range strings.Fields(s) {
		k, v, ok := strings.Cut(part, "=")
		if ok {
			out[k] = v
		}
	}
	return out
}
