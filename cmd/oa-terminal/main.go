// Command oa-terminal is an interactive terminal client for an
// overhearing-agents session server: it connects to (or creates) a session,
// streams the agent tree and root transcript to the terminal, and sends
// typed user messages. With -mic it streams microphone audio to the server;
// with -speaker it plays the server's output audio.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/overhearing/oa-go/internal/envfile"
	"github.com/overhearing/oa-go/pkg/audio"
	"github.com/overhearing/oa-go/pkg/core/types"
	oa "github.com/overhearing/oa-go/sdk"
)

const (
	defaultBaseURL = "http://127.0.0.1:8000"
	defaultTimeout = 30 * time.Second
)

type terminalConfig struct {
	BaseURL      string
	SessionID    string
	StartContent string
	ListOnly     bool
	Mic          bool
	Speaker      bool
	Timeout      time.Duration
}

func parseTerminalConfig(args []string, getenv func(string) string) (terminalConfig, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	envBase := strings.TrimSpace(getenv("OA_BASE_URL"))
	if envBase == "" {
		envBase = defaultBaseURL
	}

	cfg := terminalConfig{}
	fs := flag.NewFlagSet("oa-terminal", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.BaseURL, "base-url", envBase, "session server base URL (or OA_BASE_URL)")
	fs.StringVar(&cfg.SessionID, "session", "", "session id to join; empty creates a new session")
	fs.StringVar(&cfg.StartContent, "start", "", "first user message when creating a session")
	fs.BoolVar(&cfg.ListOnly, "list", false, "list sessions and saves, then exit")
	fs.BoolVar(&cfg.Mic, "mic", false, "stream microphone audio to the session")
	fs.BoolVar(&cfg.Speaker, "speaker", false, "play the session's output audio")
	fs.DurationVar(&cfg.Timeout, "timeout", defaultTimeout, "API request timeout")

	if err := fs.Parse(args); err != nil {
		return terminalConfig{}, err
	}
	if err := validateTerminalConfig(cfg); err != nil {
		return terminalConfig{}, err
	}
	return cfg, nil
}

func validateTerminalConfig(cfg terminalConfig) error {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return errors.New("base-url must not be empty")
	}
	u, err := url.Parse(base)
	if err != nil || strings.TrimSpace(u.Scheme) == "" || strings.TrimSpace(u.Host) == "" {
		return errors.New("base-url must be a valid absolute URL")
	}
	if u.User != nil {
		return errors.New("base-url must not include credentials")
	}
	if cfg.Timeout <= 0 {
		return errors.New("timeout must be > 0")
	}
	if cfg.StartContent != "" && cfg.SessionID != "" {
		return errors.New("-start only applies when creating a session (omit -session)")
	}
	return nil
}

func listServer(ctx context.Context, client *oa.Client, out io.Writer) error {
	sessions, err := client.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	fmt.Fprintf(out, "%d active session(s)\n", len(sessions))
	for _, meta := range sessions {
		fmt.Fprintf(out, "  %s  events=%d  modified=%s\n",
			meta.ID, meta.NEvents, formatTimestamp(meta.LastModified))
	}

	saves, err := client.ListSaves(ctx)
	if err != nil {
		return fmt.Errorf("list saves: %w", err)
	}
	fmt.Fprintf(out, "%d save(s)\n", len(saves))
	for _, meta := range saves {
		fmt.Fprintf(out, "  %s  events=%d  modified=%s\n",
			meta.ID, meta.NEvents, formatTimestamp(meta.LastModified))
	}
	return nil
}

func formatTimestamp(ts float64) string {
	if ts == 0 {
		return "-"
	}
	return time.Unix(int64(ts), 0).UTC().Format(time.RFC3339)
}

// renderTree formats the agent tree rooted at the store's root, one node per
// line, children indented under their parent in spawn order.
func renderTree(store *oa.SessionStore) string {
	nodes := store.Nodes()
	rootID := store.RootID()
	if rootID == "" {
		return "(no root node)\n"
	}

	var b strings.Builder
	var walk func(id string, depth int)
	walk = func(id string, depth int) {
		node, ok := nodes[id]
		if !ok {
			return
		}
		usage := store.TokenUsageFor(id)
		fmt.Fprintf(&b, "%s%s [%s]", strings.Repeat("  ", depth), node.Name, node.State)
		if usage.Total() > 0 {
			fmt.Fprintf(&b, " tokens=%d", usage.Total())
		}
		b.WriteByte('\n')
		for _, child := range node.Children {
			walk(child, depth+1)
		}
	}
	walk(rootID, 0)

	// Orphans whose parent link was dropped still show up, unindented.
	reachable := make(map[string]bool)
	var mark func(id string)
	mark = func(id string) {
		if reachable[id] {
			return
		}
		reachable[id] = true
		for _, child := range nodes[id].Children {
			mark(child)
		}
	}
	mark(rootID)

	var orphans []string
	for id := range nodes {
		if !reachable[id] {
			orphans = append(orphans, id)
		}
	}
	sort.Strings(orphans)
	for _, id := range orphans {
		fmt.Fprintf(&b, "%s [%s] (unlinked)\n", nodes[id].Name, nodes[id].State)
	}
	return b.String()
}

func handleSlashCommand(line string, session *oa.SessionClient, out io.Writer) (handled bool) {
	store := session.Store()
	switch line {
	case "/tree":
		fmt.Fprint(out, renderTree(store))
		return true
	case "/tokens":
		total := store.TotalTokenUsage()
		fmt.Fprintf(out, "tokens: prompt=%d completion=%d total=%d\n",
			total.Prompt, total.Completion, total.Total())
		return true
	case "/title":
		title := store.Title()
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintln(out, title)
		return true
	case "/suggestions":
		suggestions := store.Suggestions()
		fmt.Fprintf(out, "%d suggestion(s)\n", len(suggestions))
		for _, s := range suggestions {
			fmt.Fprintf(out, "  [%s] %s\n", s.SuggestType, s.ID)
		}
		return true
	case "/help":
		fmt.Fprintln(out, "commands: /tree /tokens /title /suggestions /exit")
		return true
	default:
		return false
	}
}

// printEvents renders the live event stream until the channel closes.
func printEvents(events <-chan types.ServerEvent, out io.Writer) {
	for ev := range events {
		switch e := ev.(type) {
		case types.StreamDeltaEvent:
			if e.Role == types.RoleAssistant {
				fmt.Fprint(out, e.Delta)
			}
		case types.RootMessageEvent:
			if e.Msg.Role == types.RoleAssistant && e.Msg.ToolCalls == nil {
				fmt.Fprintln(out)
			}
		case types.KaniSpawnEvent:
			fmt.Fprintf(out, "[spawn] %s (depth %d)\n", e.State.Name, e.State.Depth)
		case types.SuggestionEvent:
			fmt.Fprintf(out, "[suggestion] %s: %s\n", e.Suggestion.SuggestType, e.Suggestion.ID)
		case types.RoundCompleteEvent:
			fmt.Fprintln(out, "[round complete]")
		case types.SessionCloseEvent:
			fmt.Fprintln(out, "[session closed by server]")
		case types.ErrorEvent:
			fmt.Fprintf(out, "[server error] %s\n", e.Msg)
		}
	}
}

func runTerminal(ctx context.Context, cfg terminalConfig, in io.Reader, out, errOut io.Writer) error {
	client := oa.NewClient(
		oa.WithBaseURL(cfg.BaseURL),
		oa.WithTimeout(cfg.Timeout),
	)

	if cfg.ListOnly {
		return listServer(ctx, client, out)
	}

	sessionID := strings.TrimSpace(cfg.SessionID)
	if sessionID == "" {
		state, err := client.CreateSession(ctx, cfg.StartContent)
		if err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		sessionID = state.ID
		fmt.Fprintf(out, "created session %s\n", sessionID)
	}

	var sessionOpts []oa.SessionOption
	var player *audio.Player
	if cfg.Speaker {
		player = audio.NewPlayer(audio.SampleRateHz, audio.DefaultPlayerConfig())
		sink, err := audio.NewFFplaySink(audio.SampleRateHz)
		if err != nil {
			fmt.Fprintf(errOut, "speaker unavailable: %v\n", err)
		} else {
			defer sink.Close()
			go player.HandleAudio(
				func(chunk []byte) { sink.Write(chunk) },
				func() { sink.Reset() },
			)
			defer player.Close()
			sessionOpts = append(sessionOpts, oa.WithAudioSink(player.Enqueue))
		}
	}
	if cfg.Mic {
		sessionOpts = append(sessionOpts, oa.WithMicSource(func(onChunk func([]byte)) (io.Closer, error) {
			return audio.OpenMic(onChunk)
		}))
	}

	session := client.Session(sessionID, sessionOpts...)
	defer session.Close()

	if err := session.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if err := session.WaitForReady(ctx); err != nil {
		return err
	}
	if err := session.MicErr(); err != nil {
		fmt.Fprintf(errOut, "microphone unavailable: %v\n", err)
	}

	events, unsubscribe := session.Subscribe(oa.EventAll)
	defer unsubscribe()
	go printEvents(events, out)

	fmt.Fprintf(out, "connected to session %s at %s\n", sessionID, cfg.BaseURL)
	fmt.Fprintln(out, "type a message and press enter; /help for commands; /exit to quit")

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			fmt.Fprintln(out)
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch line {
		case "/exit", "/quit":
			fmt.Fprintln(out, "bye")
			return nil
		}
		if handleSlashCommand(line, session, out) {
			continue
		}

		session.SendMessage(line)
		session.LogClientEvent("terminal_send", map[string]any{"length": len(line)})
	}
}

func main() {
	if err := envfile.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "oa-terminal: %v\n", err)
		os.Exit(1)
	}

	cfg, err := parseTerminalConfig(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "oa-terminal: %v\n", err)
		os.Exit(1)
	}

	if err := runTerminal(context.Background(), cfg, os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "oa-terminal: %v\n", err)
		os.Exit(1)
	}
}
