// Package main renders a live terminal board of the tasks a pulseboard
// server is tracking.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/pulseboard/pulseboard/internal/config"
	"github.com/pulseboard/pulseboard/internal/registry"
	"github.com/pulseboard/pulseboard/internal/watchui"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	serverFlag := flag.String("server", "", "Server base URL (overrides config)")
	tokenFlag := flag.String("token", "", "API token (overrides config)")
	noColor := flag.Bool("no-color", false, "Disable color output")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}

	base := cfg.Client.ServerURL
	if *serverFlag != "" {
		base = *serverFlag
	}
	token := cfg.Client.APIToken
	if *tokenFlag != "" {
		token = *tokenFlag
	}

	wsURL, err := watchURL(base, token)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bad server url: %v\n", err)
		os.Exit(1)
	}

	dialCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	conn, br, _, err := ws.Dial(dialCtx, wsURL)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect to %s failed: %v\n", wsURL, err)
		os.Exit(1)
	}
	defer conn.Close()

	var reader io.Reader = conn
	if br != nil {
		reader = io.MultiReader(br, conn)
	}

	feed := make(chan watchui.Frame, 1)
	go readFrames(wsStream{Reader: reader, Writer: conn}, feed)

	model := watchui.New(feed, watchui.Options{
		Server:  displayServer(base),
		NoColor: *noColor,
	})
	if _, err := tea.NewProgram(model, tea.WithAltScreen()).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "watch ui failed: %v\n", err)
		os.Exit(1)
	}
}

// wsStream pairs the handshake-buffered reader with the raw connection so
// frame helpers can also write control replies.
type wsStream struct {
	io.Reader
	io.Writer
}

// readFrames decodes broadcasts into the feed until the connection drops,
// then closes the feed so the UI quits.
func readFrames(rw io.ReadWriter, feed chan<- watchui.Frame) {
	defer close(feed)
	for {
		payload, err := wsutil.ReadServerText(rw)
		if err != nil {
			return
		}
		var env struct {
			Tasks map[string]registry.TaskState `json:"tasks"`
		}
		if err := json.Unmarshal(payload, &env); err != nil {
			continue
		}
		feed <- watchui.Frame{Tasks: env.Tasks}
	}
}

// watchURL converts the configured ingest URL into the websocket endpoint,
// carrying the token as a query parameter because browsers and most dialers
// cannot set headers on the upgrade request.
func watchURL(base, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = "/ws"
	u.RawQuery = ""
	if token != "" {
		u.RawQuery = url.Values{"token": {token}}.Encode()
	}
	return u.String(), nil
}

// displayServer reduces the configured URL to a host for the header line.
func displayServer(base string) string {
	if u, err := url.Parse(base); err == nil && u.Host != "" {
		return u.Host
	}
	return base
}
