// Command browseragent dials a gateway's control channel and executes
// outbound requests on behalf of one credential index, standing in for
// the in-browser script the gateway expects on the other end of the
// wire.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"genai-relay/internal/browseragent"
	"genai-relay/internal/credential"
)

func main() {
	gatewayURL := flag.String("gateway", "ws://127.0.0.1:8080/internal/agent", "Control-channel websocket URL of the gateway")
	authDir := flag.String("auth-dir", "auth", "Directory holding auth-<index>.json credential files")
	index := flag.Int("index", 0, "Credential index this agent authenticates as")
	upstreamBase := flag.String("upstream", "https://generativelanguage.googleapis.com", "Base URL the agent fetches against")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debug {
		log.SetLevel(log.DebugLevel)
	}

	store, err := credential.NewStore(*authDir)
	if err != nil {
		log.WithError(err).Fatal("browseragent: failed to load credentials")
	}
	blob, err := store.Get(*index)
	if err != nil {
		log.WithError(err).WithField("index", *index).Fatal("browseragent: credential index not found")
	}

	jar, err := browseragent.NewSessionJar(blob)
	if err != nil {
		log.WithError(err).Fatal("browseragent: failed to build session from credential")
	}
	httpClient := &http.Client{Jar: jar}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for {
		if ctx.Err() != nil {
			return
		}
		if err := runOnce(ctx, *gatewayURL, *index, httpClient, *upstreamBase); err != nil {
			log.WithError(err).Warn("browseragent: control-channel session ended, reconnecting")
		}
		select {
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
			return
		}
	}
}

func runOnce(ctx context.Context, gatewayURL string, index int, httpClient *http.Client, upstreamBase string) error {
	dialURL, err := dialURLWithIndex(gatewayURL, index)
	if err != nil {
		return err
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, dialURL, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %w (status %s)", dialURL, err, resp.Status)
		}
		return fmt.Errorf("dial %s: %w", dialURL, err)
	}
	defer conn.Close()

	log.WithFields(log.Fields{"gateway": gatewayURL, "index": index}).Info("browseragent: connected to control channel")

	agent := browseragent.New(conn, httpClient, browseragent.Config{UpstreamBase: upstreamBase})
	return agent.Run(ctx)
}

// dialURLWithIndex attaches the credential index as an "index" query
// parameter on the dial URL; the gateway's control-channel handler does
// not read it.
func dialURLWithIndex(gatewayURL string, index int) (string, error) {
	u, err := url.Parse(gatewayURL)
	if err != nil {
		return "", fmt.Errorf("parse gateway url: %w", err)
	}
	q := u.Query()
	q.Set("index", fmt.Sprint(index))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
