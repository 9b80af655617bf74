package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/gookit/color"

	"github.com/lk2023060901/session-relay-go/internal/json"
	"github.com/lk2023060901/session-relay-go/pkg/client"
)

var (
	infoStyle  = color.New(color.FgGreen)
	peerStyle  = color.New(color.FgCyan, color.OpBold)
	errStyle   = color.New(color.FgRed)
	titleStyle = color.New(color.BgBlack, color.FgGreen)
)

// terminal prints relay events; it is shared by the read loop and the input loop.
type terminal struct {
	out io.Writer
}

func (t *terminal) info(format string, args ...any) {
	fmt.Fprintln(t.out, infoStyle.Sprintf(format, args...))
}

func (t *terminal) fail(err error) {
	fmt.Fprintln(t.out, errStyle.Render(err.Error()))
}

func (t *terminal) message(from string, raw json.RawMessage) {
	fmt.Fprintf(t.out, "%s %s\n", peerStyle.Render("<"+from+">"), displayPayload(raw))
}

// displayPayload prints JSON strings without quotes and other values as-is.
func displayPayload(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func (t *terminal) handlers() client.Handlers {
	return client.Handlers{
		OnMessage: t.message,
		OnRequest: func(_ context.Context, from string, request json.RawMessage) any {
			t.info("request from %s: %s (auto-acknowledged)", from, displayPayload(request))
			return "ack"
		},
		OnJoin: func(user string) {
			t.info("%s joined", user)
		},
		OnLeave: func(user string) {
			t.info("%s left", user)
		},
		OnError: t.fail,
	}
}

// runSession creates (sessionID empty) or joins a session and runs the input loop until
// stdin is exhausted, /quit is typed or the connection drops.
func runSession(ctx context.Context, sessionID string) error {
	term := &terminal{out: os.Stdout}

	var (
		c   *client.Client
		err error
	)
	if sessionID == "" {
		c, err = client.Create(ctx, clientConfig(), term.handlers())
	} else {
		c, err = client.Join(ctx, clientConfig(), sessionID, term.handlers())
	}
	if err != nil {
		return err
	}
	defer c.Close()

	fmt.Fprintln(term.out, titleStyle.Render(fmt.Sprintf(" session #%s as %s ", c.ID(), c.Username())))
	term.info("members: %s", strings.Join(c.Users(), ", "))

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
		case <-c.Done():
			return c.Err()
		case line, ok := <-lines:
			if !ok {
				return c.Leave(ctx)
			}
			cmd, err := parseCommand(line)
			if errors.Is(err, errEmptyLine) {
				continue
			}
			if err != nil {
				term.fail(err)
				continue
			}
			if cmd.kind == commandQuit {
				return c.Leave(ctx)
			}
			if err := execute(ctx, c, term, cmd); err != nil {
				term.fail(err)
			}
		}
	}
}

func execute(ctx context.Context, c *client.Client, term *terminal, cmd command) error {
	switch cmd.kind {
	case commandBroadcast:
		return c.Broadcast(ctx, cmd.text)
	case commandSend:
		return c.Send(ctx, cmd.user, cmd.text)
	case commandAsk:
		actx, cancel := context.WithTimeout(ctx, askTimeout)
		defer cancel()
		reply, err := c.Ask(actx, cmd.user, cmd.text)
		if err != nil {
			return err
		}
		term.message(cmd.user, reply)
		return nil
	case commandUsers:
		term.info("members: %s", strings.Join(c.Users(), ", "))
		return nil
	default:
		return errors.Newf("unsupported command %d", cmd.kind)
	}
}
