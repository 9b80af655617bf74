package main

import (
	"strings"

	"github.com/cockroachdb/errors"
)

type commandKind int

const (
	commandBroadcast commandKind = iota
	commandSend
	commandAsk
	commandUsers
	commandQuit
)

// command is one parsed line of terminal input.
type command struct {
	kind commandKind
	user string
	text string
}

var errEmptyLine = errors.New("empty line")

// parseCommand parses a line typed by the user.
// Lines not starting with "/" are broadcasts; "//" escapes a leading slash.
func parseCommand(line string) (command, error) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return command{}, errEmptyLine
	}
	if !strings.HasPrefix(line, "/") {
		return command{kind: commandBroadcast, text: line}, nil
	}
	if strings.HasPrefix(line, "//") {
		return command{kind: commandBroadcast, text: line[1:]}, nil
	}

	name, rest, _ := strings.Cut(line[1:], " ")
	switch name {
	case "users":
		return command{kind: commandUsers}, nil
	case "quit", "leave":
		return command{kind: commandQuit}, nil
	case "to", "ask":
		user, text, ok := strings.Cut(strings.TrimLeft(rest, " "), " ")
		if !ok || user == "" || text == "" {
			return command{}, errors.Newf("usage: /%s <user> <text>", name)
		}
		kind := commandSend
		if name == "ask" {
			kind = commandAsk
		}
		return command{kind: kind, user: user, text: text}, nil
	default:
		return command{}, errors.Newf("unknown command /%s", name)
	}
}
