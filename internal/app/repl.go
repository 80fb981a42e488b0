package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// target selects which conversation plain input is sent to.
type target string

const (
	targetChat  target = "chat"
	targetGroup target = "group"
)

// command is one parsed input line.
type command struct {
	name string // empty for plain messages
	arg  string
	text string
}

// parseLine splits an input line into a slash command or a plain message.
func parseLine(line string) (command, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return command{}, false
	}
	if !strings.HasPrefix(trimmed, "/") {
		return command{text: trimmed}, true
	}
	name, arg, _ := strings.Cut(trimmed[1:], " ")
	return command{name: strings.ToLower(name), arg: strings.TrimSpace(arg)}, true
}

// repl reads input lines until EOF, /quit, or context cancellation.
func (a *App) repl(ctx context.Context, input io.Reader) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(input)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	current := targetChat
	fmt.Fprintln(a.out, "* type /help for commands")

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			cmd, ok := parseLine(line)
			if !ok {
				continue
			}
			if cmd.name == "quit" {
				return
			}
			current = a.dispatch(cmd, current)
		}
	}
}

func (a *App) dispatch(cmd command, current target) target {
	switch cmd.name {
	case "":
		a.send(current, cmd.text)
	case "mode":
		switch target(cmd.arg) {
		case targetChat, targetGroup:
			current = target(cmd.arg)
			fmt.Fprintf(a.out, "* now talking to %s\n", current)
		default:
			fmt.Fprintln(a.out, "* usage: /mode chat|group")
		}
	case "join":
		if cmd.arg == "" {
			fmt.Fprintln(a.out, "* usage: /join <nickname>")
			return current
		}
		if err := a.group.JoinRoom(cmd.arg); err != nil {
			fmt.Fprintf(a.out, "* join failed: %v\n", err)
			return current
		}
		current = targetGroup
	case "leave":
		a.group.LeaveRoom()
	case "users":
		users := a.group.Users()
		fmt.Fprintf(a.out, "* %d online\n", len(users))
		for _, u := range users {
			fmt.Fprintf(a.out, "*   %s\n", u.Nickname)
		}
	case "attach":
		if cmd.arg == "" {
			fmt.Fprintln(a.out, "* usage: /attach <path>")
			return current
		}
		if _, err := a.chat.Staging().AddPath(cmd.arg); err != nil {
			fmt.Fprintf(a.out, "* attach failed: %v\n", err)
			return current
		}
		fmt.Fprintf(a.out, "* staged %s\n", cmd.arg)
	case "clear":
		a.chat.Store().Clear()
		a.mu.Lock()
		a.chatPrinted = 0
		a.mu.Unlock()
	case "help":
		fmt.Fprintln(a.out, "* /mode chat|group, /join <nickname>, /leave, /users, /attach <path>, /clear, /quit")
	default:
		fmt.Fprintf(a.out, "* unknown command /%s\n", cmd.name)
	}
	return current
}

func (a *App) send(current target, text string) {
	switch current {
	case targetChat:
		if !a.chat.SendMessage(text) {
			fmt.Fprintln(a.out, "* send failed")
		}
	case targetGroup:
		if !a.group.SendMessage(text, nil) {
			fmt.Fprintln(a.out, "* send failed, join a room first")
		}
	}
}
