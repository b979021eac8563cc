package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/tictactoe-backend/internal/ai"
	"github.com/DoyleJ11/tictactoe-backend/internal/client"
	"github.com/DoyleJ11/tictactoe-backend/internal/engine"
	"github.com/DoyleJ11/tictactoe-backend/internal/logging"
)

type options struct {
	mode       string
	url        string
	username   string
	room       string
	difficulty string
	delay      time.Duration
}

func main() {
	var opts options
	flag.StringVar(&opts.mode, "mode", "ai", "ai for single-player, net for online play")
	flag.StringVar(&opts.url, "url", "ws://localhost:8080/ws", "server websocket url")
	flag.StringVar(&opts.username, "username", "player", "display name")
	flag.StringVar(&opts.room, "room", "", "room code to join; empty creates a room")
	flag.StringVar(&opts.difficulty, "difficulty", "hard", "ai difficulty: easy, medium or hard")
	flag.DurationVar(&opts.delay, "delay", client.DefaultAIDelay, "ai thinking time")
	flag.Parse()

	if err := run(opts); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(opts options) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := logging.New("warn", "console")
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	observe := client.WithObserver(func(s client.Snapshot) { render(os.Stdout, s) })

	var ctrl *client.Controller
	switch opts.mode {
	case "ai":
		d, err := ai.ParseDifficulty(opts.difficulty)
		if err != nil {
			return err
		}
		ctrl = client.NewSinglePlayer(ai.New(d, nil), opts.delay, observe)
		render(os.Stdout, ctrl.Snapshot())

	case "net":
		conn, err := client.Dial(ctx, opts.url, logger)
		if err != nil {
			return err
		}
		defer conn.Close()
		ctrl = client.NewNetworked(conn, observe)

		go func() {
			if err := conn.Run(ctx, ctrl); err != nil {
				logger.Error("connection lost", zap.Error(err))
			}
			stop()
		}()

		if opts.room == "" {
			err = ctrl.CreateRoom(ctx, opts.username)
		} else {
			err = ctrl.JoinRoom(ctx, opts.username, opts.room)
		}
		if err != nil {
			return err
		}

	default:
		return fmt.Errorf("unknown mode %q", opts.mode)
	}

	return prompt(ctx, os.Stdin, os.Stdout, ctrl)
}

// prompt reads commands until q, EOF or ctx ends: 1-9 plays a cell, r
// restarts.
func prompt(ctx context.Context, in io.Reader, out io.Writer, ctrl *client.Controller) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- strings.TrimSpace(sc.Text())
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			switch line {
			case "":
				continue
			case "q":
				return nil
			case "r":
				if err := ctrl.Restart(ctx); err != nil {
					fmt.Fprintln(out, err)
				}
				continue
			}
			cell, err := strconv.Atoi(line)
			if err != nil {
				fmt.Fprintln(out, "enter 1-9, r to restart, q to quit")
				continue
			}
			if err := ctrl.Play(ctx, cell-1); err != nil {
				fmt.Fprintln(out, err)
			}
		}
	}
}

func render(w io.Writer, s client.Snapshot) {
	var b strings.Builder
	if s.RoomID != "" {
		fmt.Fprintf(&b, "room %s", s.RoomID)
		if s.Me != engine.Empty {
			fmt.Fprintf(&b, " | you are %s", s.Me)
		}
		b.WriteString("\n")
	}
	for row := range 3 {
		for col := range 3 {
			i := row*3 + col
			cell := string(s.Board[i])
			if cell == "" {
				cell = strconv.Itoa(i + 1)
			}
			b.WriteString(" " + cell + " ")
			if col < 2 {
				b.WriteString("|")
			}
		}
		b.WriteString("\n")
		if row < 2 {
			b.WriteString("---+---+---\n")
		}
	}
	b.WriteString(s.Status + "\n")
	fmt.Fprint(w, b.String())
}
