package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"collaborative-whiteboard/internal/canvas"
	"collaborative-whiteboard/internal/client"
	"collaborative-whiteboard/internal/domain"
	"collaborative-whiteboard/internal/dto"

	"github.com/docopt/docopt-go"
	"github.com/sanity-io/litter"
	"github.com/sirupsen/logrus"
)

const CanvasClientVersion = "0.1.0"

const requestTimeout = 10 * time.Second

func main() {
	usage := `Headless whiteboard client.

Joins a room and reads drawing commands from stdin, one per line:
    rect <left> <top> <width> <height> [fill]
    circle <left> <top> <radius> [fill]
    text <left> <top> <text...>
    path <x,y> <x,y>...
    move <id> <left> <top>
    remove <id>
    undo | redo | clear
    list | dump | history
    rejoin
    quit

Usage:
    canvas-client create <room_id> [--url=<url>] [--private --password=<password>]
    canvas-client join <room_id> [--url=<url>] [--password=<password>]
        [--username=<username>] [--viewer] [--create] [--debug]
    canvas-client -h | --help
    canvas-client --version

Options:
    -h --help                Show this screen.
    --version                Show version.
    --url=<url>              WebSocket endpoint [default: ws://localhost:8080/ws].
    --password=<password>    Room password (private rooms).
    --private                Create a private room.
    --username=<username>    Display name.
    --viewer                 Join read-only.
    --create                 Create the room (public) before joining.
    --debug                  Verbose logging.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], CanvasClientVersion)
	if err != nil {
		panic(err)
	}

	if create_, _ := opts.Bool("create"); create_ {
		createRoom(opts)
	} else if join_, _ := opts.Bool("join"); join_ {
		joinRoom(opts)
	}
}

func dial(opts docopt.Opts) *client.Session {
	url, _ := opts.String("--url")
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	s, err := client.Dial(ctx, url, client.Options{})
	if err != nil {
		logrus.Fatalf("Failed to connect: %v", err)
	}
	return s
}

func createRoom(opts docopt.Opts) {
	roomID, _ := opts.String("<room_id>")
	password, _ := opts.String("--password")
	visibility := domain.VisibilityPublic
	if private_, _ := opts.Bool("--private"); private_ {
		visibility = domain.VisibilityPrivate
	}

	s := dial(opts)
	defer s.Close()
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if err := s.CreateRoom(ctx, roomID, visibility, password); err != nil {
		logrus.Fatalf("Create room failed: %v", err)
	}
	fmt.Printf("room %s created (%s)\n", roomID, visibility)
}

func joinRoom(opts docopt.Opts) {
	if debug_, _ := opts.Bool("--debug"); debug_ {
		logrus.SetLevel(logrus.DebugLevel)
	}
	roomID, _ := opts.String("<room_id>")
	password, _ := opts.String("--password")
	username, _ := opts.String("--username")
	role := domain.RoleEditor
	if viewer_, _ := opts.Bool("--viewer"); viewer_ {
		role = domain.RoleViewer
	}

	s := dial(opts)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	if create_, _ := opts.Bool("--create"); create_ {
		if err := s.CreateRoom(ctx, roomID, domain.VisibilityPublic, ""); err != nil {
			logrus.Warnf("Create room failed: %v", err)
		}
	}
	joined, err := s.Join(ctx, client.JoinRequest{RoomID: roomID, Password: password, Username: username, Role: role})
	cancel()
	if err != nil {
		logrus.Fatalf("Join failed: %v", err)
	}
	fmt.Printf("joined %s as %s (%s)\n", joined.RoomID, joined.Username, joined.Role)

	go printEvents(s.Events())

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return
			}
			if done := runCommand(s, line); done {
				return
			}
		case <-quit:
			return
		}
	}
}

func printEvents(events <-chan *dto.Envelope) {
	for env := range events {
		switch env.Event {
		case dto.EventObjectAdded, dto.EventObjectModified:
			fmt.Printf("< %s %s\n", env.Event, env.Obj)
		case dto.EventObjectRemoved:
			fmt.Printf("< %s %s\n", env.Event, env.ID)
		case dto.EventCanvasAction:
			fmt.Printf("< %s %s\n", env.Event, env.Action)
		case dto.EventOperationRejected, dto.EventAccessDenied, dto.EventRoomError:
			fmt.Printf("< %s: %s\n", env.Event, env.Message)
		}
	}
}

// runCommand 执行一行命令，返回 true 表示退出
func runCommand(s *client.Session, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	var err error
	switch cmd, args := fields[0], fields[1:]; cmd {
	case "rect":
		err = addShape(ctx, s, args, 4, func(n []float64, rest []string) *domain.CanvasObject {
			return canvas.NewRect(n[0], n[1], n[2], n[3], first(rest))
		})
	case "circle":
		err = addShape(ctx, s, args, 3, func(n []float64, rest []string) *domain.CanvasObject {
			return canvas.NewCircle(n[0], n[1], n[2], first(rest))
		})
	case "text":
		err = addShape(ctx, s, args, 2, func(n []float64, rest []string) *domain.CanvasObject {
			return canvas.NewText(n[0], n[1], strings.Join(rest, " "), "sans-serif", 20)
		})
	case "path":
		var points [][2]float64
		if points, err = parsePoints(args); err == nil {
			obj := canvas.NewPath("#000000", 2, points...)
			if err = s.Add(ctx, obj); err == nil {
				fmt.Println("added", obj.ID)
			}
		}
	case "move":
		if len(args) != 3 {
			err = fmt.Errorf("usage: move <id> <left> <top>")
			break
		}
		var n []float64
		if n, err = parseNumbers(args[1:]); err == nil {
			err = s.Modify(ctx, args[0], domain.Props{"left": n[0], "top": n[1]})
		}
	case "remove":
		if len(args) != 1 {
			err = fmt.Errorf("usage: remove <id>")
			break
		}
		err = s.Remove(ctx, args[0])
	case "undo", "redo":
		var applied bool
		if cmd == "undo" {
			applied, err = s.Undo(ctx)
		} else {
			applied, err = s.Redo(ctx)
		}
		if err == nil && !applied {
			fmt.Println("nothing to", cmd)
		}
	case "clear":
		err = s.Clear(ctx)
	case "list":
		var objs []*domain.CanvasObject
		if objs, err = s.Objects(ctx); err == nil {
			for _, o := range objs {
				fmt.Printf("%s %s %+v\n", o.ID, o.Type, o.Bounds)
			}
		}
	case "dump":
		var snap domain.Snapshot
		if snap, err = s.Snapshot(ctx); err == nil {
			fmt.Println(litter.Sdump(snap))
		}
	case "history":
		var h, r int
		if h, r, err = s.HistoryLen(ctx); err == nil {
			fmt.Printf("history=%d redo=%d\n", h, r)
		}
	case "rejoin":
		var joined *dto.RoomJoined
		if joined, err = s.Rejoin(ctx); err == nil {
			fmt.Printf("rejoined %s as %s\n", joined.RoomID, joined.Username)
		}
	case "quit", "exit":
		return true
	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
	}
	return false
}

func addShape(ctx context.Context, s *client.Session, args []string, numeric int, build func([]float64, []string) *domain.CanvasObject) error {
	if len(args) < numeric {
		return fmt.Errorf("expected %d numeric arguments", numeric)
	}
	n, err := parseNumbers(args[:numeric])
	if err != nil {
		return err
	}
	obj := build(n, args[numeric:])
	if err := s.Add(ctx, obj); err != nil {
		return err
	}
	fmt.Println("added", obj.ID)
	return nil
}

func parseNumbers(args []string) ([]float64, error) {
	out := make([]float64, 0, len(args))
	for _, a := range args {
		f, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", a)
		}
		out = append(out, f)
	}
	return out, nil
}

func parsePoints(args []string) ([][2]float64, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("path needs at least two points")
	}
	points := make([][2]float64, 0, len(args))
	for _, a := range args {
		xy := strings.SplitN(a, ",", 2)
		if len(xy) != 2 {
			return nil, fmt.Errorf("invalid point %q, want x,y", a)
		}
		n, err := parseNumbers(xy)
		if err != nil {
			return nil, err
		}
		points = append(points, [2]float64{n[0], n[1]})
	}
	return points, nil
}

func first(rest []string) string {
	if len(rest) == 0 {
		return ""
	}
	return rest[0]
}
