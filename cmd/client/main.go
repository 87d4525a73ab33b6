package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"

	"polyglot-chat/domain"
	"polyglot-chat/domain/event"
	transport "polyglot-chat/infrastructure/websocket"

	"github.com/gookit/color"
	ws "github.com/gorilla/websocket"
	"github.com/olekukonko/tablewriter"
)

const usage = "Commands: /lang <language>, /users, /history, /quit"

// session keeps what the reader goroutine learns for the prompt loop.
type session struct {
	mu     sync.Mutex
	users  []string
	cursor *string
}

func main() {
	url := flag.String("url", "ws://localhost:8080/ws", "Websocket endpoint")
	name := flag.String("name", "", "Display name")
	lang := flag.String("lang", string(domain.English), "Preferred language")
	room := flag.String("room", domain.DefaultRoom, "Room to join")
	flag.Parse()

	if err := run(*url, *name, *lang, *room); err != nil {
		color.Red.Printf("Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(url, name, lang, room string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("a display name is required (-name)")
	}
	conn, _, err := ws.DefaultDialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer conn.Close()

	s := &session{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.read(conn)
	}()

	if err := send(conn, transport.JoinChat, domain.JoinRequest{DisplayName: name, Language: lang, Room: room}); err != nil {
		return err
	}
	color.Gray.Println(usage)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-done:
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := s.handleInput(conn, strings.TrimSpace(line))
			if err != nil {
				return err
			}
			if quit {
				_ = conn.WriteMessage(ws.CloseMessage, ws.FormatCloseMessage(ws.CloseNormalClosure, ""))
				return nil
			}
		}
	}
}

func (s *session) handleInput(conn *ws.Conn, line string) (bool, error) {
	switch {
	case line == "":
		return false, nil
	case line == "/quit":
		return true, nil
	case line == "/users":
		s.printUsers()
		return false, nil
	case line == "/history":
		s.mu.Lock()
		cursor := s.cursor
		s.mu.Unlock()
		return false, send(conn, transport.LoadHistory, domain.HistoryRequest{Cursor: cursor})
	case strings.HasPrefix(line, "/lang "):
		return false, send(conn, transport.ChangeLanguage,
			domain.ChangeLanguageRequest{Language: strings.TrimSpace(strings.TrimPrefix(line, "/lang "))})
	case strings.HasPrefix(line, "/"):
		color.Gray.Println(usage)
		return false, nil
	default:
		return false, send(conn, transport.SendMessage, domain.SendRequest{Content: line})
	}
}

func send(conn *ws.Conn, frameType string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return conn.WriteJSON(transport.Frame{Type: frameType, Data: raw})
}

func (s *session) read(conn *ws.Conn) {
	for {
		var frame transport.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			color.Gray.Println("Disconnected")
			return
		}
		s.print(frame)
	}
}

func (s *session) print(frame transport.Frame) {
	switch frame.Type {
	case "receive_message":
		var m event.ReceiveMessage
		if decode(frame, &m) {
			printMessage(m)
		}
	case "user_joined":
		var e event.UserJoined
		if decode(frame, &e) {
			color.Yellow.Printf("* %s\n", e.Message)
		}
	case "user_left":
		var e event.UserLeft
		if decode(frame, &e) {
			color.Yellow.Printf("* %s\n", e.Message)
		}
	case "update_users":
		var e event.UpdateUsers
		if decode(frame, &e) {
			s.mu.Lock()
			s.users = e.DisplayNames
			s.mu.Unlock()
		}
	case "join_success":
		var e event.JoinSuccess
		if decode(frame, &e) {
			color.Magenta.Printf("Joined %s as %s, reading in %s\n", e.Room, e.DisplayName, e.Language.DisplayName())
		}
	case "language_changed":
		var e event.LanguageChanged
		if decode(frame, &e) {
			color.Magenta.Printf("Language changed from %s to %s\n", e.PreviousLanguage.DisplayName(), e.Language.DisplayName())
		}
	case "history":
		var e event.History
		if decode(frame, &e) {
			s.mu.Lock()
			s.cursor = e.Cursor
			s.mu.Unlock()
			color.Gray.Printf("--- %d older messages ---\n", len(e.Messages))
			for _, m := range e.Messages {
				printMessage(m)
			}
		}
	case "error":
		var e event.Error
		if decode(frame, &e) {
			color.Red.Println(e.Message)
		}
	}
}

func decode(frame transport.Frame, out any) bool {
	if err := json.Unmarshal(frame.Data, out); err != nil {
		color.Red.Printf("Unreadable %s frame: %v\n", frame.Type, err)
		return false
	}
	return true
}

func printMessage(m event.ReceiveMessage) {
	at := m.Timestamp.Local().Format("15:04")
	switch {
	case m.IsOwn:
		color.Green.Printf("[%s] %s: %s\n", at, m.SenderDisplayName, m.Content)
	case m.IsTranslated:
		color.Cyan.Printf("[%s] %s: %s ", at, m.SenderDisplayName, m.Content)
		color.Gray.Printf("(from %s)\n", m.OriginalLanguage.DisplayName())
	default:
		fmt.Printf("[%s] %s: %s\n", at, m.SenderDisplayName, m.Content)
	}
}

func (s *session) printUsers() {
	s.mu.Lock()
	users := append([]string(nil), s.users...)
	s.mu.Unlock()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"#", "Participant"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	for i, user := range users {
		table.Append([]string{fmt.Sprint(i + 1), user})
	}
	table.Render()
}
