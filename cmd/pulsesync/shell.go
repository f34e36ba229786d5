package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/vedran77/pulsesync/internal/domain"
	"github.com/vedran77/pulsesync/internal/transport/http/api"
)

// sessionEngine is the part of service.Engine the shell drives.
type sessionEngine interface {
	Start(ctx context.Context) (*domain.Identity, error)
	Login(ctx context.Context, username, password string) (*domain.Identity, error)
	Logout(ctx context.Context, reason string) error
	OpenConversation(ctx context.Context, key domain.ConversationKey) error
	LoadOlder(ctx context.Context, key domain.ConversationKey) error
	SetActive(ctx context.Context, key domain.ConversationKey) error
	SetVisible(ctx context.Context, visible bool) error
	SendMessage(ctx context.Context, key domain.ConversationKey, content domain.Content) (*domain.Message, error)
	DeleteMessage(ctx context.Context, messageID string) error
	Pin(ctx context.Context, key domain.ConversationKey) error
	Unpin(ctx context.Context, key domain.ConversationKey) error
	Search(ctx context.Context, query string) (*api.SearchResults, error)
	SelectFromSearch(ctx context.Context, s domain.ConversationSummary) (domain.ConversationSummary, error)

	Identity() *domain.Identity
	Conversations() []domain.ConversationSummary
	Messages(key domain.ConversationKey) ([]domain.Message, bool)
	HasMore(key domain.ConversationKey) bool
	Unread() []domain.UnreadEntry
	TotalUnread() int
	Presence(key domain.ConversationKey) (domain.PresenceEntry, bool)
	Connected() bool
}

var errUsage = errors.New("wrong arguments, try \"help\"")

const helpText = `commands:
  list                      conversations, pinned first
  open <key>                open a conversation (keys look like user-42, admin-7, group-3)
  older <key>               load older messages
  close                     leave the open conversation
  send <key> <text...>      send a text message
  image <key> <url> [text]  send an image with an optional caption
  file <key> <url> [text]   send a file with an optional caption
  delete <message-id>       delete a message
  pin <key> | unpin <key>   move a conversation between partitions
  search <query>            find people and groups
  select <n>                start a conversation from the last search
  unread                    unread counts
  presence <key>            online status of a counterparty
  away | back               mark the window hidden or visible
  whoami                    current identity and stream state
  logout                    end the session
  quit                      exit
`

type shell struct {
	engine sessionEngine
	in     io.Reader

	mu      sync.Mutex
	out     io.Writer
	results []domain.ConversationSummary
}

func newShell(engine sessionEngine, in io.Reader, out io.Writer) *shell {
	return &shell{engine: engine, in: in, out: out}
}

func (s *shell) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, format, args...)
}

// onRedirect runs on the engine loop and must not call back into the engine.
func (s *shell) onRedirect(target string) {
	s.printf("session ended, sign in again at %s\n", target)
}

func (s *shell) begin(ctx context.Context, username, password string) error {
	var (
		id  *domain.Identity
		err error
	)
	if username != "" {
		id, err = s.engine.Login(ctx, username, password)
	} else {
		id, err = s.engine.Start(ctx)
	}
	if err != nil {
		return fmt.Errorf("starting session: %w", err)
	}
	s.printf("signed in as %s (%s), %d unread\n", id.Username, id.Role, s.engine.TotalUnread())
	return nil
}

func (s *shell) loop(ctx context.Context) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(s.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	s.printf("> ")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := s.exec(ctx, line)
			if err != nil {
				s.printf("error: %v\n", err)
			}
			if quit {
				return nil
			}
			s.printf("> ")
		}
	}
}

// exec runs one command line and reports whether the shell should exit.
func (s *shell) exec(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	name, args := fields[0], fields[1:]

	switch name {
	case "help":
		s.printf("%s", helpText)

	case "list":
		counts := make(map[domain.ConversationKey]int)
		for _, e := range s.engine.Unread() {
			counts[e.Key] = e.Count
		}
		for _, c := range s.engine.Conversations() {
			s.printf("%s\n", formatSummary(c, counts[c.Key]))
		}

	case "open", "older":
		key, err := keyArg(args)
		if err != nil {
			return false, err
		}
		if name == "open" {
			err = s.engine.OpenConversation(ctx, key)
		} else {
			err = s.engine.LoadOlder(ctx, key)
		}
		if err != nil {
			return false, err
		}
		s.printMessages(key)

	case "close":
		return false, s.engine.SetActive(ctx, domain.ConversationKey{})

	case "send", "image", "file":
		key, content, err := contentArgs(name, args)
		if err != nil {
			return false, err
		}
		msg, err := s.engine.SendMessage(ctx, key, content)
		if err != nil {
			return false, err
		}
		s.printf("queued %s\n", msg.ID)

	case "delete":
		if len(args) != 1 {
			return false, errUsage
		}
		return false, s.engine.DeleteMessage(ctx, args[0])

	case "pin", "unpin":
		key, err := keyArg(args)
		if err != nil {
			return false, err
		}
		if name == "pin" {
			return false, s.engine.Pin(ctx, key)
		}
		return false, s.engine.Unpin(ctx, key)

	case "search":
		if len(args) == 0 {
			return false, errUsage
		}
		res, err := s.engine.Search(ctx, strings.Join(args, " "))
		if err != nil {
			return false, err
		}
		results := res.Summaries()
		s.mu.Lock()
		s.results = results
		s.mu.Unlock()
		for i, r := range results {
			s.printf("%2d. %-12s %s\n", i+1, r.Key, r.Title())
		}

	case "select":
		if len(args) != 1 {
			return false, errUsage
		}
		n, err := strconv.Atoi(args[0])
		s.mu.Lock()
		results := s.results
		s.mu.Unlock()
		if err != nil || n < 1 || n > len(results) {
			return false, fmt.Errorf("no search result %q", args[0])
		}
		picked, err := s.engine.SelectFromSearch(ctx, results[n-1])
		if err != nil {
			return false, err
		}
		if err := s.engine.OpenConversation(ctx, picked.Key); err != nil {
			return false, err
		}
		s.printMessages(picked.Key)

	case "unread":
		for _, e := range s.engine.Unread() {
			if e.Count == 0 {
				continue
			}
			s.printf("%-12s %3d  %s\n", e.Key, e.Count, e.LastPreview)
		}
		s.printf("total %d\n", s.engine.TotalUnread())

	case "presence":
		key, err := keyArg(args)
		if err != nil {
			return false, err
		}
		p, ok := s.engine.Presence(key)
		if !ok {
			s.printf("%s: unknown\n", key)
			break
		}
		s.printf("%s\n", formatPresence(key, p))

	case "away", "back":
		return false, s.engine.SetVisible(ctx, name == "back")

	case "whoami":
		id := s.engine.Identity()
		if id == nil {
			s.printf("not signed in\n")
			break
		}
		s.printf("%s (%s, %s) stream connected: %t\n", id.Username, id.Role, id.Key(), s.engine.Connected())

	case "logout":
		return true, s.engine.Logout(ctx, "")

	case "quit", "exit":
		return true, nil

	default:
		return false, fmt.Errorf("unknown command %q, try \"help\"", name)
	}
	return false, nil
}

func (s *shell) printMessages(key domain.ConversationKey) {
	msgs, ok := s.engine.Messages(key)
	if !ok {
		return
	}
	if s.engine.HasMore(key) {
		s.printf("  (older messages available)\n")
	}
	for i := range msgs {
		s.printf("%s\n", formatMessage(&msgs[i]))
	}
}

func keyArg(args []string) (domain.ConversationKey, error) {
	if len(args) != 1 {
		return domain.ConversationKey{}, errUsage
	}
	return domain.ParseConversationKey(args[0])
}

func contentArgs(kind string, args []string) (domain.ConversationKey, domain.Content, error) {
	if len(args) < 2 {
		return domain.ConversationKey{}, domain.Content{}, errUsage
	}
	key, err := domain.ParseConversationKey(args[0])
	if err != nil {
		return key, domain.Content{}, err
	}

	if kind == "send" {
		return key, domain.TextContent(strings.Join(args[1:], " ")), nil
	}
	url := args[1]
	var content domain.Content
	if len(args) > 2 {
		content = domain.TextContent(strings.Join(args[2:], " "))
	}
	if kind == "image" {
		content.Image = &url
	} else {
		content.File = &url
	}
	return key, content, nil
}
