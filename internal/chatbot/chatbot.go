package chatbot

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"AraChat/internal/geo"
	"AraChat/internal/session"
)

// ChatBot is the terminal front-end for a Conversation
type ChatBot struct {
	conv   *Conversation
	model  string
	logger *slog.Logger
	in     io.Reader
	out    io.Writer
}

// NewChatBot creates a REPL reading from in and writing to out
func NewChatBot(conv *Conversation, model string, in io.Reader, out io.Writer, logger *slog.Logger) *ChatBot {
	return &ChatBot{
		conv:   conv,
		model:  model,
		logger: logger,
		in:     in,
		out:    out,
	}
}

// Run reads utterances and commands until EOF or /quit
func (cb *ChatBot) Run(ctx context.Context) error {
	fmt.Fprintln(cb.out, "=== A.R.A. ===")
	fmt.Fprintf(cb.out, "Conversation: %s\n", cb.conv.ID())
	fmt.Fprintf(cb.out, "Model: %s\n", cb.model)
	fmt.Fprintln(cb.out, "Type /help for commands, /quit to exit")
	fmt.Fprintln(cb.out)

	greeting, _ := cb.conv.Snapshot().At(0)
	cb.printMessage(1, greeting)

	scanner := bufio.NewScanner(cb.in)

	for {
		fmt.Fprint(cb.out, "You: ")
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			shouldQuit, err := cb.handleCommand(ctx, input)
			if err != nil {
				fmt.Fprintf(cb.out, "Error: %v\n", err)
				cb.logger.Error("command error", "error", err)
			}
			if shouldQuit {
				break
			}
			continue
		}

		fmt.Fprintln(cb.out, "A.R.A. is thinking...")
		log, err := cb.conv.Send(ctx, input, nil)
		if err != nil {
			fmt.Fprintf(cb.out, "Error: %v\n", err)
			cb.logger.Error("failed to send message", "error", err)
			continue
		}

		reply, _ := log.At(log.Len() - 1)
		cb.printMessage(log.Len(), reply)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	fmt.Fprintln(cb.out, "Goodbye!")
	return nil
}

// handleCommand handles slash commands
func (cb *ChatBot) handleCommand(ctx context.Context, cmd string) (bool, error) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return false, nil
	}

	switch parts[0] {
	case "/quit", "/exit":
		return true, nil

	case "/history":
		for i, m := range cb.conv.Snapshot().All() {
			cb.printMessage(i+1, m)
		}
		return false, nil

	case "/location":
		if len(parts) == 2 && parts[1] == "off" {
			cb.conv.Location().Clear()
			fmt.Fprintln(cb.out, "Location disabled")
			return false, nil
		}
		if len(parts) != 3 {
			return false, fmt.Errorf("usage: /location <lat> <lng> | /location off")
		}
		lat, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return false, fmt.Errorf("invalid latitude: %w", err)
		}
		lng, err := strconv.ParseFloat(parts[2], 64)
		if err != nil {
			return false, fmt.Errorf("invalid longitude: %w", err)
		}
		if err := cb.conv.Location().Set(geo.Location{Latitude: lat, Longitude: lng}); err != nil {
			return false, err
		}
		fmt.Fprintln(cb.out, "Location active")
		return false, nil

	case "/rate":
		if len(parts) != 3 {
			return false, fmt.Errorf("usage: /rate <message#> <1-5>")
		}
		id, stars, err := cb.parseTarget(parts[1], parts[2])
		if err != nil {
			return false, err
		}
		log := cb.conv.Rate(id, stars)
		cb.reportFeedback(log, id)
		return false, nil

	case "/comment":
		if len(parts) < 3 {
			return false, fmt.Errorf("usage: /comment <message#> <1-5> [text]")
		}
		id, stars, err := cb.parseTarget(parts[1], parts[2])
		if err != nil {
			return false, err
		}
		text := strings.Join(parts[3:], " ")
		log := cb.conv.Comment(ctx, id, stars, text)
		cb.reportFeedback(log, id)
		return false, nil

	case "/help":
		fmt.Fprintln(cb.out, "Available commands:")
		fmt.Fprintln(cb.out, "  /quit, /exit                    - Exit")
		fmt.Fprintln(cb.out, "  /history                        - Show the conversation")
		fmt.Fprintln(cb.out, "  /location <lat> <lng> | off     - Set or clear your location")
		fmt.Fprintln(cb.out, "  /rate <message#> <1-5>          - Rate an answer")
		fmt.Fprintln(cb.out, "  /comment <message#> <1-5> [txt] - Submit rating and comment")
		fmt.Fprintln(cb.out, "  /help                           - Show this help message")
		return false, nil

	default:
		return false, fmt.Errorf("unknown command: %s", parts[0])
	}
}

// parseTarget resolves a 1-based message number and a star value
func (cb *ChatBot) parseTarget(pos, stars string) (string, int, error) {
	n, err := strconv.Atoi(pos)
	if err != nil {
		return "", 0, fmt.Errorf("invalid message number: %s", pos)
	}
	m, ok := cb.conv.Snapshot().At(n - 1)
	if !ok {
		return "", 0, fmt.Errorf("no message #%d", n)
	}
	rating, err := strconv.Atoi(stars)
	if err != nil {
		return "", 0, fmt.Errorf("invalid rating: %s", stars)
	}
	return m.ID, rating, nil
}

func (cb *ChatBot) reportFeedback(log session.Log, id string) {
	m, _ := log.Find(id)
	switch {
	case m.Feedback == nil:
		fmt.Fprintln(cb.out, "Feedback not accepted for that message")
	case m.Feedback.Submitted:
		fmt.Fprintln(cb.out, "Thanks for your feedback!")
	default:
		fmt.Fprintf(cb.out, "Rated %d/5. Use /comment to submit.\n", m.Feedback.Rating)
	}
}

func (cb *ChatBot) printMessage(pos int, m session.Message) {
	who := "You"
	if m.Role == session.RoleModel {
		who = "A.R.A."
	}
	fmt.Fprintf(cb.out, "[%d] %s: %s\n", pos, who, m.Text)

	if m.Grounding != nil {
		for _, c := range m.Grounding.Chunks {
			fmt.Fprintf(cb.out, "    [%s] %s  %s\n", c.Kind(), c.Label(), c.URI())
		}
	}
	if fb := m.Feedback; fb != nil {
		status := "rated"
		if fb.Submitted {
			status = "submitted"
		}
		fmt.Fprintf(cb.out, "    feedback: %d/5 (%s)\n", fb.Rating, status)
	}
	fmt.Fprintln(cb.out)
}
