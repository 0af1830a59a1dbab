package memorylog

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

type Entry struct {
	Connector string
	ChatID    string
	ChatTitle string
	Direction string
	MessageID int
	ActorName string
	Text      string
	Timestamp time.Time
}

var pathSanitizer = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// Writer appends Markdown transcripts under root/<connector>/<chat>.md. A
// Writer with an empty root is disabled.
type Writer struct {
	root string
	mu   sync.Mutex
}

func New(root string) *Writer {
	return &Writer{root: strings.TrimSpace(root)}
}

func (w *Writer) Enabled() bool {
	return w != nil && w.root != ""
}

func (w *Writer) Append(entry Entry) error {
	if !w.Enabled() {
		return nil
	}
	text := strings.TrimSpace(entry.Text)
	if text == "" {
		return nil
	}

	connector := sanitizeSegment(entry.Connector)
	if connector == "" {
		connector = "unknown"
	}
	chatID := sanitizeSegment(entry.ChatID)
	if chatID == "" {
		chatID = "unknown"
	}
	timestamp := entry.Timestamp.UTC()
	if entry.Timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}
	direction := strings.TrimSpace(strings.ToLower(entry.Direction))
	if direction == "" {
		direction = DirectionInbound
	}
	actor := strings.TrimSpace(entry.ActorName)
	if actor == "" {
		actor = "unknown"
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	baseDir := filepath.Join(w.root, connector)
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}
	logPath := filepath.Join(baseDir, chatID+".md")

	header := ""
	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		header = fmt.Sprintf("# Chat Log\n\n- connector: `%s`\n- chat_id: `%s`\n- title: `%s`\n\n", connector, chatID, strings.TrimSpace(entry.ChatTitle))
	}
	body := fmt.Sprintf(
		"## %s `%s`\n- message_id: `%d`\n- actor: `%s`\n\n%s\n\n",
		timestamp.Format(time.RFC3339),
		strings.ToUpper(direction),
		entry.MessageID,
		actor,
		text,
	)

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	if header != "" {
		if _, err := file.WriteString(header); err != nil {
			return err
		}
	}
	_, err = file.WriteString(body)
	return err
}

func sanitizeSegment(value string) string {
	trimmed := strings.TrimSpace(value)
	trimmed = strings.ReplaceAll(trimmed, " ", "-")
	trimmed = pathSanitizer.ReplaceAllString(trimmed, "-")
	trimmed = strings.Trim(trimmed, ".")
	return strings.ToLower(trimmed)
}
