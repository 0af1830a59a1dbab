package history

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/dwizi/mind-bridge/internal/chat"
	"github.com/dwizi/mind-bridge/internal/llm"
	"github.com/dwizi/mind-bridge/internal/tokenizer"
)

// MaxSerializedBytes caps the JSON encoding of the retained log.
const MaxSerializedBytes = 15000

type Message struct {
	ID        int          `json:"id" bson:"id"`
	Name      string       `json:"name" bson:"name"`
	Text      string       `json:"text" bson:"text"`
	Photo     []chat.Photo `json:"photo,omitempty" bson:"photo,omitempty"`
	ReplyToID int          `json:"reply_to_id,omitempty" bson:"reply_to_id,omitempty"`
	IsAI      bool         `json:"is_ai" bson:"is_ai"`
}

// FromChat converts an inbound message. selfID is the bot's own user id; only
// its messages are marked as AI turns.
func FromChat(message chat.Message, selfID int64) Message {
	return Message{
		ID:        message.ID,
		Name:      message.SenderName(),
		Text:      message.Text,
		Photo:     message.Photo,
		ReplyToID: message.ReplyToID,
		IsAI:      selfID != 0 && message.FromID == selfID,
	}
}

// TagWithID renders the id-labelled form the model answers with.
func TagWithID(id int, text string) string {
	return strconv.Itoa(id) + ":" + text
}

type TreeRoles string

const (
	// TreeRolesUser emits every reply-tree entry as a user turn.
	TreeRolesUser TreeRoles = "user"
	// TreeRolesAuthor gives the bot's own entries the assistant role.
	TreeRolesAuthor TreeRoles = "author"
)

func ParseTreeRoles(value string) TreeRoles {
	if TreeRoles(strings.ToLower(strings.TrimSpace(value))) == TreeRolesAuthor {
		return TreeRolesAuthor
	}
	return TreeRolesUser
}

type Option func(*Log)

func WithTreeRoles(roles TreeRoles) Option {
	return func(log *Log) {
		log.treeRoles = roles
	}
}

// Log is the per-conversation message log. It is not safe for concurrent use;
// every update works on its own copy loaded from the session store.
type Log struct {
	messages  []Message
	sizes     []int
	counter   tokenizer.Counter
	treeRoles TreeRoles
}

func New(messages []Message, counter tokenizer.Counter, opts ...Option) *Log {
	if counter == nil {
		counter = tokenizer.Estimate{}
	}
	log := &Log{
		messages:  make([]Message, 0, len(messages)+2),
		sizes:     make([]int, 0, len(messages)+2),
		counter:   counter,
		treeRoles: TreeRolesUser,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(log)
		}
	}
	seen := make(map[int]struct{}, len(messages))
	for _, message := range messages {
		if _, ok := seen[message.ID]; ok {
			continue
		}
		seen[message.ID] = struct{}{}
		log.messages = append(log.messages, message)
		log.sizes = append(log.sizes, encodedSize(message))
	}
	log.enforceCap()
	return log
}

// Messages returns a copy of the retained entries, oldest first.
func (l *Log) Messages() []Message {
	out := make([]Message, len(l.messages))
	copy(out, l.messages)
	return out
}

func (l *Log) Len() int {
	return len(l.messages)
}

func (l *Log) Find(id int) (Message, bool) {
	index := l.indexOf(id)
	if index < 0 {
		return Message{}, false
	}
	return l.messages[index], true
}

// Save appends message unless an entry with the same id exists or the message
// has neither photo nor non-blank text. Oldest entries are then dropped until
// the serialized log fits MaxSerializedBytes.
func (l *Log) Save(message Message) bool {
	if !chat.HasText(message.Text) && len(message.Photo) == 0 {
		return false
	}
	if l.indexOf(message.ID) >= 0 {
		return false
	}
	l.messages = append(l.messages, message)
	l.sizes = append(l.sizes, encodedSize(message))
	l.enforceCap()
	return true
}

// UpdateText edits an entry in place. Unknown ids are ignored.
func (l *Log) UpdateText(id int, text string) bool {
	index := l.indexOf(id)
	if index < 0 {
		return false
	}
	l.messages[index].Text = text
	l.sizes[index] = encodedSize(l.messages[index])
	l.enforceCap()
	return true
}

// SerializedSize is the byte length of json.Marshal(l.Messages()).
func (l *Log) SerializedSize() int {
	if len(l.messages) == 0 {
		return 2
	}
	total := 2 + len(l.sizes) - 1
	for _, size := range l.sizes {
		total += size
	}
	return total
}

// History returns the longest run of most recent entries whose token count
// stays within tokenLimit, in chronological order. Entries with blank text are
// skipped.
func (l *Log) History(tokenLimit int, tagWithIDs bool) []llm.Turn {
	turns := make([]llm.Turn, 0, len(l.messages))
	total := 0
	for index := len(l.messages) - 1; index >= 0; index-- {
		message := l.messages[index]
		if !chat.HasText(message.Text) {
			continue
		}
		content := message.Text
		if tagWithIDs {
			content = TagWithID(message.ID, message.Text)
		}
		cost := l.counter.Count(content)
		if total+cost > tokenLimit {
			break
		}
		total += cost
		role := llm.RoleUser
		if message.IsAI {
			role = llm.RoleAssistant
		}
		turns = append(turns, llm.Turn{Role: role, Text: content, MessageID: message.ID})
	}
	reverseTurns(turns)
	return turns
}

// ReplyTree follows reply links from incoming back through the log. The
// incoming message is always the last turn; ancestors are added newest
// first while the token budget allows and emitted oldest first. The walk
// stops at a root, a missing ancestor, a repeated id or the budget.
func (l *Log) ReplyTree(incoming Message, tokenLimit int) []llm.Turn {
	turns := make([]llm.Turn, 0, 8)
	total := 0
	if chat.HasText(incoming.Text) {
		content := TagWithID(incoming.ID, incoming.Text)
		total = l.counter.Count(content)
		turns = append(turns, llm.Turn{Role: llm.RoleUser, Text: content, MessageID: incoming.ID})
	}

	visited := map[int]struct{}{incoming.ID: {}}
	next := incoming.ReplyToID
	for next != 0 {
		if _, seen := visited[next]; seen {
			break
		}
		visited[next] = struct{}{}
		ancestor, ok := l.Find(next)
		if !ok {
			break
		}
		next = ancestor.ReplyToID
		if !chat.HasText(ancestor.Text) {
			continue
		}
		content := TagWithID(ancestor.ID, ancestor.Text)
		cost := l.counter.Count(content)
		if total+cost > tokenLimit {
			break
		}
		total += cost
		role := llm.RoleUser
		if ancestor.IsAI && l.treeRoles == TreeRolesAuthor {
			role = llm.RoleAssistant
		}
		turns = append(turns, llm.Turn{Role: role, Text: content, MessageID: ancestor.ID})
	}
	reverseTurns(turns)
	return turns
}

// Tokens sums the text token counts of turns, ignoring images.
func Tokens(counter tokenizer.Counter, turns []llm.Turn) int {
	total := 0
	for _, turn := range turns {
		total += counter.Count(turn.PlainText())
	}
	return total
}

func (l *Log) indexOf(id int) int {
	for index := range l.messages {
		if l.messages[index].ID == id {
			return index
		}
	}
	return -1
}

func (l *Log) enforceCap() {
	drop := 0
	size := l.SerializedSize()
	for drop < len(l.messages) && size > MaxSerializedBytes {
		size -= l.sizes[drop]
		if len(l.messages)-drop > 1 {
			size--
		}
		drop++
	}
	if drop == 0 {
		return
	}
	l.messages = append(l.messages[:0:0], l.messages[drop:]...)
	l.sizes = append(l.sizes[:0:0], l.sizes[drop:]...)
}

func encodedSize(message Message) int {
	encoded, err := json.Marshal(message)
	if err != nil {
		return 0
	}
	return len(encoded)
}

func reverseTurns(turns []llm.Turn) {
	for left, right := 0, len(turns)-1; left < right; left, right = left+1, right-1 {
		turns[left], turns[right] = turns[right], turns[left]
	}
}
