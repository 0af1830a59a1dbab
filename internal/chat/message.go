package chat

import "strings"

const (
	TypePrivate    = "private"
	TypeGroup      = "group"
	TypeSupergroup = "supergroup"
	TypeChannel    = "channel"
)

// ChannelForwarderID is the platform account that relays channel posts into
// the linked discussion group.
const ChannelForwarderID int64 = 777000

const anonymousName = "Anon"

type Photo struct {
	FileID   string `json:"file_id" bson:"file_id"`
	FileSize int    `json:"file_size" bson:"file_size"`
}

// Message is an inbound chat message stripped of platform types.
type Message struct {
	ID                  int
	ChatID              int64
	ChatType            string
	ChatTitle           string
	FromID              int64
	FromFirstName       string
	FromUsername        string
	Text                string
	Photo               []Photo
	ReplyToID           int
	ReplyToFromID       int64
	ForwardFromChatType string
	ForwardFromTitle    string
}

func (m Message) HasPhoto() bool {
	return len(m.Photo) > 0
}

// HasText reports whether text carries anything beyond whitespace.
func HasText(text string) bool {
	return strings.TrimSpace(text) != ""
}

func (m Message) HasBody() bool {
	return HasText(m.Text) || m.HasPhoto()
}

func (m Message) IsGroup() bool {
	return m.ChatType == TypeGroup || m.ChatType == TypeSupergroup
}

func (m Message) IsForwardedFromChannel() bool {
	return m.ForwardFromChatType == TypeChannel
}

// SenderName is the display name stored with the message.
func (m Message) SenderName() string {
	if name := strings.TrimSpace(m.FromFirstName); name != "" {
		return name
	}
	if name := strings.TrimSpace(m.FromUsername); name != "" {
		return name
	}
	return anonymousName
}

// LargestPhotoUnder picks the biggest variant whose size is strictly below
// maxBytes. The second return value is false when no variant qualifies.
func LargestPhotoUnder(variants []Photo, maxBytes int) (Photo, bool) {
	best := Photo{}
	found := false
	for _, variant := range variants {
		if strings.TrimSpace(variant.FileID) == "" || variant.FileSize >= maxBytes {
			continue
		}
		if !found || variant.FileSize > best.FileSize {
			best = variant
			found = true
		}
	}
	return best, found
}
