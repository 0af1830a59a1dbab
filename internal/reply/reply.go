package reply

import (
	"math"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"

	"github.com/dwizi/mind-bridge/internal/chat"
)

// Kind is the conversational situation a reply is generated for. The zero
// value means no reply.
type Kind string

const (
	None               Kind = ""
	PrivateChat        Kind = "private_chat"
	GroupCallsign      Kind = "group_callsign"
	GroupReplyTree     Kind = "group_reply_tree"
	ChannelPostComment Kind = "channel_post_comment"
	GroupRandom        Kind = "group_random"
)

func (k Kind) String() string {
	if k == None {
		return "none"
	}
	return string(k)
}

// Threaded reports whether a reply of this kind is attached to the incoming
// message when the model names no anchor.
func (k Kind) Threaded() bool {
	switch k {
	case GroupCallsign, GroupReplyTree, ChannelPostComment:
		return true
	default:
		return false
	}
}

type Rand interface {
	Float64() float64
}

type globalRand struct{}

func (globalRand) Float64() float64 {
	return rand.Float64()
}

var (
	DefaultCallsigns    = []string{"разум", "mind"}
	DefaultRandomChance = 0.03
)

// Classifier decides whether and how to answer a message. It holds no state
// beyond its configuration.
type Classifier struct {
	selfID    int64
	callsigns []string
	chance    float64
	rng       Rand
}

// NewClassifier lowercases callsigns and clamps chance to [0, 1]. A nil rng
// uses the process-wide source.
func NewClassifier(selfID int64, callsigns []string, chance float64, rng Rand) Classifier {
	normalized := make([]string, 0, len(callsigns))
	for _, sign := range callsigns {
		sign = strings.ToLower(strings.TrimSpace(sign))
		if sign != "" {
			normalized = append(normalized, sign)
		}
	}
	if chance < 0 || math.IsNaN(chance) {
		chance = 0
	}
	if chance > 1 {
		chance = 1
	}
	if rng == nil {
		rng = globalRand{}
	}
	return Classifier{selfID: selfID, callsigns: normalized, chance: chance, rng: rng}
}

// Classify applies the decision rules in order; the first match wins.
func (c Classifier) Classify(message chat.Message) Kind {
	if !message.HasBody() {
		return None
	}
	if message.ChatType == chat.TypePrivate {
		return PrivateChat
	}
	if c.hasCallsign(message.Text) {
		return GroupCallsign
	}
	if message.FromID == chat.ChannelForwarderID && message.IsForwardedFromChannel() {
		return ChannelPostComment
	}
	if c.selfID != 0 && message.ReplyToID != 0 && message.ReplyToFromID == c.selfID {
		return GroupReplyTree
	}
	if c.chance > 0 && c.rng.Float64() < c.chance {
		return GroupRandom
	}
	return None
}

func (c Classifier) hasCallsign(text string) bool {
	lower := strings.ToLower(text)
	for _, sign := range c.callsigns {
		if strings.HasPrefix(lower, sign) {
			return true
		}
	}
	return false
}

var (
	anchorPattern  = regexp.MustCompile(`(\d+):`)
	nameTagPattern = regexp.MustCompile(`\[[^\]]+\]`)
)

// Parsed is a model reply made ready for sending.
type Parsed struct {
	Text     string
	AnchorID int
	Silent   bool
}

// Sendable reports whether anything is left to post.
func (p Parsed) Sendable() bool {
	return !p.Silent && strings.TrimSpace(p.Text) != ""
}

// Parse extracts the first "<id>:" marker as the anchor and strips it along
// with the first "[Name]" tag. A lone "*" means the model chose silence.
func Parse(raw string) Parsed {
	if strings.TrimSpace(raw) == "*" {
		return Parsed{Silent: true}
	}
	text := raw
	anchor := 0
	if loc := anchorPattern.FindStringSubmatchIndex(text); loc != nil {
		if id, err := strconv.Atoi(text[loc[2]:loc[3]]); err == nil {
			anchor = id
		}
		text = text[:loc[0]] + text[loc[1]:]
	}
	if loc := nameTagPattern.FindStringIndex(text); loc != nil {
		text = text[:loc[0]] + text[loc[1]:]
	}
	return Parsed{Text: text, AnchorID: anchor}
}

// ResolveAnchor returns the parsed anchor, or the kind's default when the
// model named none. Zero means an unthreaded message.
func ResolveAnchor(kind Kind, parsed Parsed, incomingID int) int {
	if parsed.AnchorID != 0 {
		return parsed.AnchorID
	}
	if kind.Threaded() {
		return incomingID
	}
	return 0
}
