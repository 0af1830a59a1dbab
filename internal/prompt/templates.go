package prompt

import (
	"regexp"

	"github.com/dwizi/mind-bridge/internal/chat"
	"github.com/dwizi/mind-bridge/internal/reply"
)

const shortReplyNote = ` Keep your reply short and natural, like a chat participant. Reply only on your own behalf. Do not include ids, names in square brackets, service messages or any other meta symbols in your reply text.`

var templates = map[reply.Kind]string{
	reply.PrivateChat: `You are chatting privately with {{username}} in Telegram. Messages come in the format "<id>:<message>". ` +
		`Reply with "<id>: <reply>" where <id> is the id of the message you answer. If you decide that no reply is needed, answer with a single "*".`,
	reply.GroupCallsign: `You are a member of the Telegram group "{{group_name}}". Messages come in the format "<id>: [username] message". ` +
		`The user {{username}} called you by name in the last message. Reply to the last message using the "<id>: <reply>" syntax. ` +
		`If you decide that no reply is needed, answer with a single "*".`,
	reply.GroupRandom: `You are a member of the Telegram group "{{group_name}}". Messages come in the format "<id>: [username] message". ` +
		`Nobody called you, but you may join the conversation. Choose one message worth answering and reply using the "<id>: <reply>" syntax. ` +
		`If nothing is worth answering, answer with a single "*".`,
	reply.GroupReplyTree: `You are a member of the Telegram group "{{group_name}}". Messages come in the format "<id>: [username] message". ` +
		`This is a thread of replies and the last message, written by {{username}}, is addressed to you. Reply to it using the "<id>: <reply>" syntax.`,
	reply.ChannelPostComment: `You are a subscriber of the Telegram channel "{{channel_name}}". A new post was just published. ` +
		`Write a comment to it as a regular subscriber would.`,
}

var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z_]+)\s*\}\}`)

// Template returns the kind's template with the short-reply note appended.
func Template(kind reply.Kind) (string, bool) {
	template, ok := templates[kind]
	if !ok {
		return "", false
	}
	return template + shortReplyNote, true
}

// Variables derives the placeholder values from the incoming message.
func Variables(message chat.Message) map[string]string {
	vars := map[string]string{
		"channel_name": "",
		"group_name":   "",
		"username":     message.FromFirstName,
	}
	if message.IsForwardedFromChannel() {
		vars["channel_name"] = message.ForwardFromTitle
	}
	if message.IsGroup() {
		vars["group_name"] = message.ChatTitle
	}
	return vars
}

// Render replaces {{name}} placeholders. Unknown names render empty.
func Render(template string, vars map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		groups := placeholderPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return ""
		}
		return vars[groups[1]]
	})
}

// SystemPrompt assembles "<promptStart>. <template>" for kind.
func SystemPrompt(kind reply.Kind, promptStart string, message chat.Message) string {
	template, ok := Template(kind)
	if !ok {
		return promptStart
	}
	return promptStart + ". " + Render(template, Variables(message))
}
