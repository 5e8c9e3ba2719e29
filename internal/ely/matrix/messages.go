package matrix

import "strings"

// Messages holds the user-facing strings the gateway sends.
type Messages struct {
	PromptMissing string
	// Hiccup is a fmt format with one %s for the error text.
	Hiccup      string
	Truncated   string
	RateLimited string
}

var catalog = map[string]Messages{
	"en": {
		PromptMissing: "Please provide a prompt after the command. Example: `!ely What's happening?`",
		Hiccup:        "Ely encountered a hiccup: %s",
		Truncated:     "(Message truncated due to length)",
		RateLimited:   "You're sending prompts too quickly. Please wait a minute and try again.",
	},
	"zh-cn": {
		PromptMissing: "请在命令后提供提示内容。例如：`!ely 发生了什么？`",
		Hiccup:        "Ely 遇到了一点问题：%s",
		Truncated:     "(消息过长，已被截断)",
		RateLimited:   "你发送得太快了，请稍等一分钟再试。",
	},
}

// MessagesFor returns the catalog for lang, falling back to English. The
// second result is false when lang was not recognised.
func MessagesFor(lang string) (Messages, bool) {
	m, ok := catalog[strings.ToLower(strings.TrimSpace(lang))]
	if !ok {
		return catalog["en"], lang == ""
	}
	return m, true
}
