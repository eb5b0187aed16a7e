package dialog

import (
	"errors"
	"strings"
	"unicode/utf8"

	"ai_page_assistant/internal/models"
)

// ErrContentUnavailable 所需的页面文本或选中文本为空
var ErrContentUnavailable = errors.New("content unavailable")

// ContentPlaceholder 模板中外部内容的占位符
const ContentPlaceholder = "{{content}}"

// DefaultMaxContentChars 一次性请求中外部内容的默认最大字符数
const DefaultMaxContentChars = 12000

// Kind 请求类型
type Kind int

const (
	KindConversation Kind = iota
	KindSummarize
	KindFixGrammar
	KindAIEdit
	KindPredict
)

func (k Kind) String() string {
	switch k {
	case KindConversation:
		return "conversation"
	case KindSummarize:
		return "summarize"
	case KindFixGrammar:
		return "fix_grammar"
	case KindAIEdit:
		return "ai_edit"
	case KindPredict:
		return "predict"
	default:
		return "unknown"
	}
}

// Recorded 该类型的请求是否写入对话记录
func (k Kind) Recorded() bool {
	return k == KindConversation
}

// KindForAction 把命令动作映射为请求类型
func KindForAction(action string) (Kind, bool) {
	switch action {
	case models.ActionSendMessage:
		return KindConversation, true
	case models.ActionSummarize:
		return KindSummarize, true
	case models.ActionFixGrammar:
		return KindFixGrammar, true
	case models.ActionAIEdit:
		return KindAIEdit, true
	case models.ActionGetPrediction:
		return KindPredict, true
	}
	return 0, false
}

var defaultTemplates = map[Kind]string{
	KindSummarize: "Summarize the following web page content. Keep the key points, use short paragraphs " +
		"or bullet points, and do not add information that is not in the text.\n\n" + ContentPlaceholder,
	KindFixGrammar: "Fix the grammar, spelling and punctuation of the following text. Keep its meaning " +
		"and tone. Reply with the corrected text only.\n\n" + ContentPlaceholder,
	KindAIEdit: "Improve the following text so it reads clearly and naturally. Keep its meaning. " +
		"Reply with the edited text only.\n\n" + ContentPlaceholder,
	KindPredict: "Continue the following text with the most likely next few words. Reply with the " +
		"continuation only, without repeating the input.\n\n" + ContentPlaceholder,
}

// Templates 一次性请求的指令模板，空字段使用默认模板
type Templates struct {
	Summarize  string
	FixGrammar string
	AIEdit     string
	Predict    string
}

// Composer 根据请求类型构建发送给补全服务的消息列表
type Composer struct {
	templates       map[Kind]string
	maxContentChars int
}

// NewComposer 创建提示词构建器
func NewComposer(tpl Templates, maxContentChars int) *Composer {
	templates := make(map[Kind]string, len(defaultTemplates))
	for k, v := range defaultTemplates {
		templates[k] = v
	}
	overrides := map[Kind]string{
		KindSummarize:  tpl.Summarize,
		KindFixGrammar: tpl.FixGrammar,
		KindAIEdit:     tpl.AIEdit,
		KindPredict:    tpl.Predict,
	}
	for k, v := range overrides {
		if strings.TrimSpace(v) != "" {
			templates[k] = v
		}
	}
	if maxContentChars <= 0 {
		maxContentChars = DefaultMaxContentChars
	}
	return &Composer{templates: templates, maxContentChars: maxContentChars}
}

// Conversation 把用户消息追加到对话记录，并返回包含它的完整历史和追加时的清空代数。
// 用户消息在发送前写入，补全失败也不会丢失。
func (c *Composer) Conversation(t *Transcript, text string) ([]models.Message, uint64, error) {
	if strings.TrimSpace(text) == "" {
		return nil, 0, ErrContentUnavailable
	}
	history, gen := t.AppendSnapshot(models.UserMessage(text))
	return history, gen, nil
}

// OneShot 用模板和外部内容构建单条用户消息，不读写对话记录
func (c *Composer) OneShot(kind Kind, content string) ([]models.Message, error) {
	tpl, ok := c.templates[kind]
	if !ok {
		return nil, errors.New("no template for " + kind.String())
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrContentUnavailable
	}
	content = truncateRunes(content, c.maxContentChars)

	var prompt string
	if strings.Contains(tpl, ContentPlaceholder) {
		prompt = strings.ReplaceAll(tpl, ContentPlaceholder, content)
	} else {
		prompt = tpl + "\n\n" + content
	}
	return []models.Message{models.UserMessage(prompt)}, nil
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
