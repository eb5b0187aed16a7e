package dialog

import (
	"strings"
	"testing"

	"ai_page_assistant/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComposer_Conversation(t *testing.T) {
	c := NewComposer(Templates{}, 0)
	tr := NewTranscript()
	tr.Append(models.UserMessage("早上好"))
	tr.Append(models.AssistantMessage("早上好！"))

	msgs, gen, err := c.Conversation(tr, "今天天气怎么样？")
	require.NoError(t, err)
	assert.Equal(t, tr.Generation(), gen)

	assert.Len(t, msgs, 3)
	assert.Equal(t, models.UserMessage("今天天气怎么样？"), msgs[2])
	// 用户消息在发送前已写入记录
	assert.Equal(t, 3, tr.Len())
}

func TestComposer_ConversationEmpty(t *testing.T) {
	c := NewComposer(Templates{}, 0)
	tr := NewTranscript()

	_, _, err := c.Conversation(tr, "   ")
	assert.ErrorIs(t, err, ErrContentUnavailable)
	assert.Equal(t, 0, tr.Len())
}

func TestComposer_ConversationGenerationAfterReset(t *testing.T) {
	c := NewComposer(Templates{}, 0)
	tr := NewTranscript()
	tr.Reset()

	// 清空发生在追加之前：用户消息属于新一代，回复应被保留
	_, gen, err := c.Conversation(tr, "hi")
	require.NoError(t, err)
	assert.True(t, tr.AppendIf(gen, models.AssistantMessage("hello")))
	assert.Equal(t, 2, tr.Len())

	// 清空发生在追加之后：回复被丢弃
	_, gen, err = c.Conversation(tr, "again")
	require.NoError(t, err)
	tr.Reset()
	assert.False(t, tr.AppendIf(gen, models.AssistantMessage("stale")))
	assert.Equal(t, 0, tr.Len())
}

func TestComposer_OneShot(t *testing.T) {
	tests := []struct {
		name     string
		kind     Kind
		content  string
		wantErr  error
		contains string
	}{
		{name: "总结", kind: KindSummarize, content: "Go is a language.", contains: "Summarize"},
		{name: "语法修正", kind: KindFixGrammar, content: "he go home", contains: "grammar"},
		{name: "AI编辑", kind: KindAIEdit, content: "some text", contains: "Improve"},
		{name: "预测", kind: KindPredict, content: "Once upon a", contains: "Continue"},
		{name: "内容为空", kind: KindSummarize, content: "  \n", wantErr: ErrContentUnavailable},
	}

	c := NewComposer(Templates{}, 0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs, err := c.OneShot(tt.kind, tt.content)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Len(t, msgs, 1)
			assert.Equal(t, models.RoleUser, msgs[0].Role)
			assert.Contains(t, msgs[0].Content, tt.contains)
			assert.True(t, strings.HasSuffix(msgs[0].Content, tt.content))
			assert.NotContains(t, msgs[0].Content, ContentPlaceholder)
		})
	}
}

func TestComposer_OneShotConversationKind(t *testing.T) {
	c := NewComposer(Templates{}, 0)
	_, err := c.OneShot(KindConversation, "text")
	assert.Error(t, err)
}

func TestComposer_TemplateOverride(t *testing.T) {
	c := NewComposer(Templates{
		FixGrammar: "纠正：{{content}}。",
		Predict:    "Predict next words",
	}, 0)

	msgs, err := c.OneShot(KindFixGrammar, "我们去学校了吗")
	require.NoError(t, err)
	assert.Equal(t, "纠正：我们去学校了吗。", msgs[0].Content)

	// 没有占位符时内容接在模板后
	msgs, err = c.OneShot(KindPredict, "Hello")
	require.NoError(t, err)
	assert.Equal(t, "Predict next words\n\nHello", msgs[0].Content)
}

func TestComposer_TruncatesContent(t *testing.T) {
	c := NewComposer(Templates{Summarize: "{{content}}"}, 5)
	msgs, err := c.OneShot(KindSummarize, "一二三四五六七")
	require.NoError(t, err)
	assert.Equal(t, "一二三四五", msgs[0].Content)
}

func TestKindForAction(t *testing.T) {
	kind, ok := KindForAction(models.ActionGetPrediction)
	assert.True(t, ok)
	assert.Equal(t, KindPredict, kind)
	assert.False(t, kind.Recorded())

	kind, ok = KindForAction(models.ActionSendMessage)
	assert.True(t, ok)
	assert.True(t, kind.Recorded())

	_, ok = KindForAction(models.ActionClearHistory)
	assert.False(t, ok)
}
