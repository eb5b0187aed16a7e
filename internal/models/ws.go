package models

// 浮层与服务之间交换的动作名称
const (
	ActionStreamResponse = "streamResponse"
	ActionSendMessage    = "sendMessage"
	ActionSummarize      = "summarizeContent"
	ActionClearHistory   = "clearChatHistory"
	ActionFixGrammar     = "fixGrammar"
	ActionAIEdit         = "aiEdit"
	ActionGetPrediction  = "getPrediction"
	ActionGetPageContent = "getPageContent"
	ActionPageContent    = "pageContent"
)

// 用户可见的错误提示
const (
	ReplyTransportError     = "Sorry, something went wrong while generating a response. Please try again."
	ReplyContentUnavailable = "Could not read any content to work with. Select some text or reload the page and try again."
)

// StreamEvent 服务推送给浮层的流式事件
type StreamEvent struct {
	Action    string `json:"action"`
	Reply     string `json:"reply"`
	Done      bool   `json:"done"`
	RequestID string `json:"requestId,omitempty"`
}

// Command 浮层发给服务的命令
type Command struct {
	Action    string `json:"action"`
	Message   string `json:"message,omitempty"`   // sendMessage 的用户输入
	Prompt    string `json:"prompt,omitempty"`    // 一次性编辑动作的选中文本
	Content   string `json:"content,omitempty"`   // summarizeContent / pageContent 的页面文本
	Model     string `json:"model,omitempty"`     // 浮层选择的模型，空则使用默认模型
	RequestID string `json:"requestId,omitempty"` // pageContent 回复对应的请求
}

// PageContentRequest 向浮层索取页面文本
type PageContentRequest struct {
	Action    string `json:"action"`
	RequestID string `json:"requestId"`
}
