package routes

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"ai_page_assistant/internal/clients/completion"
	"ai_page_assistant/internal/config"
	"ai_page_assistant/internal/dialog"
	"ai_page_assistant/internal/handlers"
	"ai_page_assistant/internal/models"
	"ai_page_assistant/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLLM 模拟补全服务：消息中含 FAIL 时返回500，否则流式返回 "Hello!"
type fakeLLM struct {
	mu       sync.Mutex
	requests []completion.ChatRequest
}

func (f *fakeLLM) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/v1/models" {
		w.Write([]byte(`{"data":[{"id":"test-model"}]}`))
		return
	}

	var req completion.ChatRequest
	json.NewDecoder(r.Body).Decode(&req)
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	last := req.Messages[len(req.Messages)-1].Content
	if strings.Contains(last, "FAIL") {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("model crashed"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	for _, part := range []string{"Hel", "lo!"} {
		fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", part)
		w.(http.Flusher).Flush()
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
}

func (f *fakeLLM) lastRequest() completion.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeLLM) {
	t.Helper()
	llm := &fakeLLM{}
	llmServer := httptest.NewServer(llm)
	t.Cleanup(llmServer.Close)

	client := completion.NewClient(completion.Config{Host: llmServer.URL, Model: "test-model"})
	svc := services.NewAssistantService(client, dialog.NewComposer(dialog.Templates{}, 0), services.Options{
		FlushThreshold:     20,
		PageContentTimeout: 2 * time.Second,
	})

	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, handlers.NewAssistantHandler(svc, config.WebSocketConfig{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		PingPeriod:      time.Second,
		PongWait:        5 * time.Second,
	}, nil))

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)
	return server, llm
}

func postCommand(t *testing.T, server *httptest.Server, sessionID string, cmd models.Command) (*http.Response, []models.StreamEvent) {
	t.Helper()
	body, _ := json.Marshal(cmd)
	resp, err := http.Post(server.URL+"/api/sessions/"+sessionID+"/commands", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var events []models.StreamEvent
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		var ev models.StreamEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err == nil {
			events = append(events, ev)
		}
	}
	return resp, events
}

func getHistory(t *testing.T, server *httptest.Server, sessionID string) []models.Message {
	t.Helper()
	resp, err := http.Get(server.URL + "/api/sessions/" + sessionID + "/history")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Messages []models.Message `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.Messages
}

func TestHealth(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHTTPCommand_SendMessage(t *testing.T) {
	server, llm := newTestServer(t)

	resp, events := postCommand(t, server, "s1", models.Command{Action: models.ActionSendMessage, Message: "hi"})

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))
	require.Len(t, events, 2)
	assert.Equal(t, models.StreamEvent{Action: models.ActionStreamResponse, Reply: "Hello!", RequestID: events[0].RequestID}, events[0])
	assert.True(t, events[1].Done)
	assert.Empty(t, events[1].Reply)
	assert.True(t, llm.lastRequest().Stream)

	assert.Equal(t, []models.Message{
		models.UserMessage("hi"),
		models.AssistantMessage("Hello!"),
	}, getHistory(t, server, "s1"))
}

func TestHTTPCommand_TransportError(t *testing.T) {
	server, _ := newTestServer(t)

	_, events := postCommand(t, server, "s1", models.Command{Action: models.ActionSendMessage, Message: "please FAIL"})
	require.Len(t, events, 1)
	assert.Equal(t, models.ReplyTransportError, events[0].Reply)
	assert.True(t, events[0].Done)
	assert.Len(t, getHistory(t, server, "s1"), 1)

	_, events = postCommand(t, server, "s1", models.Command{Action: models.ActionFixGrammar, Prompt: "FAIL this"})
	require.Len(t, events, 1)
	assert.True(t, events[0].Done)
	assert.Len(t, getHistory(t, server, "s1"), 1, "一次性请求不改变记录")
}

func TestHTTPCommand_SummarizeRequiresContent(t *testing.T) {
	server, _ := newTestServer(t)

	_, events := postCommand(t, server, "s1", models.Command{Action: models.ActionSummarize})
	require.Len(t, events, 1)
	assert.Equal(t, models.ReplyContentUnavailable, events[0].Reply)

	_, events = postCommand(t, server, "s1", models.Command{Action: models.ActionSummarize, Content: "page body"})
	require.Len(t, events, 2)
	assert.Empty(t, getHistory(t, server, "s1"))
}

func TestHTTPCommand_ClearHistory(t *testing.T) {
	server, _ := newTestServer(t)

	postCommand(t, server, "s1", models.Command{Action: models.ActionSendMessage, Message: "one"})
	require.Len(t, getHistory(t, server, "s1"), 2)

	req, _ := http.NewRequest(http.MethodDelete, server.URL+"/api/sessions/s1/history", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, getHistory(t, server, "s1"))

	resp, _ = postCommand(t, server, "s1", models.Command{Action: models.ActionClearHistory})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	postCommand(t, server, "s1", models.Command{Action: models.ActionSendMessage, Message: "two"})
	assert.Len(t, getHistory(t, server, "s1"), 2)
}

func TestHTTPCommand_Invalid(t *testing.T) {
	server, _ := newTestServer(t)

	resp, _ := postCommand(t, server, "s1", models.Command{Action: "dance"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err := http.Post(server.URL+"/api/sessions/s1/commands", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestModels(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/api/models")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Models []string `json:"models"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, []string{"test-model"}, body.Models)
}

type wsEvent struct {
	Action    string `json:"action"`
	Reply     string `json:"reply"`
	Done      bool   `json:"done"`
	RequestID string `json:"requestId"`
}

func readUntilDone(t *testing.T, conn *websocket.Conn) []wsEvent {
	t.Helper()
	var events []wsEvent
	for {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var ev wsEvent
		require.NoError(t, conn.ReadJSON(&ev))
		events = append(events, ev)
		if ev.Done {
			return events
		}
	}
}

func TestWebSocket_Session(t *testing.T) {
	server, llm := newTestServer(t)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?session_id=w1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// 对话
	require.NoError(t, conn.WriteJSON(models.Command{Action: models.ActionSendMessage, Message: "hello"}))
	events := readUntilDone(t, conn)
	require.Len(t, events, 2)
	assert.Equal(t, "Hello!", events[0].Reply)
	assert.Equal(t, models.ActionStreamResponse, events[1].Action)

	// 总结：服务先向浮层索取页面文本
	require.NoError(t, conn.WriteJSON(models.Command{Action: models.ActionSummarize}))
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ask wsEvent
	require.NoError(t, conn.ReadJSON(&ask))
	require.Equal(t, models.ActionGetPageContent, ask.Action)
	require.NotEmpty(t, ask.RequestID)

	require.NoError(t, conn.WriteJSON(models.Command{
		Action:    models.ActionPageContent,
		RequestID: ask.RequestID,
		Content:   "An article about gophers.",
	}))
	events = readUntilDone(t, conn)
	assert.Equal(t, ask.RequestID, events[len(events)-1].RequestID)
	assert.Contains(t, llm.lastRequest().Messages[0].Content, "An article about gophers.")

	// 语法修正不进入记录
	require.NoError(t, conn.WriteJSON(models.Command{Action: models.ActionFixGrammar, Prompt: "he go"}))
	readUntilDone(t, conn)

	assert.Len(t, getHistory(t, server, "w1"), 2)

	// 清空
	require.NoError(t, conn.WriteJSON(models.Command{Action: models.ActionClearHistory}))
	require.Eventually(t, func() bool {
		return len(getHistory(t, server, "w1")) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocket_DefaultSessionPerConnection(t *testing.T) {
	server, llm := newTestServer(t)
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"

	for _, text := range []string{"first tab", "second tab"} {
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)

		require.NoError(t, conn.WriteJSON(models.Command{Action: models.ActionSendMessage, Message: text}))
		readUntilDone(t, conn)
		conn.Close()

		// 未指定会话的连接互不共享记录
		assert.Equal(t, []models.Message{models.UserMessage(text)}, llm.lastRequest().Messages)
	}
}
