package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"doc-chat-go/internal/errs"
	"doc-chat-go/internal/model"
	"doc-chat-go/internal/service"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn 是内存中的连接实现：入站帧从 channel 读出，出站帧解码后记录。
type fakeConn struct {
	inbound chan []byte

	mu     sync.Mutex
	frames []map[string]interface{}
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan []byte, 8)}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	data, ok := <-c.inbound
	if !ok {
		return 0, nil, errors.New("connection closed")
	}
	return websocket.TextMessage, data, nil
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	var frame map[string]interface{}
	if err := json.Unmarshal(data, &frame); err != nil {
		return err
	}
	c.mu.Lock()
	c.frames = append(c.frames, frame)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.inbound)
	}
	return nil
}

func (c *fakeConn) push(raw string) {
	c.inbound <- []byte(raw)
}

func (c *fakeConn) sent() []map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]interface{}, len(c.frames))
	copy(out, c.frames)
	return out
}

// memStore 以真实服务的语义在内存中实现 ConversationService。
type memStore struct {
	mu         sync.Mutex
	nextConvID uint
	nextMsgID  uint
	convs      map[uint]*model.Conversation
	msgs       map[uint][]model.Message

	appendErr          error // 注入持久化失败
	assistantAppendErr error // 只让 assistant 角色的写入失败
	vanish             bool  // Get 一律返回 NotFound，模拟会话在续延期间消失
}

func newMemStore() *memStore {
	return &memStore{convs: map[uint]*model.Conversation{}, msgs: map[uint][]model.Message{}}
}

func (s *memStore) ResolveOrCreate(_ context.Context, userID uint, documentIDs []uint) (*model.Conversation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	encoded := model.EncodeDocumentIDs(documentIDs)
	for _, c := range s.convs {
		if c.UserID == userID && c.DocumentIDs == encoded {
			cp := *c
			return &cp, false, nil
		}
	}
	s.nextConvID++
	conv := &model.Conversation{ID: s.nextConvID, UserID: userID, DocumentIDs: encoded, CreatedAt: time.Now()}
	s.convs[conv.ID] = conv
	cp := *conv
	return &cp, true, nil
}

func (s *memStore) Get(_ context.Context, conversationID, userID uint) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.vanish {
		return nil, errs.ErrNotFound
	}
	c, ok := s.convs[conversationID]
	if !ok || c.UserID != userID {
		return nil, errs.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *memStore) History(_ context.Context, conversationID uint) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Message, len(s.msgs[conversationID]))
	copy(out, s.msgs[conversationID])
	return out, nil
}

func (s *memStore) AppendMessage(_ context.Context, conv *model.Conversation, role, content string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return nil, s.appendErr
	}
	if role == model.RoleAssistant && s.assistantAppendErr != nil {
		return nil, s.assistantAppendErr
	}
	if content == "" {
		return nil, errs.Validation("message content must not be empty")
	}
	s.nextMsgID++
	msg := model.Message{
		ID:             s.nextMsgID,
		ConversationID: conv.ID,
		Role:           role,
		Content:        content,
		Seq:            len(s.msgs[conv.ID]) + 1,
		CreatedAt:      time.Now(),
	}
	s.msgs[conv.ID] = append(s.msgs[conv.ID], msg)
	cp := msg
	return &cp, nil
}

func (s *memStore) ListForUser(_ context.Context, userID uint) ([]model.Conversation, error) {
	return nil, nil
}

func (s *memStore) messages(conversationID uint) []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Message, len(s.msgs[conversationID]))
	copy(out, s.msgs[conversationID])
	return out
}

// fakeDocs 持有固定的文档集合并按请求顺序过滤归属。
type fakeDocs struct {
	owned map[uint]model.Document
	texts map[uint]string
}

func (d *fakeDocs) Upload(context.Context, uint, string, string, int64, io.Reader) (*model.Document, error) {
	return nil, errors.New("not supported")
}

func (d *fakeDocs) ListForUser(uint) ([]model.Document, error) { return nil, nil }

func (d *fakeDocs) FindOwned(userID uint, ids []uint) ([]model.Document, error) {
	out := make([]model.Document, 0, len(ids))
	for _, id := range ids {
		if doc, ok := d.owned[id]; ok && doc.UserID == userID {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (d *fakeDocs) ExtractedText(_ context.Context, doc *model.Document) string {
	return d.texts[doc.ID]
}

// fakeChat 返回固定应答并记录收到的上下文。
type fakeChat struct {
	mu      sync.Mutex
	reply   string
	history []model.Message
	docs    []service.DocumentContext
}

func (f *fakeChat) Complete(_ context.Context, history []model.Message, docs []service.DocumentContext) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = history
	f.docs = docs
	return f.reply
}

func startSession(t *testing.T, conn *fakeConn, store *memStore, docs *fakeDocs, chat *fakeChat) {
	t.Helper()
	user := &model.User{ID: 1, Username: "alice"}
	sess := New(conn, user, Deps{Conversations: store, Documents: docs, Chat: chat})
	done := make(chan struct{})
	go func() {
		sess.Run()
		close(done)
	}()
	t.Cleanup(func() {
		conn.Close()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("session did not stop")
		}
	})
}

func framesOfType(conn *fakeConn, frameType string) []map[string]interface{} {
	var out []map[string]interface{}
	for _, f := range conn.sent() {
		if f["type"] == frameType {
			out = append(out, f)
		}
	}
	return out
}

func TestInitCreatesConversationAndGreets(t *testing.T) {
	store := newMemStore()
	docs := &fakeDocs{
		owned: map[uint]model.Document{
			1: {ID: 1, UserID: 1, FileName: "a.pdf"},
			2: {ID: 2, UserID: 1, FileName: "b.pdf"},
		},
		texts: map[uint]string{},
	}
	chat := &fakeChat{reply: "ok"}
	conn := newFakeConn()
	startSession(t, conn, store, docs, chat)

	// 包含一个不属于该用户的文档 id，应被静默过滤，顺序保持
	conn.push(`{"type":"init","documentIds":[2,99,1]}`)

	require.Eventually(t, func() bool {
		return len(framesOfType(conn, frameTypeConversationInitialized)) == 1
	}, time.Second, 10*time.Millisecond)

	snapshot := framesOfType(conn, frameTypeConversationInitialized)[0]
	conv, ok := snapshot["conversation"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, []interface{}{float64(2), float64(1)}, conv["documentIds"])
	assert.Equal(t, []interface{}{}, conv["conversationMessages"])

	// 新建会话触发异步问候，问候以 aiResponse 帧下发并已持久化
	require.Eventually(t, func() bool {
		return len(framesOfType(conn, frameTypeAIResponse)) == 1
	}, time.Second, 10*time.Millisecond)

	greeting := framesOfType(conn, frameTypeAIResponse)[0]
	msg := greeting["message"].(map[string]interface{})
	assert.Equal(t, model.RoleAssistant, msg["role"])
	assert.Contains(t, msg["content"], "b.pdf")

	saved := store.messages(1)
	require.Len(t, saved, 1)
	assert.Equal(t, model.RoleAssistant, saved[0].Role)
}

func TestInitOnExistingConversationReplaysHistory(t *testing.T) {
	store := newMemStore()
	conv, created, err := store.ResolveOrCreate(context.Background(), 1, []uint{})
	require.NoError(t, err)
	require.True(t, created)
	_, err = store.AppendMessage(context.Background(), conv, model.RoleUser, "earlier question")
	require.NoError(t, err)

	chat := &fakeChat{reply: "ok"}
	conn := newFakeConn()
	startSession(t, conn, store, &fakeDocs{}, chat)

	conn.push(`{"type":"init","documentIds":[]}`)

	require.Eventually(t, func() bool {
		return len(framesOfType(conn, frameTypeConversationInitialized)) == 1
	}, time.Second, 10*time.Millisecond)

	snapshot := framesOfType(conn, frameTypeConversationInitialized)[0]
	msgs := snapshot["conversation"].(map[string]interface{})["conversationMessages"].([]interface{})
	require.Len(t, msgs, 1)
	assert.Equal(t, "earlier question", msgs[0].(map[string]interface{})["content"])

	// 已存在的会话不触发问候
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, framesOfType(conn, frameTypeAIResponse))
}

func TestMalformedJSONYieldsBareError(t *testing.T) {
	conn := newFakeConn()
	startSession(t, conn, newMemStore(), &fakeDocs{}, &fakeChat{})

	conn.push(`{"type":`)

	require.Eventually(t, func() bool { return len(conn.sent()) == 1 }, time.Second, 10*time.Millisecond)
	frame := conn.sent()[0]
	assert.Equal(t, "Invalid JSON format", frame["error"])
	assert.NotContains(t, frame, "type")
}

func TestMessageBeforeInitRejectedWithBareError(t *testing.T) {
	conn := newFakeConn()
	startSession(t, conn, newMemStore(), &fakeDocs{}, &fakeChat{})

	conn.push(`{"type":"message","content":"hi"}`)

	require.Eventually(t, func() bool { return len(conn.sent()) == 1 }, time.Second, 10*time.Millisecond)
	frame := conn.sent()[0]
	assert.NotContains(t, frame, "type")
	assert.NotEmpty(t, frame["error"])

	// 状态仍是未初始化，后续 init 正常工作
	conn.push(`{"type":"init","documentIds":[]}`)
	require.Eventually(t, func() bool {
		return len(framesOfType(conn, frameTypeConversationInitialized)) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestChatSavesThenResponds(t *testing.T) {
	store := newMemStore()
	// 预建会话，避免问候帧干扰断言
	_, _, err := store.ResolveOrCreate(context.Background(), 1, []uint{})
	require.NoError(t, err)

	chat := &fakeChat{reply: "the answer"}
	conn := newFakeConn()
	startSession(t, conn, store, &fakeDocs{}, chat)

	conn.push(`{"type":"init","documentIds":[]}`)
	require.Eventually(t, func() bool {
		return len(framesOfType(conn, frameTypeConversationInitialized)) == 1
	}, time.Second, 10*time.Millisecond)

	conn.push(`{"type":"message","content":"what is this?"}`)

	require.Eventually(t, func() bool {
		return len(framesOfType(conn, frameTypeAIResponse)) == 1
	}, time.Second, 10*time.Millisecond)

	// messageSaved 先于 aiResponse 下发
	var order []string
	for _, f := range conn.sent() {
		if s, ok := f["type"].(string); ok {
			order = append(order, s)
		}
	}
	assert.Equal(t, []string{frameTypeConversationInitialized, frameTypeMessageSaved, frameTypeAIResponse}, order)

	saved := framesOfType(conn, frameTypeMessageSaved)[0]["message"].(map[string]interface{})
	assert.Equal(t, model.RoleUser, saved["role"])
	assert.Equal(t, "what is this?", saved["content"])

	answer := framesOfType(conn, frameTypeAIResponse)[0]["message"].(map[string]interface{})
	assert.Equal(t, model.RoleAssistant, answer["role"])
	assert.Equal(t, "the answer", answer["content"])

	// 两条消息都已持久化，序号单调
	msgs := store.messages(1)
	require.Len(t, msgs, 2)
	assert.Equal(t, 1, msgs[0].Seq)
	assert.Equal(t, 2, msgs[1].Seq)
}

func TestEmptyMessageContentYieldsTypedError(t *testing.T) {
	store := newMemStore()
	store.ResolveOrCreate(context.Background(), 1, []uint{})
	conn := newFakeConn()
	startSession(t, conn, store, &fakeDocs{}, &fakeChat{reply: "ok"})

	conn.push(`{"type":"init","documentIds":[]}`)
	require.Eventually(t, func() bool {
		return len(framesOfType(conn, frameTypeConversationInitialized)) == 1
	}, time.Second, 10*time.Millisecond)

	conn.push(`{"type":"message","content":""}`)

	require.Eventually(t, func() bool {
		return len(framesOfType(conn, frameTypeError)) == 1
	}, time.Second, 10*time.Millisecond)
	frame := framesOfType(conn, frameTypeError)[0]
	assert.Equal(t, "Message content must not be empty", frame["error"])

	// 未持久化任何消息，也不触发补全
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, store.messages(1))
	assert.Empty(t, framesOfType(conn, frameTypeAIResponse))
}

func TestUnknownFrameTypeInActiveState(t *testing.T) {
	store := newMemStore()
	store.ResolveOrCreate(context.Background(), 1, []uint{})
	conn := newFakeConn()
	startSession(t, conn, store, &fakeDocs{}, &fakeChat{})

	conn.push(`{"type":"init","documentIds":[]}`)
	require.Eventually(t, func() bool {
		return len(framesOfType(conn, frameTypeConversationInitialized)) == 1
	}, time.Second, 10*time.Millisecond)

	conn.push(`{"type":"bogus"}`)

	// 激活后的错误帧带 type 字段
	require.Eventually(t, func() bool {
		return len(framesOfType(conn, frameTypeError)) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestCompletionSilentWhenConversationVanishes(t *testing.T) {
	store := newMemStore()
	store.ResolveOrCreate(context.Background(), 1, []uint{})
	conn := newFakeConn()
	startSession(t, conn, store, &fakeDocs{}, &fakeChat{reply: "ok"})

	conn.push(`{"type":"init","documentIds":[]}`)
	require.Eventually(t, func() bool {
		return len(framesOfType(conn, frameTypeConversationInitialized)) == 1
	}, time.Second, 10*time.Millisecond)

	// 会话在补全续延重读之前消失
	store.mu.Lock()
	store.vanish = true
	store.mu.Unlock()

	conn.push(`{"type":"message","content":"hello"}`)

	require.Eventually(t, func() bool {
		return len(framesOfType(conn, frameTypeMessageSaved)) == 1
	}, time.Second, 10*time.Millisecond)

	// 续延静默退出：没有 aiResponse，也没有错误帧
	time.Sleep(150 * time.Millisecond)
	assert.Empty(t, framesOfType(conn, frameTypeAIResponse))
	assert.Empty(t, framesOfType(conn, frameTypeError))
}

// 补全续延内部的失败（这里是 assistant 消息写入失败）折叠为一条
// 通用错误帧，不发 aiResponse，也不终止会话。
func TestCompletionFailureEmitsGenericError(t *testing.T) {
	store := newMemStore()
	store.ResolveOrCreate(context.Background(), 1, []uint{})
	store.assistantAppendErr = errors.New("db down")
	conn := newFakeConn()
	startSession(t, conn, store, &fakeDocs{}, &fakeChat{reply: "ok"})

	conn.push(`{"type":"init","documentIds":[]}`)
	require.Eventually(t, func() bool {
		return len(framesOfType(conn, frameTypeConversationInitialized)) == 1
	}, time.Second, 10*time.Millisecond)

	conn.push(`{"type":"message","content":"hello"}`)

	require.Eventually(t, func() bool {
		return len(framesOfType(conn, frameTypeError)) == 1
	}, time.Second, 10*time.Millisecond)
	frame := framesOfType(conn, frameTypeError)[0]
	assert.Equal(t, "Failed to generate AI response", frame["error"])
	assert.Len(t, framesOfType(conn, frameTypeMessageSaved), 1)
	assert.Empty(t, framesOfType(conn, frameTypeAIResponse))

	// 会话仍然存活：故障恢复后下一轮正常补全
	store.mu.Lock()
	store.assistantAppendErr = nil
	store.mu.Unlock()

	conn.push(`{"type":"message","content":"again"}`)
	require.Eventually(t, func() bool {
		return len(framesOfType(conn, frameTypeAIResponse)) == 1
	}, time.Second, 10*time.Millisecond)
}

// JSON 解析失败在任何状态下都回以不带 type 的错误帧。
func TestMalformedJSONInActiveStateYieldsBareError(t *testing.T) {
	store := newMemStore()
	store.ResolveOrCreate(context.Background(), 1, []uint{})
	conn := newFakeConn()
	startSession(t, conn, store, &fakeDocs{}, &fakeChat{})

	conn.push(`{"type":"init","documentIds":[]}`)
	require.Eventually(t, func() bool {
		return len(framesOfType(conn, frameTypeConversationInitialized)) == 1
	}, time.Second, 10*time.Millisecond)

	conn.push(`{not json`)

	require.Eventually(t, func() bool { return len(conn.sent()) == 2 }, time.Second, 10*time.Millisecond)
	frame := conn.sent()[1]
	assert.Equal(t, "Invalid JSON format", frame["error"])
	assert.NotContains(t, frame, "type")
}

func TestGreetingFailureIsSwallowed(t *testing.T) {
	store := newMemStore()
	store.appendErr = errors.New("db down")
	conn := newFakeConn()
	startSession(t, conn, store, &fakeDocs{}, &fakeChat{})

	conn.push(`{"type":"init","documentIds":[]}`)
	require.Eventually(t, func() bool {
		return len(framesOfType(conn, frameTypeConversationInitialized)) == 1
	}, time.Second, 10*time.Millisecond)

	// 问候写入失败后不发任何补偿帧
	time.Sleep(150 * time.Millisecond)
	assert.Len(t, conn.sent(), 1)
}

func TestCompletionReceivesDocumentContexts(t *testing.T) {
	store := newMemStore()
	docs := &fakeDocs{
		owned: map[uint]model.Document{3: {ID: 3, UserID: 1, FileName: "notes.txt"}},
		texts: map[uint]string{3: "extracted text"},
	}
	// 预建同一文档组合的会话，跳过问候
	store.ResolveOrCreate(context.Background(), 1, []uint{3})

	chat := &fakeChat{reply: "ok"}
	conn := newFakeConn()
	startSession(t, conn, store, docs, chat)

	conn.push(`{"type":"init","documentIds":[3]}`)
	require.Eventually(t, func() bool {
		return len(framesOfType(conn, frameTypeConversationInitialized)) == 1
	}, time.Second, 10*time.Millisecond)

	conn.push(`{"type":"message","content":"summarize"}`)
	require.Eventually(t, func() bool {
		return len(framesOfType(conn, frameTypeAIResponse)) == 1
	}, time.Second, 10*time.Millisecond)

	chat.mu.Lock()
	defer chat.mu.Unlock()
	require.Len(t, chat.docs, 1)
	assert.Equal(t, "notes.txt", chat.docs[0].Name)
	assert.Equal(t, "extracted text", chat.docs[0].Text)
	// 补全看到的历史包含刚保存的用户消息
	require.NotEmpty(t, chat.history)
	assert.Equal(t, "summarize", chat.history[len(chat.history)-1].Content)
}
