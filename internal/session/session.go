package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"doc-chat-go/internal/errs"
	"doc-chat-go/internal/model"
	"doc-chat-go/internal/service"
	"doc-chat-go/pkg/log"

	"github.com/gorilla/websocket"
)

// Conn 是会话对底层连接的最小依赖。
// *websocket.Conn 天然满足该接口；测试中用内存实现替代。
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Deps 聚合了会话状态机依赖的业务服务。
type Deps struct {
	Conversations service.ConversationService
	Documents     service.DocumentService
	Chat          service.ChatService
}

// 会话状态：未初始化 -> 已激活，单向，不回退。
type state int

const (
	stateUninitialized state = iota
	stateActive
)

// 异步续延失败时回告客户端的统一文案。
const errGenerateFailed = "Failed to generate AI response"

type eventKind int

const (
	eventInbound eventKind = iota
	eventDeliver
)

// event 是会话邮箱中的一个元素：入站帧或续延结果帧。
type event struct {
	kind  eventKind
	data  []byte
	frame map[string]interface{}
}

// Session 是单条连接的协议状态机。
// 所有状态只在 Run 的事件循环这一个 goroutine 中被读写：
// 入站帧与异步续延的结果都经由同一个串行邮箱进入，无需加锁。
type Session struct {
	conn Conn
	user *model.User
	deps Deps

	state state
	conv  *model.Conversation

	mailbox chan event
	done    chan struct{}
	once    sync.Once
}

// New 创建一个绑定到给定连接与已认证用户的会话。
func New(conn Conn, user *model.User, deps Deps) *Session {
	return &Session{
		conn:    conn,
		user:    user,
		deps:    deps,
		state:   stateUninitialized,
		mailbox: make(chan event, 16),
		done:    make(chan struct{}),
	}
}

// Run 驱动会话直到连接关闭。阻塞调用。
func (s *Session) Run() {
	go s.readLoop()

	for {
		select {
		case <-s.done:
			// 连接关闭的清理钩子：只记录，不做任何持久化。
			// 在途续延继续运行，其结果不可投递时被丢弃。
			log.Infof("会话结束: user=%s", s.user.Username)
			return
		case ev := <-s.mailbox:
			switch ev.kind {
			case eventInbound:
				s.handleInbound(ev.data)
			case eventDeliver:
				s.send(ev.frame)
			}
		}
	}
}

// readLoop 从连接读取入站帧并投入邮箱。读取出错即宣告会话结束。
func (s *Session) readLoop() {
	defer s.finish()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case s.mailbox <- event{kind: eventInbound, data: data}:
		case <-s.done:
			return
		}
	}
}

func (s *Session) finish() {
	s.once.Do(func() { close(s.done) })
}

// deliver 将续延的结果帧送回会话邮箱。会话已结束时结果被丢弃：
// 持久化在续延内部已经完成，丢弃只影响投递。
func (s *Session) deliver(frame map[string]interface{}) {
	select {
	case s.mailbox <- event{kind: eventDeliver, frame: frame}:
	case <-s.done:
	}
}

// send 编码并写出一帧。只在事件循环 goroutine 中调用。
func (s *Session) send(frame map[string]interface{}) {
	data, err := Encode(frame)
	if err != nil {
		log.Errorf("编码出站帧失败: %v", err)
		return
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Warnf("写出站帧失败: %v", err)
	}
}

// handleInbound 解码并按当前状态分发一条入站帧。
// init 阶段与 JSON 解析失败的错误帧不带 type 字段，
// 已激活状态下的错误帧带 type；两种形状都需保持原样。
func (s *Session) handleInbound(data []byte) {
	raw, err := Decode(data)
	if err != nil {
		s.send(bareErrorFrame(errInvalidJSON))
		return
	}

	frame, err := parseInbound(raw)
	if err != nil {
		if s.state == stateUninitialized {
			s.send(bareErrorFrame(err.Error()))
		} else {
			s.send(errorFrame(err.Error()))
		}
		return
	}

	switch s.state {
	case stateUninitialized:
		if frame.Type != inboundTypeInit {
			s.send(bareErrorFrame("Conversation is not initialized"))
			return
		}
		s.handleInit(frame.DocumentIDs)
	case stateActive:
		if frame.Type != inboundTypeMessage {
			s.send(errorFrame(fmt.Sprintf("Unexpected frame type: %s", frame.Type)))
			return
		}
		s.handleChat(frame.Content)
	}
}

// handleInit 解析或创建会话并同步回复快照帧。
// 只有属于当前用户的文档才会被绑定；新建会话时调度异步问候。
func (s *Session) handleInit(documentIDs []uint) {
	ctx := context.Background()

	docs, err := s.deps.Documents.FindOwned(s.user.ID, documentIDs)
	if err != nil {
		log.Errorf("查找文档失败: user=%d, err=%v", s.user.ID, err)
		s.send(bareErrorFrame("Failed to initialize conversation"))
		return
	}
	ownedIDs := make([]uint, len(docs))
	for i, d := range docs {
		ownedIDs[i] = d.ID
	}

	conv, created, err := s.deps.Conversations.ResolveOrCreate(ctx, s.user.ID, ownedIDs)
	if err != nil {
		log.Errorf("解析会话失败: user=%d, err=%v", s.user.ID, err)
		s.send(bareErrorFrame("Failed to initialize conversation"))
		return
	}

	history, err := s.deps.Conversations.History(ctx, conv.ID)
	if err != nil {
		log.Errorf("加载会话历史失败: conversation=%d, err=%v", conv.ID, err)
		s.send(bareErrorFrame("Failed to initialize conversation"))
		return
	}

	s.conv = conv
	s.state = stateActive
	s.send(snapshotFrame(conv, history))

	if created {
		go s.runGreeting(conv, docs)
	}
}

// handleChat 同步持久化用户消息并立即回执，然后调度补全续延。
// 回执先于补全调度，保证 messageSaved 总在对应 aiResponse 之前下发。
func (s *Session) handleChat(content string) {
	msg, err := s.deps.Conversations.AppendMessage(context.Background(), s.conv, model.RoleUser, content)
	if err != nil {
		var ve *errs.ValidationError
		if errors.As(err, &ve) {
			s.send(errorFrame("Message content must not be empty"))
			return
		}
		log.Errorf("保存用户消息失败: conversation=%d, err=%v", s.conv.ID, err)
		s.send(errorFrame("Failed to save message"))
		return
	}

	s.send(messageFrame(frameTypeMessageSaved, msg))

	go s.runCompletion(s.conv.ID)
}

// runCompletion 是补全续延，在独立 goroutine 中运行。
// 它重新加载会话（以观察到其他并发续延写入的消息）、解析文档文本、
// 调用补全管线、持久化 assistant 消息，最后把结果帧投回邮箱。
// 任何失败都在此边界被吸收为一条通用错误帧，绝不终止会话。
func (s *Session) runCompletion(conversationID uint) {
	ctx := context.Background()

	conv, err := s.deps.Conversations.Get(ctx, conversationID, s.user.ID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			// 会话已不可见：续延退化为 no-op，不发任何帧
			return
		}
		log.Errorf("补全续延加载会话失败: conversation=%d, err=%v", conversationID, err)
		s.deliver(errorFrame(errGenerateFailed))
		return
	}

	docs, err := s.deps.Documents.FindOwned(s.user.ID, conv.DocumentIDList())
	if err != nil {
		log.Errorf("补全续延查找文档失败: conversation=%d, err=%v", conversationID, err)
		s.deliver(errorFrame(errGenerateFailed))
		return
	}
	contexts := make([]service.DocumentContext, 0, len(docs))
	for i := range docs {
		contexts = append(contexts, service.DocumentContext{
			Name: docs[i].FileName,
			Text: s.deps.Documents.ExtractedText(ctx, &docs[i]),
		})
	}

	history, err := s.deps.Conversations.History(ctx, conv.ID)
	if err != nil {
		log.Errorf("补全续延加载历史失败: conversation=%d, err=%v", conversationID, err)
		s.deliver(errorFrame(errGenerateFailed))
		return
	}

	answer := s.deps.Chat.Complete(ctx, history, contexts)

	msg, err := s.deps.Conversations.AppendMessage(ctx, conv, model.RoleAssistant, answer)
	if err != nil {
		log.Errorf("保存 assistant 消息失败: conversation=%d, err=%v", conversationID, err)
		s.deliver(errorFrame(errGenerateFailed))
		return
	}

	s.deliver(messageFrame(frameTypeAIResponse, msg))
}

// runGreeting 是只在会话首次创建时调度的问候续延。
// 问候是尽力而为的：自身的失败静默吞掉，不发错误帧。
func (s *Session) runGreeting(conv *model.Conversation, docs []model.Document) {
	msg, err := s.deps.Conversations.AppendMessage(context.Background(), conv, model.RoleAssistant, greetingText(docs))
	if err != nil {
		log.Warnf("问候消息写入失败: conversation=%d, err=%v", conv.ID, err)
		return
	}
	s.deliver(messageFrame(frameTypeAIResponse, msg))
}

// greetingText 合成确定性的问候语：列出绑定的文档名，没有文档时使用通用邀请。
func greetingText(docs []model.Document) string {
	if len(docs) == 0 {
		return "Hello! You haven't attached any documents to this conversation yet, but feel free to ask me anything."
	}
	names := make([]string, len(docs))
	for i, d := range docs {
		names[i] = d.FileName
	}
	return fmt.Sprintf("Hello! I'm ready to answer questions about %s. What would you like to know?", strings.Join(names, ", "))
}
