package tcuclient

import (
	"sync"
	"time"
)

// ============================================================================
// Mock 实现
// ============================================================================

// MockPort 是 Port 的脚本化 Mock：第 n 次 Send 之后，replies[n-1] 中的应答可被 Recv 取出
type MockPort struct {
	mu        sync.Mutex
	replies   [][][]byte
	pending   [][]byte
	sendLog   [][]byte
	waits     []time.Duration // 记录每次阻塞 Recv 的超时
	startErr  error
	sendErr   error
	sendErrAt int // 第几次 Send 失败，0 表示不失败
	starts    int
	stops     int
}

func NewMockPort() *MockPort {
	return &MockPort{}
}

// Script 设置每次发送后的应答，nil 表示该次超时
func (p *MockPort) Script(replies ...[][]byte) *MockPort {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replies = replies
	return p
}

// Stale 放入发送前就存在的旧应答
func (p *MockPort) Stale(frames ...[]byte) *MockPort {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, frames...)
	return p
}

func (p *MockPort) FailSend(n int, err error) *MockPort {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sendErrAt = n
	p.sendErr = err
	return p
}

func (p *MockPort) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.starts++
	return p.startErr
}

func (p *MockPort) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
	return nil
}

func (p *MockPort) Send(payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sendLog = append(p.sendLog, append([]byte{}, payload...))
	n := len(p.sendLog)
	if p.sendErrAt == n {
		return p.sendErr
	}
	if n-1 < len(p.replies) {
		p.pending = append(p.pending, p.replies[n-1]...)
	}
	return nil
}

func (p *MockPort) Recv(timeout time.Duration) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if timeout > 0 {
		p.waits = append(p.waits, timeout)
	}
	if len(p.pending) == 0 {
		return nil, false
	}
	frame := p.pending[0]
	p.pending = p.pending[1:]
	return frame, true
}

// GetSendLog 获取发送日志
func (p *MockPort) GetSendLog() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte{}, p.sendLog...)
}

// ============================================================================
// 报文构造辅助
// ============================================================================

func reply(frames ...[]byte) [][]byte { return frames }

func positive(id byte, payload ...byte) []byte {
	return append([]byte{0x61, id}, payload...)
}

func negative(sid, nrc byte) []byte {
	return []byte{0x7F, sid, nrc}
}

func textResponse(id byte, text string) []byte {
	return append([]byte{0x61, id, 0x00}, []byte(text)...)
}

// openClient 返回一个会话已打开的客户端
func openClient(port *MockPort, opts Options) *Client {
	c := NewClient(port, opts, nopLogger)
	c.state = SessionOpen
	return c
}
