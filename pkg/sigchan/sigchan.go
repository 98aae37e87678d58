package sigchan

import "sync/atomic"

// Chan 是一个非阻塞的信号 channel
// 用于通知事件发生，但不传递数据；接收方来不及处理的信号会被合并。
type Chan struct {
	c       chan struct{}
	emitted atomic.Int64
	dropped atomic.Int64
}

// New 创建新的信号 channel
func New(bufferSize int) *Chan {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Chan{
		c: make(chan struct{}, bufferSize),
	}
}

// Emit 发送信号（非阻塞）；返回信号是否进入缓冲
func (c *Chan) Emit() bool {
	c.emitted.Add(1)
	select {
	case c.c <- struct{}{}:
		return true
	default:
		// channel 已满，与尚未消费的信号合并
		c.dropped.Add(1)
		return false
	}
}

// C 返回内部的 channel（用于 select）
func (c *Chan) C() <-chan struct{} {
	return c.c
}

// Emitted 累计发送次数
func (c *Chan) Emitted() int64 { return c.emitted.Load() }

// Coalesced 被合并的次数
func (c *Chan) Coalesced() int64 { return c.dropped.Load() }
