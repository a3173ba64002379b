package monitor

import "time"

// Direction 表示訊息的流向
type Direction string

const (
	Inbound  Direction = "IN"  // controller → app
	Outbound Direction = "OUT" // app → controller
)

// MonitorMessage 代表一則監控訊息 (一個協定 frame)
type MonitorMessage struct {
	Timestamp    time.Time
	Direction    Direction
	ConnectionID string
	Command      string
	Content      string // 原始 JSON
}

// Monitor 介面定義了監控器的行為
type Monitor interface {
	// Start 啟動監控器
	Start() error

	// Stop 停止監控器
	Stop() error

	// OnMessage 接收並顯示監控訊息，必須不阻塞
	OnMessage(msg MonitorMessage)
}

// Multi 將訊息廣播給多個監控器
type Multi []Monitor

func (m Multi) Start() error {
	for _, mon := range m {
		if err := mon.Start(); err != nil {
			return err
		}
	}
	return nil
}

func (m Multi) Stop() error {
	var first error
	for _, mon := range m {
		if err := mon.Stop(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m Multi) OnMessage(msg MonitorMessage) {
	for _, mon := range m {
		mon.OnMessage(msg)
	}
}
