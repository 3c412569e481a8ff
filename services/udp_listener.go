package services

import (
	"fmt"
	"net"
	"time"

	"pss-service/logger"
)

// UDPListener PSS数据报接入循环
// 每个数据报在本循环内同步解码+分类，保证序号顺序
type UDPListener struct {
	addr     string
	pipeline *Pipeline
	conn     *net.UDPConn
	done     chan struct{}
}

// NewUDPListener 创建UDP监听器
func NewUDPListener(addr string, pipeline *Pipeline) *UDPListener {
	return &UDPListener{
		addr:     addr,
		pipeline: pipeline,
		done:     make(chan struct{}),
	}
}

// Start 绑定端口并开始接收，绑定失败是进程级致命错误，由调用方处理
func (l *UDPListener) Start() error {
	udpAddr, err := net.ResolveUDPAddr("udp", l.addr)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", l.addr, err)
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", l.addr, err)
	}
	l.conn = conn

	logger.Printf("[UDP] Listening for PSS frames on %s", l.addr)

	go l.receiveLoop()
	return nil
}

// Stop 停止接收新数据报
func (l *UDPListener) Stop() {
	close(l.done)
	if l.conn != nil {
		l.conn.Close()
	}
}

// Addr 返回实际绑定的地址，Start成功前为nil
func (l *UDPListener) Addr() net.Addr {
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

func (l *UDPListener) receiveLoop() {
	// 64KiB覆盖UDP载荷上限，避免ReadFromUDP静默截断长帧
	buf := make([]byte, 64*1024)
	for {
		n, _, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-l.done:
				logger.Println("[UDP] Listener stopped")
				return
			default:
				logger.Errorf("[UDP] Read error: %v", err)
				continue
			}
		}

		frame := make([]byte, n)
		copy(frame, buf[:n])
		l.pipeline.Ingest(frame, "udp", time.Now())
	}
}
