package main

import (
	"flag"
	"log"
	"net"
	"strings"
	"time"
)

// 向本地服务发送一段典型比赛的PSS数据报，用于联调
func main() {
	addr := flag.String("addr", "127.0.0.1:6000", "UDP address of the service")
	delay := flag.Duration("delay", 200*time.Millisecond, "delay between frames")
	flag.Parse()

	frames := []string{
		"cfg;M-101;3;120;60",
		"rdy;M-101",
		"ath;1;KIM;KOR;12",
		"ath;2;LOPEZ;ESP;9",
		"rnd;1",
		"clk;02:00;start",
		"hl1;75",
		"pt1;2",
		"hl2;40",
		"pt2;1",
		"wng;1;0",
		"clk;00:00;stop",
		"brk;1;01:00;start",
		"brk;1;00:00;end",
		"rnd;2",
		"clk;02:00;start",
		"clk;01:15;corr",
		"pt1;5",
		"win;1;PTF",
	}

	conn, err := net.Dial("udp", *addr)
	if err != nil {
		log.Fatalf("Failed to dial %s: %v", *addr, err)
	}
	defer conn.Close()

	for _, frame := range frames {
		if _, err := conn.Write([]byte(frame)); err != nil {
			log.Fatalf("Failed to send %q: %v", frame, err)
		}
		log.Printf("sent %s", strings.ReplaceAll(frame, ";", " "))
		time.Sleep(*delay)
	}

	log.Printf("Done: %d frames sent", len(frames))
}
