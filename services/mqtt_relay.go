package services

import (
	"crypto/tls"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"pss-service/config"
	"pss-service/logger"
)

// MQTTRelay PSS帧的MQTT中继接入
// 部分场馆把计分总线桥接到MQTT broker，主题载荷就是原始PSS帧
type MQTTRelay struct {
	cfg      config.MQTTConfig
	pipeline *Pipeline
	client   mqtt.Client
}

// NewMQTTRelay 创建MQTT中继
func NewMQTTRelay(cfg config.MQTTConfig, pipeline *Pipeline) *MQTTRelay {
	return &MQTTRelay{cfg: cfg, pipeline: pipeline}
}

// Start 连接broker并订阅PSS帧主题
func (r *MQTTRelay) Start() error {
	opts := mqtt.NewClientOptions().
		AddBroker(r.cfg.Broker).
		SetClientID(fmt.Sprintf("pss-relay-%d", time.Now().Unix())).
		SetUsername(r.cfg.Username).
		SetPassword(r.cfg.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetKeepAlive(30 * time.Second).
		SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		logger.Printf("[MQTT] Connected to %s, subscribing to %s", r.cfg.Broker, r.cfg.Topic)
		token := client.Subscribe(r.cfg.Topic, 1, r.handleFrame)
		token.Wait()
		if err := token.Error(); err != nil {
			logger.Errorf("[MQTT] Subscribe failed: %v", err)
		}
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		logger.Errorf("[MQTT] Connection lost: %v", err)
	})

	r.client = mqtt.NewClient(opts)
	token := r.client.Connect()
	if !token.WaitTimeout(15 * time.Second) {
		return fmt.Errorf("mqtt connect timeout to %s", r.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to mqtt broker: %w", err)
	}
	return nil
}

// Stop 断开broker连接
func (r *MQTTRelay) Stop() {
	if r.client != nil && r.client.IsConnected() {
		r.client.Disconnect(250)
	}
}

func (r *MQTTRelay) handleFrame(_ mqtt.Client, msg mqtt.Message) {
	r.pipeline.Ingest(msg.Payload(), "mqtt", time.Now())
}
