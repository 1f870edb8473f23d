package mqtt

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"safesleep-telemetry/common/config"
	"safesleep-telemetry/common/errs"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// ErrNotConnected 客户端未连接时发布/订阅返回
var ErrNotConnected = errors.New("mqtt client not connected")

const defaultOpTimeout = 10 * time.Second

// MessageHandler 消息处理函数类型
type MessageHandler func(topic string, payload []byte) error

// ErrorHook 处理函数失败时的回调（用于计数）
type ErrorHook func(topic string, err error)

type subscription struct {
	qos     byte
	handler MessageHandler
}

// Client MQTT客户端封装
//
// Publish 通过互斥锁串行化，阈值监控和对账循环可共享同一连接。
type Client struct {
	client mqtt.Client
	config *config.MQTTConfig
	logger *zap.Logger

	pubMu sync.Mutex

	subMu sync.Mutex
	subs  map[string]subscription

	onError ErrorHook
}

// NewClient 创建MQTT客户端并连接
func NewClient(cfg *config.MQTTConfig, logger *zap.Logger) (*Client, error) {
	c := &Client{
		config: cfg,
		logger: logger,
		subs:   make(map[string]subscription),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	if cfg.KeepAlive > 0 {
		opts.SetKeepAlive(cfg.KeepAlive)
	}
	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout)
	}

	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("MQTT connected", zap.String("broker", cfg.Broker))
		c.resubscribe()
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", zap.String("broker", cfg.Broker), zap.Error(err))
	})

	c.client = mqtt.NewClient(opts)

	token := c.client.Connect()
	if !token.WaitTimeout(c.opTimeout()) {
		return nil, errs.New(errs.ClassTransport, "Connect", "timeout connecting to MQTT broker %s", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, errs.Wrap(errs.ClassTransport, "Connect", fmt.Errorf("failed to connect to MQTT broker: %w", err))
	}

	return c, nil
}

// SetErrorHook 设置处理函数失败回调
func (c *Client) SetErrorHook(hook ErrorHook) {
	c.onError = hook
}

// Subscribe 订阅主题
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if !c.IsConnected() {
		return errs.Wrap(errs.ClassTransport, "Subscribe", ErrNotConnected)
	}

	c.subMu.Lock()
	c.subs[topic] = subscription{qos: qos, handler: handler}
	c.subMu.Unlock()

	if err := c.wait(c.client.Subscribe(topic, qos, c.wrap(handler))); err != nil {
		return errs.Wrap(errs.ClassTransport, "Subscribe", fmt.Errorf("failed to subscribe to topic %s: %w", topic, err))
	}
	return nil
}

// Publish 发布消息
func (c *Client) Publish(topic string, qos byte, retained bool, payload []byte) error {
	if !c.IsConnected() {
		c.logger.Warn("Publish skipped, MQTT client not connected", zap.String("topic", topic))
		return errs.Wrap(errs.ClassTransport, "Publish", ErrNotConnected)
	}

	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	if err := c.wait(c.client.Publish(topic, qos, retained, payload)); err != nil {
		return errs.Wrap(errs.ClassTransport, "Publish", fmt.Errorf("failed to publish to topic %s: %w", topic, err))
	}
	return nil
}

// Unsubscribe 取消订阅
func (c *Client) Unsubscribe(topics ...string) error {
	c.subMu.Lock()
	for _, t := range topics {
		delete(c.subs, t)
	}
	c.subMu.Unlock()

	if !c.IsConnected() {
		return nil
	}
	if err := c.wait(c.client.Unsubscribe(topics...)); err != nil {
		return errs.Wrap(errs.ClassTransport, "Unsubscribe", fmt.Errorf("failed to unsubscribe: %w", err))
	}
	return nil
}

// Disconnect 断开连接
func (c *Client) Disconnect() {
	c.client.Disconnect(250) // 250ms等待时间
}

// IsConnected 检查连接状态
func (c *Client) IsConnected() bool {
	return c.client != nil && c.client.IsConnected()
}

// resubscribe 重连后恢复订阅（clean session 不保留服务端订阅）
func (c *Client) resubscribe() {
	c.subMu.Lock()
	subs := make(map[string]subscription, len(c.subs))
	for t, s := range c.subs {
		subs[t] = s
	}
	c.subMu.Unlock()

	for topic, s := range subs {
		if err := c.wait(c.client.Subscribe(topic, s.qos, c.wrap(s.handler))); err != nil {
			c.logger.Error("Failed to restore subscription", zap.String("topic", topic), zap.Error(err))
			continue
		}
		c.logger.Info("Subscription restored", zap.String("topic", topic))
	}
}

func (c *Client) wrap(handler MessageHandler) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		c.dispatch(handler, msg.Topic(), msg.Payload())
	}
}

// dispatch 调用处理函数；错误和 panic 只记录，不中断后续消息
func (c *Client) dispatch(handler MessageHandler, topic string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("handler panic: %v", r)
			c.logger.Error("Recovered from MQTT handler panic", zap.String("topic", topic), zap.Error(err))
			if c.onError != nil {
				c.onError(topic, err)
			}
		}
	}()

	if err := handler(topic, payload); err != nil {
		c.logger.Error("Error handling MQTT message", zap.String("topic", topic), zap.Error(err))
		if c.onError != nil {
			c.onError(topic, err)
		}
	}
}

func (c *Client) wait(token mqtt.Token) error {
	if !token.WaitTimeout(c.opTimeout()) {
		return fmt.Errorf("operation timed out after %s", c.opTimeout())
	}
	return token.Error()
}

func (c *Client) opTimeout() time.Duration {
	if c.config != nil && c.config.ConnectTimeout > 0 {
		return c.config.ConnectTimeout
	}
	return defaultOpTimeout
}
