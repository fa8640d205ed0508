package mqtt5

import (
	"github.com/golang-io/mqtt5/packet"
	"github.com/golang-io/requests"
)

// Options 会话级配置，通过[Option]构造函数设置
// 其中大部分字段直接映射到CONNECT报文的字段和属性。
type Options struct {
	URL      string // client used
	ClientID string

	// KeepAlive 保活间隔(秒)，0表示关闭
	// CONNACK携带服务端保活时间时以服务端为准。
	KeepAlive uint16

	// CleanStart 为true时要求服务端丢弃已有会话状态
	CleanStart bool

	Username string
	Password []byte

	// SessionExpiryInterval 会话过期间隔(秒)
	SessionExpiryInterval uint32

	// ReceiveMaximum 客户端通告的接收最大值(约束服务端的入站QoS>0并发)
	ReceiveMaximum uint16

	// MaximumPacketSize 客户端愿意接收的最大报文长度
	MaximumPacketSize uint32

	// TopicAliasMaximum 客户端愿意接受的入站主题别名上限
	TopicAliasMaximum uint16

	RequestResponseInformation bool
	RequestProblemInformation  bool

	UserProperties packet.UserProperties

	// AuthenticationMethod/Data 设置后CONNECT进入扩展认证流程
	AuthenticationMethod string
	AuthenticationData   []byte

	// Will 遗嘱消息配置，Topic和Payload必须同时出现
	Will *Will
}

// Will 遗嘱消息配置
// 参考章节: 3.1.3.2 Will Properties, 3.1.3.3 Will Topic
type Will struct {
	Topic   string
	Payload []byte
	QoS     uint8
	Retain  bool

	Delay                  uint32
	PayloadFormatIndicator uint8
	MessageExpiryInterval  uint32
	ContentType            string
	ResponseTopic          string
	CorrelationData        []byte
	UserProperties         packet.UserProperties
}

type Option func(*Options)

func newOptions(opts ...Option) Options {
	options := Options{
		URL:        "mqtt://127.0.0.1:1883",
		ClientID:   "mqtt5-" + requests.GenId(),
		CleanStart: true,
	}
	for _, o := range opts {
		o(&options)
	}
	return options
}

func URL(url string) Option {
	return func(o *Options) { o.URL = url }
}

func ClientID(id string) Option {
	return func(o *Options) { o.ClientID = id }
}

func KeepAlive(seconds uint16) Option {
	return func(o *Options) { o.KeepAlive = seconds }
}

func CleanStart(clean bool) Option {
	return func(o *Options) { o.CleanStart = clean }
}

func Credentials(username string, password []byte) Option {
	return func(o *Options) { o.Username, o.Password = username, password }
}

func SessionExpiry(seconds uint32) Option {
	return func(o *Options) { o.SessionExpiryInterval = seconds }
}

func ReceiveMaximum(n uint16) Option {
	return func(o *Options) { o.ReceiveMaximum = n }
}

func MaximumPacketSize(n uint32) Option {
	return func(o *Options) { o.MaximumPacketSize = n }
}

func TopicAliasMaximum(n uint16) Option {
	return func(o *Options) { o.TopicAliasMaximum = n }
}

func RequestResponseInformation() Option {
	return func(o *Options) { o.RequestResponseInformation = true }
}

func RequestProblemInformation() Option {
	return func(o *Options) { o.RequestProblemInformation = true }
}

func UserProperty(name, value string) Option {
	return func(o *Options) { o.UserProperties = append(o.UserProperties, [2]string{name, value}) }
}

func Authentication(method string, data []byte) Option {
	return func(o *Options) { o.AuthenticationMethod, o.AuthenticationData = method, data }
}

func WillMessage(will *Will) Option {
	return func(o *Options) { o.Will = will }
}

// PublishOptions 单次发布的参数，与PUBLISH报文的字段和属性一一对应
type PublishOptions struct {
	Topic   string
	Payload []byte
	QoS     uint8
	Retain  bool

	PayloadFormatIndicator uint8
	MessageExpiryInterval  uint32
	TopicAlias             uint16
	ResponseTopic          string
	CorrelationData        []byte
	ContentType            string
	UserProperties         packet.UserProperties
}

// SubscribeOptions 单次订阅的参数: 一个主题过滤器和它的订阅选项
// 参考章节: 3.8.3.1 Subscription Options
type SubscribeOptions struct {
	TopicFilter       string
	MaximumQoS        uint8
	NoLocal           bool
	RetainAsPublished bool
	RetainHandling    uint8
	UserProperties    packet.UserProperties
}

// UnsubscribeOptions 取消订阅的参数
type UnsubscribeOptions struct {
	TopicFilters   []string
	UserProperties packet.UserProperties
}

// AuthOptions 扩展认证交换的参数
// ReAuthenticate为true时原因码是0x19(重新认证)，否则是0x18(继续认证)。
type AuthOptions struct {
	ReAuthenticate       bool
	AuthenticationMethod string
	AuthenticationData   []byte
	ReasonString         string
	UserProperties       packet.UserProperties
}

// DisconnectOptions 主动断开的参数
type DisconnectOptions struct {
	ReasonCode            packet.ReasonCode
	SessionExpiryInterval uint32
	ReasonString          string
	UserProperties        packet.UserProperties
}
