package feed

import (
	"fmt"
	"time"

	"github.com/segmentio/encoding/json"
)

// Message 是 consumer poll 出来的一条原始消息，Value 尚未解码
type Message struct {
	Topic string
	Key   []byte
	Value []byte
	Time  time.Time
}

// RawMessage NLSUTP 成交消息。字段名与上游 JSON 保持一致。
// Price 可能缺失，缺失时为 nil。
type RawMessage struct {
	Partition          int64  `json:"SoupPartition"`
	Sequence           int64  `json:"soupSequence"`
	TrackingID         string `json:"trackingID"`
	MsgType            string `json:"msgType"`
	MarketCenter       string `json:"marketCenter"`
	Symbol             string `json:"symbol"`
	SecurityClass      string `json:"securityClass"`
	ControlNumber      string `json:"controlNumber"`
	Price              *int64 `json:"price"`
	Size               int64  `json:"size"`
	SaleCondition      string `json:"saleCondition"`
	ConsolidatedVolume int64  `json:"consolidatedVolume"`
}

// DecodeError 单条消息无法解码；调用方跳过这一条即可
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("feed: decode message: %v", e.Err) }
func (e *DecodeError) Unwrap() error { return e.Err }

func Decode(b []byte) (RawMessage, error) {
	var m RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return RawMessage{}, &DecodeError{Err: err}
	}
	return m, nil
}

// Encode 反向编码，测试和 Redis/NATS 回放工具用
func Encode(m RawMessage) ([]byte, error) {
	return json.Marshal(m)
}
