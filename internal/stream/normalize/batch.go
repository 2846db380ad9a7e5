package normalize

import (
	"github.com/segmentio/encoding/json"
)

// WireVersion 推送格式版本号，改列时加一
const WireVersion = 1

// Batch 一个周期内某个 topic 的全部记录
type Batch struct {
	Topic   string
	Records []Record
}

type wireBatch struct {
	V       int      `json:"v"`
	Topic   string   `json:"topic"`
	Headers []string `json:"headers"`
	Data    [][]any  `json:"data"`
}

// Encode 编成 {"headers":[...],"data":[[...]]}，每个周期编码一次，所有订阅者共享同一份 bytes
func (b Batch) Encode() ([]byte, error) {
	rows := make([][]any, len(b.Records))
	for i, r := range b.Records {
		rows[i] = r.row()
	}
	return json.Marshal(wireBatch{
		V:       WireVersion,
		Topic:   b.Topic,
		Headers: Headers,
		Data:    rows,
	})
}
