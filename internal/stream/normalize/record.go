package normalize

// 消息类型：T 成交，H 停牌/交易状态
const (
	MsgTrade = "T"
	MsgHalt  = "H"
)

// 价格方向颜色
const (
	ColorBlack  = "black"
	ColorGreen  = "green"
	ColorRed    = "red"
	ColorYellow = "yellow"
)

// NoPrice 上游没给价格时的占位值
const NoPrice int64 = -1

// Record 归一化后的一条记录；进入 Batch 之后不再修改
type Record struct {
	TrackingID         int64
	Timestamp          string // RFC3339Nano，交易所时区
	MsgType            string
	Symbol             string
	Price              int64
	Size               int64
	MarketCenter       string
	SecurityClass      string
	ControlNumber      string
	SaleCondition      string
	ConsolidatedVolume int64
	Partition          int64
	Sequence           int64
	Color              string
}

// Headers 与 Record.row() 的列顺序一一对应
var Headers = []string{
	"trackingID",
	"timestamp",
	"msgType",
	"symbol",
	"price",
	"size",
	"marketCenter",
	"securityClass",
	"controlNumber",
	"saleCondition",
	"consolidatedVolume",
	"partition",
	"sequence",
	"color",
}

func (r Record) row() []any {
	return []any{
		r.TrackingID,
		r.Timestamp,
		r.MsgType,
		r.Symbol,
		r.Price,
		r.Size,
		r.MarketCenter,
		r.SecurityClass,
		r.ControlNumber,
		r.SaleCondition,
		r.ConsolidatedVolume,
		r.Partition,
		r.Sequence,
		r.Color,
	}
}
