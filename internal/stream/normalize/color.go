package normalize

type symState struct {
	price    int64
	hasPrice bool
}

// Colorizer 记录每个 symbol 的上一笔成交价。
// 只属于一个 Broadcast Loop，不加锁。
type Colorizer struct {
	last map[string]symState
}

func NewColorizer() *Colorizer {
	return &Colorizer{last: make(map[string]symState, 256)}
}

// Apply 按顺序调用，给 r 填 Color 并更新状态。
//
//	H: 首次出现 black，否则 yellow
//	T: 首次出现 black；涨 green，跌 red，平 green
//
// 只有带价格的 T 会更新上一笔价格。
func (c *Colorizer) Apply(r *Record) {
	st, seen := c.last[r.Symbol]

	switch {
	case r.MsgType == MsgHalt:
		if seen {
			r.Color = ColorYellow
		} else {
			r.Color = ColorBlack
		}
	case !seen || !st.hasPrice:
		r.Color = ColorBlack
	case r.Price == NoPrice:
		r.Color = ColorGreen
	case r.Price < st.price:
		r.Color = ColorRed
	default:
		r.Color = ColorGreen
	}

	if r.MsgType == MsgTrade && r.Price != NoPrice {
		st.price = r.Price
		st.hasPrice = true
	}
	c.last[r.Symbol] = st
}

// Len 已见过的 symbol 数
func (c *Colorizer) Len() int { return len(c.last) }
