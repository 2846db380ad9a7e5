package dummy

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// PriceDecimals NASDAQ 价格为 4 位隐含小数的整数
const PriceDecimals = 4

// SymbolRange 一个 symbol 的价格/数量区间，价格已换算成整数价格单位
type SymbolRange struct {
	Symbol    string
	PriceLow  int64
	PriceHigh int64
	SizeLow   int64
	SizeHigh  int64
}

// SymbolRow 配置文件里的一行，价格用美元字符串表示，如 "185.25"
type SymbolRow struct {
	Symbol    string `mapstructure:"symbol"`
	PriceLow  string `mapstructure:"price_low"`
	PriceHigh string `mapstructure:"price_high"`
	SizeLow   int64  `mapstructure:"size_low"`
	SizeHigh  int64  `mapstructure:"size_high"`
}

func (r SymbolRow) Range() (SymbolRange, error) {
	sr, err := r.toRange()
	if err != nil {
		return SymbolRange{}, fmt.Errorf("dummy: %w", err)
	}
	return sr, nil
}

// toRange 错误不带包前缀，由调用方补上下文
func (r SymbolRow) toRange() (SymbolRange, error) {
	lo, err := ParsePrice(r.PriceLow)
	if err != nil {
		return SymbolRange{}, fmt.Errorf("%s price_low: %w", r.Symbol, err)
	}
	hi, err := ParsePrice(r.PriceHigh)
	if err != nil {
		return SymbolRange{}, fmt.Errorf("%s price_high: %w", r.Symbol, err)
	}
	sr := SymbolRange{
		Symbol:    strings.ToUpper(strings.TrimSpace(r.Symbol)),
		PriceLow:  lo,
		PriceHigh: hi,
		SizeLow:   r.SizeLow,
		SizeHigh:  r.SizeHigh,
	}
	return sr, sr.check()
}

func (s SymbolRange) Validate() error {
	if err := s.check(); err != nil {
		return fmt.Errorf("dummy: %w", err)
	}
	return nil
}

func (s SymbolRange) check() error {
	switch {
	case s.Symbol == "":
		return errors.New("empty symbol")
	case s.PriceLow <= 0 || s.PriceHigh < s.PriceLow:
		return fmt.Errorf("%s bad price range [%d, %d]", s.Symbol, s.PriceLow, s.PriceHigh)
	case s.SizeLow <= 0 || s.SizeHigh < s.SizeLow:
		return fmt.Errorf("%s bad size range [%d, %d]", s.Symbol, s.SizeLow, s.SizeHigh)
	}
	return nil
}

func Rows(rows []SymbolRow) ([]SymbolRange, error) {
	out := make([]SymbolRange, 0, len(rows))
	for _, r := range rows {
		sr, err := r.Range()
		if err != nil {
			return nil, err
		}
		out = append(out, sr)
	}
	return out, nil
}

// LoadCSV 列：symbol,price_low,price_high,size_low,size_high；首行为表头时跳过
func LoadCSV(r io.Reader) ([]SymbolRange, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 5
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	var out []SymbolRange
	for first := true; ; first = false {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				return nil, fmt.Errorf("dummy: csv line %d: %w", pe.StartLine, pe.Err)
			}
			return nil, fmt.Errorf("dummy: csv: %w", err)
		}
		// 文件里的物理行号，注释和空行也算
		line, _ := cr.FieldPos(0)
		if first && strings.EqualFold(rec[0], "symbol") {
			continue
		}
		sizeLow, err := strconv.ParseInt(rec[3], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("dummy: csv line %d: size_low: %w", line, err)
		}
		sizeHigh, err := strconv.ParseInt(rec[4], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("dummy: csv line %d: size_high: %w", line, err)
		}
		sr, err := SymbolRow{
			Symbol:    rec[0],
			PriceLow:  rec[1],
			PriceHigh: rec[2],
			SizeLow:   sizeLow,
			SizeHigh:  sizeHigh,
		}.toRange()
		if err != nil {
			return nil, fmt.Errorf("dummy: csv line %d: %w", line, err)
		}
		out = append(out, sr)
	}
	return out, nil
}

func LoadCSVFile(path string) ([]SymbolRange, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadCSV(f)
}

// DefaultTable 没有配置时使用的几个大盘股
func DefaultTable() []SymbolRange {
	rows := []SymbolRow{
		{Symbol: "AAPL", PriceLow: "165.00", PriceHigh: "195.00", SizeLow: 1, SizeHigh: 500},
		{Symbol: "MSFT", PriceLow: "380.00", PriceHigh: "430.00", SizeLow: 1, SizeHigh: 300},
		{Symbol: "NVDA", PriceLow: "700.00", PriceHigh: "950.00", SizeLow: 1, SizeHigh: 400},
		{Symbol: "AMZN", PriceLow: "160.00", PriceHigh: "190.00", SizeLow: 1, SizeHigh: 500},
		{Symbol: "TSLA", PriceLow: "160.00", PriceHigh: "210.00", SizeLow: 1, SizeHigh: 800},
	}
	out, err := Rows(rows)
	if err != nil {
		panic(err)
	}
	return out
}
