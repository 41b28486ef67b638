// Package tokentax loads the per-token tax report produced by the
// offline tax simulator: buy/sell/transfer percentages plus a flag for
// whether the simulation succeeded at all. The table is immutable after
// load and shared by reference.
package tokentax

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sugawarayuuta/sonnet"
)

// ErrMalformedLine is returned when a report line is not valid JSON or
// carries an unparseable token address.
var ErrMalformedLine = errors.New("malformed token tax line")

// Info is the tax profile of a single token. Percentages are in the
// range [0, 100].
type Info struct {
	BuyTax            float64
	SellTax           float64
	TransferTax       float64
	SimulationSuccess bool
}

// BuyTaxBps and SellTaxBps convert the percentages to basis points for
// exact-integer application during swap simulation. Rounded to the
// nearest point: 0.29% is 29 bps despite 0.29*100 landing just below it
// in binary.
func (i Info) BuyTaxBps() int64  { return int64(math.Round(i.BuyTax * 100)) }
func (i Info) SellTaxBps() int64 { return int64(math.Round(i.SellTax * 100)) }

// Table maps token addresses to their tax profile. Read-only for the
// lifetime of the process.
type Table struct {
	tokens map[common.Address]Info
}

// NewTable builds a table from an in-memory map, for tests and for
// callers that source the report elsewhere.
func NewTable(tokens map[common.Address]Info) *Table {
	m := make(map[common.Address]Info, len(tokens))
	for addr, info := range tokens {
		m[addr] = info
	}
	return &Table{tokens: m}
}

// Get returns the tax profile for a token.
func (t *Table) Get(addr common.Address) (Info, bool) {
	info, ok := t.tokens[addr]
	return info, ok
}

// Routable reports whether a token may appear as an intermediate hop of
// a generated route: unknown tokens are allowed, known tokens must have
// passed tax simulation.
func (t *Table) Routable(addr common.Address) bool {
	info, ok := t.tokens[addr]
	if !ok {
		return true
	}
	return info.SimulationSuccess
}

// Len reports the number of tokens in the table.
func (t *Table) Len() int { return len(t.tokens) }

type reportLine struct {
	Token             string  `json:"token"`
	BuyTax            float64 `json:"buyTax"`
	SellTax           float64 `json:"sellTax"`
	TransferTax       float64 `json:"transferTax"`
	SimulationSuccess bool    `json:"simulationSuccess"`
}

// Load reads a line-delimited JSON tax report. Malformed lines are
// counted and skipped; the file itself failing to open is an error.
func Load(path string) (*Table, int, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open token tax report: %w", err)
	}
	defer file.Close()

	tokens := make(map[common.Address]Info)
	skipped := 0

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec reportLine
		if err := sonnet.Unmarshal(line, &rec); err != nil {
			skipped++
			continue
		}
		if !common.IsHexAddress(rec.Token) {
			skipped++
			continue
		}
		tokens[common.HexToAddress(rec.Token)] = Info{
			BuyTax:            rec.BuyTax,
			SellTax:           rec.SellTax,
			TransferTax:       rec.TransferTax,
			SimulationSuccess: rec.SimulationSuccess,
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, skipped, fmt.Errorf("read token tax report: %w", err)
	}

	return &Table{tokens: tokens}, skipped, nil
}
