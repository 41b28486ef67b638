// Package discovery loads the static pool set from the offline
// discovery artifacts: line-delimited JSON pair files written by the
// factory scanner, or a sqlite database harvested from chain logs.
// Loading happens once at startup; the resulting metadata is immutable.
package discovery

import (
	"bufio"
	"database/sql"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sugawarayuuta/sonnet"

	"github.com/defistate/arb-engine-go/engine"
)

const (
	// DefaultFeeBps is the constant-product fee assumed when a pair's
	// venue has no entry in the fee map.
	DefaultFeeBps uint32 = 25
	// DefaultFeePpm is the concentrated-liquidity fee assumed when the
	// scanner did not record one.
	DefaultFeePpm uint32 = 2500
)

// Options controls fee assignment during loading. The zero value uses
// the package defaults for everything.
type Options struct {
	// VenueFeeBps maps a venue name to its flat fee for
	// constant-product pools, in basis points.
	VenueFeeBps map[string]uint32
	// DefaultFeeBps and DefaultFeePpm override the package defaults
	// when non-zero.
	DefaultFeeBps uint32
	DefaultFeePpm uint32
}

func (o Options) feeBpsFor(venue string) uint32 {
	if fee, ok := o.VenueFeeBps[venue]; ok {
		return fee
	}
	if o.DefaultFeeBps != 0 {
		return o.DefaultFeeBps
	}
	return DefaultFeeBps
}

func (o Options) feePpmFor(recorded uint32) uint32 {
	if recorded != 0 {
		return recorded
	}
	if o.DefaultFeePpm != 0 {
		return o.DefaultFeePpm
	}
	return DefaultFeePpm
}

// pairRecord is one line of the scanner's JSONL output.
type pairRecord struct {
	PairAddress    string `json:"pair_address"`
	Token0         string `json:"token0"`
	Token1         string `json:"token1"`
	DexName        string `json:"dex_name"`
	DexVersion     string `json:"dex_version"`
	FactoryAddress string `json:"factory_address"`
	BlockNumber    uint64 `json:"block_number"`
	// Fee is the pool's fee tier in ppm, recorded for V3 pools only.
	Fee uint32 `json:"fee,omitempty"`
}

func (r *pairRecord) toMeta(opts Options) (engine.PoolMeta, bool) {
	if !common.IsHexAddress(r.PairAddress) ||
		!common.IsHexAddress(r.Token0) ||
		!common.IsHexAddress(r.Token1) {
		return engine.PoolMeta{}, false
	}
	meta := engine.PoolMeta{
		Address: common.HexToAddress(r.PairAddress),
		Token0:  common.HexToAddress(r.Token0),
		Token1:  common.HexToAddress(r.Token1),
	}
	if common.IsHexAddress(r.FactoryAddress) {
		meta.Factory = common.HexToAddress(r.FactoryAddress)
	}
	switch r.DexVersion {
	case "V2":
		meta.Kind = engine.KindConstantProduct
		meta.FeeBps = opts.feeBpsFor(r.DexName)
	case "V3":
		meta.Kind = engine.KindConcentratedLiquidity
		meta.FeePpm = opts.feePpmFor(r.Fee)
	default:
		return engine.PoolMeta{}, false
	}
	return meta, true
}

// LoadPoolsJSON reads a JSONL pair file. Malformed lines are counted
// and skipped; duplicate pool addresses keep the first record seen.
func LoadPoolsJSON(path string, opts Options) ([]engine.PoolMeta, int, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open pair file: %w", err)
	}
	defer file.Close()

	var metas []engine.PoolMeta
	seen := make(map[common.Address]struct{})
	skipped := 0

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec pairRecord
		if err := sonnet.Unmarshal(line, &rec); err != nil {
			skipped++
			continue
		}
		meta, ok := rec.toMeta(opts)
		if !ok {
			skipped++
			continue
		}
		if _, dup := seen[meta.Address]; dup {
			continue
		}
		seen[meta.Address] = struct{}{}
		metas = append(metas, meta)
	}
	if err := scanner.Err(); err != nil {
		return nil, skipped, fmt.Errorf("read pair file: %w", err)
	}
	return metas, skipped, nil
}

// LoadPoolsSQLite reads the harvester's pools table. Rows are returned
// in id order so repeated loads produce identical token numbering.
func LoadPoolsSQLite(path string, opts Options) ([]engine.PoolMeta, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open pool database: %w", err)
	}
	defer db.Close()

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM pools").Scan(&count); err != nil {
		return nil, fmt.Errorf("count pools: %w", err)
	}

	rows, err := db.Query(`
		SELECT pool_address, token0, token1, dex_name, dex_version, fee
		FROM pools
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query pools: %w", err)
	}
	defer rows.Close()

	metas := make([]engine.PoolMeta, 0, count)
	seen := make(map[common.Address]struct{}, count)
	for rows.Next() {
		var rec pairRecord
		if err := rows.Scan(&rec.PairAddress, &rec.Token0, &rec.Token1,
			&rec.DexName, &rec.DexVersion, &rec.Fee); err != nil {
			return nil, fmt.Errorf("scan pool row: %w", err)
		}
		meta, ok := rec.toMeta(opts)
		if !ok {
			return nil, fmt.Errorf("invalid pool row for address %q", rec.PairAddress)
		}
		if _, dup := seen[meta.Address]; dup {
			continue
		}
		seen[meta.Address] = struct{}{}
		metas = append(metas, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pools: %w", err)
	}
	return metas, nil
}
