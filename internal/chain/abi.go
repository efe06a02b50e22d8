package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const pairABIJSON = `[
	{"constant":true,"inputs":[],"name":"getReserves","outputs":[{"name":"reserve0","type":"uint112"},{"name":"reserve1","type":"uint112"},{"name":"blockTimestampLast","type":"uint32"}],"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[],"name":"token0","outputs":[{"name":"","type":"address"}],"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[],"name":"token1","outputs":[{"name":"","type":"address"}],"stateMutability":"view","type":"function"}
]`

const factoryABIJSON = `[
	{"constant":true,"inputs":[{"name":"tokenA","type":"address"},{"name":"tokenB","type":"address"}],"name":"getPair","outputs":[{"name":"pair","type":"address"}],"stateMutability":"view","type":"function"}
]`

const flashLoanABIJSON = `[
	{"inputs":[{"name":"tokenA","type":"address"},{"name":"tokenB","type":"address"},{"name":"tokenC","type":"address"},{"name":"dex","type":"address"},{"name":"loanAmount","type":"uint256"}],"name":"executeFlashLoanTriangular","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"tokenA","type":"address"},{"name":"tokenB","type":"address"},{"name":"dex1","type":"address"},{"name":"dex2","type":"address"},{"name":"loanAmount","type":"uint256"}],"name":"executeFlashLoanPairwiseInterDEX","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

var (
	PairABI      = mustParseABI(pairABIJSON)
	FactoryABI   = mustParseABI(factoryABIJSON)
	FlashLoanABI = mustParseABI(flashLoanABIJSON)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
