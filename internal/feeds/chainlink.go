package feeds

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	aggregatorV3ABIJSON = `[{"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"}]`

	// Chainlink XAU/USD aggregators report with 8 decimals.
	chainlinkDecimals = 8
)

var (
	aggregatorV3ABI abi.ABI
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(aggregatorV3ABIJSON))
	if err != nil {
		panic("failed to parse AggregatorV3 ABI: " + err.Error())
	}
	aggregatorV3ABI = parsed
}

// ChainlinkOptions parameterise the on-chain feed.
type ChainlinkOptions struct {
	ID          string
	RPCURL      string
	FeedAddress string
	Timeout     time.Duration
}

// Chainlink reads an AggregatorV3 gold price feed via Ethereum RPC.
type Chainlink struct {
	opts      ChainlinkOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewChainlink builds a new on-chain feed.
func NewChainlink(opts ChainlinkOptions, logger zerolog.Logger) *Chainlink {
	return &Chainlink{opts: opts, logger: logger.With().Str("component", "chainlink_feed").Str("feed", opts.ID).Logger()}
}

func (c *Chainlink) ID() string { return c.opts.ID }

// FetchPrice retrieves the latest round of the configured aggregator.
func (c *Chainlink) FetchPrice(ctx context.Context) (decimal.Decimal, time.Time, error) {
	if c.opts.RPCURL == "" {
		return decimal.Decimal{}, time.Time{}, errors.New("ethereum rpc url not configured")
	}
	if c.opts.FeedAddress == "" {
		return decimal.Decimal{}, time.Time{}, errors.New("aggregator contract address not configured")
	}

	timeout := c.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return decimal.Decimal{}, time.Time{}, err
	}

	addr := common.HexToAddress(c.opts.FeedAddress)

	payload, err := aggregatorV3ABI.Pack("latestRoundData")
	if err != nil {
		return decimal.Decimal{}, time.Time{}, err
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return decimal.Decimal{}, time.Time{}, err
	}

	outputs, err := aggregatorV3ABI.Unpack("latestRoundData", res)
	if err != nil {
		return decimal.Decimal{}, time.Time{}, err
	}
	if len(outputs) != 5 {
		return decimal.Decimal{}, time.Time{}, errors.New("unexpected latestRoundData response")
	}

	answer, ok := outputs[1].(*big.Int)
	if !ok {
		return decimal.Decimal{}, time.Time{}, errors.New("failed to decode answer")
	}
	if answer.Sign() <= 0 {
		return decimal.Decimal{}, time.Time{}, errors.New("aggregator answer non-positive")
	}
	updatedAt, ok := outputs[3].(*big.Int)
	if !ok {
		return decimal.Decimal{}, time.Time{}, errors.New("failed to decode updatedAt")
	}

	price := decimal.NewFromBigInt(answer, -chainlinkDecimals)
	return price, time.Unix(updatedAt.Int64(), 0), nil
}

func (c *Chainlink) getClient(ctx context.Context) (*ethclient.Client, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	c.client = client
	return client, nil
}

var _ Feed = (*Chainlink)(nil)
