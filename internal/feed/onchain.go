package feed

import (
	"context"
	"errors"
	"fmt"
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
	erc4626ABIJSON = `[{"inputs":[{"internalType":"uint256","name":"assets","type":"uint256"}],"name":"previewDeposit","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`
)

var erc4626ABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(erc4626ABIJSON))
	if err != nil {
		panic("failed to parse ERC-4626 ABI: " + err.Error())
	}
	erc4626ABI = parsed
}

// OnchainOptions parameterise the on-chain feed. Vaults maps a currency to
// the ERC-4626 vault whose share price quotes its market rate.
type OnchainOptions struct {
	RPCURL  string
	Vaults  map[string]string
	Timeout time.Duration
}

// Onchain reads market rates from ERC-4626 vault contracts over Ethereum RPC.
type Onchain struct {
	opts      OnchainOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewOnchain builds an on-chain feed driver.
func NewOnchain(opts OnchainOptions, logger zerolog.Logger) *Onchain {
	return &Onchain{opts: opts, logger: logger.With().Str("component", "onchain_feed").Logger()}
}

// FetchRate retrieves the vault share price for the currency's configured
// contract via previewDeposit(1e18).
func (o *Onchain) FetchRate(ctx context.Context, currency string) (Quote, error) {
	if o.opts.RPCURL == "" {
		return Quote{}, errors.New("ethereum rpc url not configured")
	}
	vault, ok := o.opts.Vaults[currency]
	if !ok || vault == "" {
		return Quote{}, fmt.Errorf("no vault configured for currency %s", currency)
	}

	timeout := o.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := o.getClient(ctx)
	if err != nil {
		return Quote{}, err
	}

	addr := common.HexToAddress(vault)
	assets := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

	payload, err := erc4626ABI.Pack("previewDeposit", assets)
	if err != nil {
		return Quote{}, err
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return Quote{}, err
	}

	outputs, err := erc4626ABI.Unpack("previewDeposit", res)
	if err != nil {
		return Quote{}, err
	}
	if len(outputs) != 1 {
		return Quote{}, errors.New("unexpected previewDeposit response")
	}

	shares, ok := outputs[0].(*big.Int)
	if !ok {
		return Quote{}, errors.New("failed to decode previewDeposit output")
	}

	rate := decimal.NewFromBigInt(shares, -18)
	if !rate.IsPositive() {
		return Quote{}, errors.New("vault returned non-positive rate")
	}

	blockNumber, err := client.BlockNumber(ctx)
	if err != nil {
		return Quote{}, err
	}

	return Quote{
		Currency:   currency,
		MarketRate: rate,
		ObservedAt: time.Now().UTC(),
		Source:     fmt.Sprintf("onchain:block=%d", blockNumber),
	}, nil
}

func (o *Onchain) getClient(ctx context.Context) (*ethclient.Client, error) {
	o.clientMux.Lock()
	defer o.clientMux.Unlock()

	if o.client != nil {
		return o.client, nil
	}

	client, err := ethclient.DialContext(ctx, o.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	o.client = client
	return client, nil
}

var _ RateFetcher = (*Onchain)(nil)
