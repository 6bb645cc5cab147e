package ethereum

import (
	"context"
	"crypto/ecdsa"
	stdErrors "errors"
	"log/slog"
	"math/big"
	"strings"
	"time"

	xerrors "TreasuryAgent/internal/errors"
	"TreasuryAgent/pkg/logger"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Intent 描述一笔待提交的交易。GasLimit 为零时走链上估算。
type Intent struct {
	To       *common.Address
	Value    *big.Int
	Data     []byte
	GasLimit uint64
}

// Backend 是提交器依赖的链访问子集，便于用假实现做测试。
// *ethclient.Client 天然满足该接口。
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*coretypes.Header, error)
	EstimateGas(ctx context.Context, msg gethcore.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *coretypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error)
}

// feeMultipliers 是固定的费率递进表（百分比），所有整数运算向上取整。
var feeMultipliers = []int64{100, 120, 140}

const (
	defaultGasLimit     = 500_000
	defaultWaitInterval = 3 * time.Second
	defaultWaitAttempts = 40
)

// Submitter 串行提交交易：进程内缓存单一 nonce，费率按表递进，
// 确认等待区分回滚、查无此交易与成功三种结局。
// 它只会被主循环串行调用，nonce 字段不需要加锁。
type Submitter struct {
	backend      Backend
	key          *ecdsa.PrivateKey
	from         common.Address
	chainID      *big.Int
	signer       coretypes.Signer
	nonce        uint64
	nonceValid   bool
	waitInterval time.Duration
	waitAttempts int
	log          *slog.Logger
}

// SubmitterOption 定义可选配置。
type SubmitterOption func(*Submitter)

// WithWaitPolicy 覆盖确认等待的轮询间隔与次数。
func WithWaitPolicy(interval time.Duration, attempts int) SubmitterOption {
	return func(s *Submitter) {
		if interval >= 0 {
			s.waitInterval = interval
		}
		if attempts > 0 {
			s.waitAttempts = attempts
		}
	}
}

// NewSubmitter 构造提交器。
func NewSubmitter(backend Backend, key *ecdsa.PrivateKey, chainID *big.Int, opts ...SubmitterOption) *Submitter {
	s := &Submitter{
		backend:      backend,
		key:          key,
		from:         crypto.PubkeyToAddress(key.PublicKey),
		chainID:      chainID,
		signer:       coretypes.LatestSignerForChainID(chainID),
		waitInterval: defaultWaitInterval,
		waitAttempts: defaultWaitAttempts,
		log:          logger.Named("submitter"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// From 返回签名地址，即金库地址。
func (s *Submitter) From() common.Address {
	return s.from
}

// ResetNonce 使缓存失效，下次提交会重新读取链上的 pending nonce。
func (s *Submitter) ResetNonce() {
	s.nonceValid = false
}

func (s *Submitter) acquireNonce(ctx context.Context) (uint64, error) {
	if s.nonceValid {
		return s.nonce, nil
	}
	nonce, err := s.backend.PendingNonceAt(ctx, s.from)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeChainRead, err, "读取 pending nonce 失败")
	}
	s.nonce = nonce
	s.nonceValid = true
	return nonce, nil
}

// feeQuote 是一次费率估算结果：优先走 EIP-1559，失败时退化为固定 gasPrice。
type feeQuote struct {
	dynamic bool
	tipCap  *big.Int
	feeCap  *big.Int
	price   *big.Int
}

func (s *Submitter) quoteFees(ctx context.Context) (feeQuote, error) {
	tip, tipErr := s.backend.SuggestGasTipCap(ctx)
	if tipErr == nil {
		header, headErr := s.backend.HeaderByNumber(ctx, nil)
		if headErr == nil && header.BaseFee != nil {
			// feeCap = 2*baseFee + tip，给后续区块的 baseFee 留出余量。
			feeCap := new(big.Int).Mul(header.BaseFee, big.NewInt(2))
			feeCap.Add(feeCap, tip)
			return feeQuote{dynamic: true, tipCap: tip, feeCap: feeCap}, nil
		}
	}
	price, err := s.backend.SuggestGasPrice(ctx)
	if err != nil {
		return feeQuote{}, xerrors.Wrap(xerrors.CodeChainRead, err, "估算 gas 价格失败")
	}
	return feeQuote{price: price}, nil
}

// scaled 返回按百分比放大后的费率，整数向上取整。
func scaled(v *big.Int, percent int64) *big.Int {
	product := new(big.Int).Mul(v, big.NewInt(percent))
	quo, rem := new(big.Int).QuoRem(product, big.NewInt(100), new(big.Int))
	if rem.Sign() > 0 {
		quo.Add(quo, big.NewInt(1))
	}
	return quo
}

// Submit 提交交易并返回交易哈希。费率按递进表重试：
// 消息指示 underpriced/replacement/stale-nonce 且仍有下一档时，用同一个
// nonce 换更高费率重发（stale nonce 会先重置缓存）；其余错误立即上抛。
func (s *Submitter) Submit(ctx context.Context, intent Intent) (common.Hash, error) {
	nonce, err := s.acquireNonce(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	quote, err := s.quoteFees(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	gasLimit := intent.GasLimit
	if gasLimit == 0 {
		estimated, err := s.backend.EstimateGas(ctx, gethcore.CallMsg{
			From:  s.from,
			To:    intent.To,
			Value: intent.Value,
			Data:  intent.Data,
		})
		if err != nil {
			gasLimit = defaultGasLimit
		} else {
			gasLimit = estimated
		}
	}

	var lastErr error
	for step, percent := range feeMultipliers {
		tx := s.buildTx(intent, nonce, gasLimit, quote, percent)
		signed, err := coretypes.SignNewTx(s.key, s.signer, tx)
		if err != nil {
			return common.Hash{}, xerrors.Wrap(xerrors.CodeChainWrite, err, "签名交易失败")
		}
		if err := s.backend.SendTransaction(ctx, signed); err != nil {
			lastErr = err
			msg := strings.ToLower(err.Error())
			stale := isStaleNonce(msg)
			if stale {
				// nonce 已被链上超越，缓存作废，下次提交重新读取。
				s.nonceValid = false
			}
			if (stale || isUnderpriced(msg)) && step < len(feeMultipliers)-1 {
				s.log.Warn("提交被拒，提升费率重试",
					slog.Int("step", step+1),
					slog.Int64("percent", feeMultipliers[step+1]),
					slog.String("error", err.Error()),
				)
				continue
			}
			code := xerrors.CodeChainWrite
			if stale {
				code = xerrors.CodeNonceStale
			} else if isUnderpriced(msg) {
				code = xerrors.CodeTxUnderpriced
			}
			return common.Hash{}, xerrors.Wrap(code, err, "提交交易失败")
		}
		s.nonce = nonce + 1
		return signed.Hash(), nil
	}
	return common.Hash{}, xerrors.Wrap(xerrors.CodeTxUnderpriced, lastErr, "费率递进已用尽")
}

func (s *Submitter) buildTx(intent Intent, nonce, gasLimit uint64, quote feeQuote, percent int64) coretypes.TxData {
	value := intent.Value
	if value == nil {
		value = new(big.Int)
	}
	if quote.dynamic {
		return &coretypes.DynamicFeeTx{
			ChainID:   s.chainID,
			Nonce:     nonce,
			GasTipCap: scaled(quote.tipCap, percent),
			GasFeeCap: scaled(quote.feeCap, percent),
			Gas:       gasLimit,
			To:        intent.To,
			Value:     value,
			Data:      intent.Data,
		}
	}
	return &coretypes.LegacyTx{
		Nonce:    nonce,
		GasPrice: scaled(quote.price, percent),
		Gas:      gasLimit,
		To:       intent.To,
		Value:    value,
		Data:     intent.Data,
	}
}

// Wait 轮询交易回执。回滚返回 TX_REVERTED；轮询耗尽仍查不到交易时
// 重置 nonce 缓存并返回 TX_NOT_FOUND；成功返回回执。
func (s *Submitter) Wait(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error) {
	var lastErr error
	for attempt := 0; attempt < s.waitAttempts; attempt++ {
		receipt, err := s.backend.TransactionReceipt(ctx, txHash)
		if err == nil {
			if receipt.Status == coretypes.ReceiptStatusFailed {
				return nil, xerrors.New(xerrors.CodeTxReverted, "",
					xerrors.WithMetadata("tx_hash", txHash.Hex()))
			}
			return receipt, nil
		}
		if !stdErrors.Is(err, gethcore.NotFound) {
			return nil, xerrors.Wrap(xerrors.CodeChainRead, err, "查询交易回执失败",
				xerrors.WithMetadata("tx_hash", txHash.Hex()))
		}
		lastErr = err
		if s.waitInterval > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.waitInterval):
			}
		}
	}
	s.nonceValid = false
	return nil, xerrors.Wrap(xerrors.CodeTxNotFound, lastErr, "交易在链上不可见",
		xerrors.WithMetadata("tx_hash", txHash.Hex()))
}

// SubmitAndWait 是提交加确认的组合入口，四个服务都走它。
func (s *Submitter) SubmitAndWait(ctx context.Context, intent Intent) (*coretypes.Receipt, error) {
	txHash, err := s.Submit(ctx, intent)
	if err != nil {
		return nil, err
	}
	return s.Wait(ctx, txHash)
}

func isUnderpriced(msg string) bool {
	return strings.Contains(msg, "underpriced") ||
		strings.Contains(msg, "fee cap less than") ||
		strings.Contains(msg, "replacement transaction")
}

func isStaleNonce(msg string) bool {
	return strings.Contains(msg, "nonce too low") ||
		strings.Contains(msg, "stale nonce") ||
		strings.Contains(msg, "invalid nonce")
}
