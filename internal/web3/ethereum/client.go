package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Config describes how to construct an EVM client for the treasury daemon.
type Config struct {
	Name    string
	RPCURL  string
	ChainID *big.Int
}

// Client wraps an ethclient connection with the contract reads the treasury
// services need: ownership, balances, operator approvals and event logs.
type Client struct {
	name      string
	rpcClient *gethrpc.Client
	eth       *ethclient.Client
	chainID   *big.Int
}

// 状态读取所需的最小 ABI 片段。
const (
	erc721ABI  = `[{"name":"ownerOf","type":"function","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"owner","type":"address"}]},{"name":"isApprovedForAll","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"operator","type":"address"}],"outputs":[{"name":"approved","type":"bool"}]},{"name":"setApprovalForAll","type":"function","stateMutability":"nonpayable","inputs":[{"name":"operator","type":"address"},{"name":"approved","type":"bool"}],"outputs":[]}]`
	erc1155ABI = `[{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"},{"name":"id","type":"uint256"}],"outputs":[{"name":"balance","type":"uint256"}]}]`
	erc20ABI   = `[{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"balance","type":"uint256"}]},{"name":"transfer","type":"function","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"ok","type":"bool"}]},{"name":"swapWhitelist","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"allowed","type":"bool"}]},{"name":"swap","type":"function","stateMutability":"payable","inputs":[],"outputs":[]}]`
)

var (
	parsedERC721  = mustParseABI(erc721ABI)
	parsedERC1155 = mustParseABI(erc1155ABI)
	parsedERC20   = mustParseABI(erc20ABI)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}
	eth := ethclient.NewClient(rpcClient)

	chainID := cfg.ChainID
	if chainID == nil || chainID.Sign() == 0 {
		chainID, err = eth.ChainID(ctx)
		if err != nil {
			rpcClient.Close()
			return nil, fmt.Errorf("获取链 ID 失败: %w", err)
		}
	}

	return &Client{
		name:      cfg.Name,
		rpcClient: rpcClient,
		eth:       eth,
		chainID:   chainID,
	}, nil
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
}

// ChainID returns the connected chain identifier.
func (c *Client) ChainID() *big.Int {
	return c.chainID
}

// Backend exposes the raw ethclient for the transaction submitter.
func (c *Client) Backend() *ethclient.Client {
	return c.eth
}

// BlockNumber returns the current head height.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	head, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("获取最新区块高度失败: %w", err)
	}
	return head, nil
}

// FilterLogs fetches logs matching the query.
func (c *Client) FilterLogs(ctx context.Context, query gethcore.FilterQuery) ([]coretypes.Log, error) {
	logs, err := c.eth.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("查询事件日志失败: %w", err)
	}
	return logs, nil
}

// OwnerOf resolves the current owner of a single-owner asset.
func (c *Client) OwnerOf(ctx context.Context, collection common.Address, tokenID *big.Int) (common.Address, error) {
	var owner common.Address
	if err := c.viewCall(ctx, parsedERC721, collection, "ownerOf", &owner, tokenID); err != nil {
		return common.Address{}, err
	}
	return owner, nil
}

// BalanceOfAsset returns the balance a holder has of a balance-standard asset.
func (c *Client) BalanceOfAsset(ctx context.Context, collection, holder common.Address, tokenID *big.Int) (*big.Int, error) {
	balance := new(big.Int)
	if err := c.viewCall(ctx, parsedERC1155, collection, "balanceOf", &balance, holder, tokenID); err != nil {
		return nil, err
	}
	return balance, nil
}

// TokenBalance returns the ERC20 balance of a holder.
func (c *Client) TokenBalance(ctx context.Context, token, holder common.Address) (*big.Int, error) {
	balance := new(big.Int)
	if err := c.viewCall(ctx, parsedERC20, token, "balanceOf", &balance, holder); err != nil {
		return nil, err
	}
	return balance, nil
}

// IsApprovedForAll checks whether the operator may transfer the owner's
// assets in the given collection.
func (c *Client) IsApprovedForAll(ctx context.Context, collection, owner, operator common.Address) (bool, error) {
	var approved bool
	if err := c.viewCall(ctx, parsedERC721, collection, "isApprovedForAll", &approved, owner, operator); err != nil {
		return false, err
	}
	return approved, nil
}

// SwapAuthorized 查询金库地址是否在代币的路由白名单中。
func (c *Client) SwapAuthorized(ctx context.Context, token, account common.Address) (bool, error) {
	var allowed bool
	if err := c.viewCall(ctx, parsedERC20, token, "swapWhitelist", &allowed, account); err != nil {
		return false, err
	}
	return allowed, nil
}

func (c *Client) viewCall(ctx context.Context, parsed abi.ABI, contract common.Address, method string, out any, args ...any) error {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("编码 %s 调用失败: %w", method, err)
	}
	raw, err := c.eth.CallContract(ctx, gethcore.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return fmt.Errorf("调用 %s 失败: %w", method, err)
	}
	if err := parsed.UnpackIntoInterface(out, method, raw); err != nil {
		return fmt.Errorf("解析 %s 返回值失败: %w", method, err)
	}
	return nil
}

// ApprovalCalldata 编码 setApprovalForAll 调用数据。
func ApprovalCalldata(operator common.Address, approved bool) ([]byte, error) {
	data, err := parsedERC721.Pack("setApprovalForAll", operator, approved)
	if err != nil {
		return nil, fmt.Errorf("编码 setApprovalForAll 失败: %w", err)
	}
	return data, nil
}

// TransferCalldata 编码 ERC20 transfer 调用数据，销毁阶段用它把代币转入黑洞地址。
func TransferCalldata(to common.Address, amount *big.Int) ([]byte, error) {
	data, err := parsedERC20.Pack("transfer", to, amount)
	if err != nil {
		return nil, fmt.Errorf("编码 transfer 失败: %w", err)
	}
	return data, nil
}

// SwapCalldata 编码代币合约的 swap 调用数据，随交易的 value 把原生币换成代币。
func SwapCalldata() ([]byte, error) {
	data, err := parsedERC20.Pack("swap")
	if err != nil {
		return nil, fmt.Errorf("编码 swap 失败: %w", err)
	}
	return data, nil
}
