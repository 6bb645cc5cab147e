package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	xerrors "TreasuryAgent/internal/errors"
	"TreasuryAgent/internal/exchange"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

const (
	defaultTimeout = 30 * time.Second
)

// Config 描述访问市场 API 所需的信息。
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// Client 通过 HTTP 访问交易市场的聚合接口。
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient 根据配置创建市场客户端。
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, xerrors.New(xerrors.CodeConfigInvalid, "未提供市场 API 地址")
	}
	baseURL = strings.TrimRight(baseURL, "/")

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		apiKey:  strings.TrimSpace(cfg.APIKey),
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

type buyExecutionResponse struct {
	Router   string             `json:"router"`
	Calldata string             `json:"calldata"`
	ValueWei string             `json:"value_wei"`
	PriceWei string             `json:"price_wei"`
	Order    *blueprintResponse `json:"order,omitempty"`
}

type blueprintResponse struct {
	Zone          string                  `json:"zone"`
	ZoneHash      string                  `json:"zone_hash"`
	OrderType     uint8                   `json:"order_type"`
	ConduitKey    string                  `json:"conduit_key"`
	Offer         []offerResponse         `json:"offer"`
	Consideration []considerationResponse `json:"consideration"`
}

type offerResponse struct {
	ItemType   uint8  `json:"item_type"`
	Token      string `json:"token"`
	Identifier string `json:"identifier"`
	Amount     string `json:"amount"`
}

type considerationResponse struct {
	ItemType       uint8  `json:"item_type"`
	Token          string `json:"token"`
	Identifier     string `json:"identifier"`
	AmountWei      string `json:"amount_wei"`
	Recipient      string `json:"recipient"`
	SellerProceeds bool   `json:"seller_proceeds"`
}

// BuyExecution 查询目标资产当前的最优卖单。tokenID 为 nil 表示
// 集合维度的最优可买。市场返回 404 视为暂无可买卖单，返回 (nil, nil)。
func (c *Client) BuyExecution(ctx context.Context, collection common.Address, tokenID *big.Int) (*Execution, error) {
	target := "best"
	if tokenID != nil {
		target = tokenID.String()
	}
	endpoint := fmt.Sprintf("%s/v1/orders/buy/%s/%s", c.baseURL, collection.Hex(), target)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeMarketplaceFailure, err, "构建市场请求失败")
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeMarketplaceFailure, err, "请求市场失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, statusError(resp)
	}

	var decoded buyExecutionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeMarketplaceFailure, err, "解析市场响应失败")
	}
	return decodeExecution(decoded)
}

type publishListingRequest struct {
	Order     publishOrder `json:"order"`
	Signature string       `json:"signature"`
}

type publishOrder struct {
	Offerer       string             `json:"offerer"`
	Zone          string             `json:"zone"`
	Offer         []publishItem      `json:"offer"`
	Consideration []publishItem      `json:"consideration"`
	OrderType     uint8              `json:"order_type"`
	StartTime     string             `json:"start_time"`
	EndTime       string             `json:"end_time"`
	ZoneHash      string             `json:"zone_hash"`
	Salt          string             `json:"salt"`
	ConduitKey    string             `json:"conduit_key"`
	Counter       string             `json:"counter"`
}

type publishItem struct {
	ItemType   uint8  `json:"item_type"`
	Token      string `json:"token"`
	Identifier string `json:"identifier"`
	Amount     string `json:"amount"`
	Recipient  string `json:"recipient,omitempty"`
}

type publishListingResponse struct {
	ListingID string `json:"listing_id"`
	OrderHash string `json:"order_hash"`
}

// PublishListing 把已签名的挂单同步给市场方。
func (c *Client) PublishListing(ctx context.Context, order exchange.OrderComponents, signature []byte) (*Listing, error) {
	payload, err := json.Marshal(publishListingRequest{
		Order:     encodeOrder(order),
		Signature: hexutil.Encode(signature),
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeMarketplaceFailure, err, "序列化挂单请求失败")
	}

	endpoint := c.baseURL + "/v1/orders"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeMarketplaceFailure, err, "构建挂单请求失败")
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeMarketplaceFailure, err, "提交挂单失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, statusError(resp)
	}

	var decoded publishListingResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeMarketplaceFailure, err, "解析挂单响应失败")
	}
	return &Listing{
		ID:        decoded.ListingID,
		OrderHash: common.HexToHash(decoded.OrderHash),
	}, nil
}

func (c *Client) setHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	req.Header.Set("Accept", "application/json")
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return xerrors.New(xerrors.CodeMarketplaceFailure,
		fmt.Sprintf("市场返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
}

func decodeExecution(resp buyExecutionResponse) (*Execution, error) {
	calldata, err := hexutil.Decode(resp.Calldata)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeMarketplaceFailure, err, "市场返回的 calldata 非法")
	}
	value, err := parseWei(resp.ValueWei)
	if err != nil {
		return nil, err
	}
	price, err := parseWei(resp.PriceWei)
	if err != nil {
		return nil, err
	}
	exec := &Execution{
		Router:   common.HexToAddress(resp.Router),
		Calldata: calldata,
		ValueWei: value,
		PriceWei: price,
	}
	if resp.Order != nil {
		blueprint, err := decodeBlueprint(*resp.Order)
		if err != nil {
			return nil, err
		}
		exec.Blueprint = blueprint
	}
	return exec, nil
}

func decodeBlueprint(resp blueprintResponse) (*Blueprint, error) {
	blueprint := &Blueprint{
		Zone:       common.HexToAddress(resp.Zone),
		ZoneHash:   common.HexToHash(resp.ZoneHash),
		OrderType:  exchange.OrderType(resp.OrderType),
		ConduitKey: common.HexToHash(resp.ConduitKey),
	}
	for _, line := range resp.Offer {
		identifier, err := parseWei(line.Identifier)
		if err != nil {
			return nil, err
		}
		amount, err := parseWei(line.Amount)
		if err != nil {
			return nil, err
		}
		blueprint.Offer = append(blueprint.Offer, OfferLine{
			ItemType:   exchange.ItemType(line.ItemType),
			Token:      common.HexToAddress(line.Token),
			Identifier: identifier,
			Amount:     amount,
		})
	}
	for _, line := range resp.Consideration {
		identifier, err := parseWei(line.Identifier)
		if err != nil {
			return nil, err
		}
		amount, err := parseWei(line.AmountWei)
		if err != nil {
			return nil, err
		}
		blueprint.Consideration = append(blueprint.Consideration, ConsiderationLine{
			ItemType:       exchange.ItemType(line.ItemType),
			Token:          common.HexToAddress(line.Token),
			Identifier:     identifier,
			AmountWei:      amount,
			Recipient:      common.HexToAddress(line.Recipient),
			SellerProceeds: line.SellerProceeds,
		})
	}
	return blueprint, nil
}

func encodeOrder(order exchange.OrderComponents) publishOrder {
	encoded := publishOrder{
		Offerer:    order.Offerer.Hex(),
		Zone:       order.Zone.Hex(),
		OrderType:  uint8(order.OrderType),
		StartTime:  order.StartTime.String(),
		EndTime:    order.EndTime.String(),
		ZoneHash:   order.ZoneHash.Hex(),
		Salt:       order.Salt.String(),
		ConduitKey: order.ConduitKey.Hex(),
		Counter:    order.Counter.String(),
	}
	for _, item := range order.Offer {
		encoded.Offer = append(encoded.Offer, publishItem{
			ItemType:   uint8(item.ItemType),
			Token:      item.Token.Hex(),
			Identifier: item.IdentifierOrCriteria.String(),
			Amount:     item.StartAmount.String(),
		})
	}
	for _, item := range order.Consideration {
		encoded.Consideration = append(encoded.Consideration, publishItem{
			ItemType:   uint8(item.ItemType),
			Token:      item.Token.Hex(),
			Identifier: item.IdentifierOrCriteria.String(),
			Amount:     item.StartAmount.String(),
			Recipient:  item.Recipient.Hex(),
		})
	}
	return encoded
}

func parseWei(value string) (*big.Int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return new(big.Int), nil
	}
	parsed, ok := new(big.Int).SetString(value, 10)
	if !ok || parsed.Sign() < 0 {
		return nil, xerrors.New(xerrors.CodeMarketplaceFailure,
			fmt.Sprintf("市场返回的金额非法: %q", value))
	}
	return parsed, nil
}
