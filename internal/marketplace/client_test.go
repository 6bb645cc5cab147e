package marketplace

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	xerrors "TreasuryAgent/internal/errors"
	"TreasuryAgent/internal/exchange"

	"github.com/ethereum/go-ethereum/common"
)

func TestBuyExecutionDecodesPayload(t *testing.T) {
	var gotPath, gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-API-Key")
		_ = json.NewEncoder(w).Encode(buyExecutionResponse{
			Router:   "0x00000000000000000000000000000000000000ee",
			Calldata: "0xdeadbeef",
			ValueWei: "1200",
			PriceWei: "1200",
			Order: &blueprintResponse{
				OrderType:  uint8(exchange.OrderTypeFullOpen),
				ConduitKey: "0x0000007b02230091a7ed01230072f7006a004d60a8d4e71d599b8104250f0000",
				Consideration: []considerationResponse{
					{ItemType: 0, AmountWei: "1100", Recipient: "0x00000000000000000000000000000000000000a1", SellerProceeds: true},
					{ItemType: 0, AmountWei: "100", Recipient: "0x00000000000000000000000000000000000000a2"},
				},
			},
		})
	}))
	defer server.Close()

	client, err := NewClient(Config{APIKey: "secret", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("创建客户端失败: %v", err)
	}

	collection := common.HexToAddress("0x0000000000000000000000000000000000002222")
	exec, err := client.BuyExecution(context.Background(), collection, big.NewInt(42))
	if err != nil {
		t.Fatalf("查询卖单失败: %v", err)
	}
	if gotPath != "/v1/orders/buy/"+collection.Hex()+"/42" {
		t.Fatalf("请求路径 = %s", gotPath)
	}
	if gotKey != "secret" {
		t.Fatalf("API key 未携带")
	}
	if exec.PriceWei.Int64() != 1200 || exec.ValueWei.Int64() != 1200 {
		t.Fatalf("金额解码错误: price=%v value=%v", exec.PriceWei, exec.ValueWei)
	}
	if len(exec.Calldata) != 4 || exec.Calldata[0] != 0xde {
		t.Fatalf("calldata 解码错误: %x", exec.Calldata)
	}
	if exec.Blueprint == nil || len(exec.Blueprint.Consideration) != 2 {
		t.Fatalf("订单蓝图缺失")
	}
	if !exec.Blueprint.Consideration[0].SellerProceeds {
		t.Fatal("卖方所得标记丢失")
	}
	if exec.Blueprint.Consideration[1].AmountWei.Int64() != 100 {
		t.Fatalf("对价金额解码错误: %v", exec.Blueprint.Consideration[1].AmountWei)
	}
}

func TestBuyExecutionNoOrderAvailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client, err := NewClient(Config{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("创建客户端失败: %v", err)
	}
	exec, err := client.BuyExecution(context.Background(), common.Address{}, big.NewInt(1))
	if err != nil {
		t.Fatalf("404 不应视为错误: %v", err)
	}
	if exec != nil {
		t.Fatal("无可买卖单时应返回 nil")
	}
}

func TestBuyExecutionSurfacesServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client, err := NewClient(Config{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("创建客户端失败: %v", err)
	}
	_, err = client.BuyExecution(context.Background(), common.Address{}, big.NewInt(1))
	if xerrors.CodeOf(err) != xerrors.CodeMarketplaceFailure {
		t.Fatalf("错误码 = %s，期望 %s", xerrors.CodeOf(err), xerrors.CodeMarketplaceFailure)
	}
}

func TestBuyExecutionRejectsMalformedAmount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(buyExecutionResponse{
			Router:   "0x00000000000000000000000000000000000000ee",
			Calldata: "0x00",
			ValueWei: "not-a-number",
			PriceWei: "1",
		})
	}))
	defer server.Close()

	client, err := NewClient(Config{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("创建客户端失败: %v", err)
	}
	if _, err := client.BuyExecution(context.Background(), common.Address{}, big.NewInt(1)); err == nil {
		t.Fatal("非法金额应报错")
	}
}

func TestPublishListingRoundTrip(t *testing.T) {
	var received publishListingRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/orders" {
			t.Errorf("意外的请求 %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("解码挂单请求失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(publishListingResponse{
			ListingID: "lst_123",
			OrderHash: "0x02d8739d6aa5aeea25f9bfc9a3bf792298c64865a96887c903378d36f769f5d1",
		})
	}))
	defer server.Close()

	client, err := NewClient(Config{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("创建客户端失败: %v", err)
	}

	order := exchange.OrderComponents{
		Offerer: common.HexToAddress("0x0000000000000000000000000000000000001111"),
		Offer: []exchange.OfferItem{{
			ItemType:             exchange.ItemTypeERC721,
			Token:                common.HexToAddress("0x0000000000000000000000000000000000002222"),
			IdentifierOrCriteria: big.NewInt(42),
			StartAmount:          big.NewInt(1),
			EndAmount:            big.NewInt(1),
		}},
		Consideration: []exchange.ConsiderationItem{{
			ItemType:             exchange.ItemTypeNative,
			IdentifierOrCriteria: new(big.Int),
			StartAmount:          big.NewInt(1300),
			EndAmount:            big.NewInt(1300),
			Recipient:            common.HexToAddress("0x0000000000000000000000000000000000001111"),
		}},
		StartTime: big.NewInt(1700000000),
		EndTime:   big.NewInt(1700086400),
		Salt:      big.NewInt(1),
		Counter:   new(big.Int),
	}

	listing, err := client.PublishListing(context.Background(), order, []byte{0x01, 0x02})
	if err != nil {
		t.Fatalf("提交挂单失败: %v", err)
	}
	if listing.ID != "lst_123" {
		t.Fatalf("挂单 ID = %s", listing.ID)
	}
	if received.Signature != "0x0102" {
		t.Fatalf("签名编码错误: %s", received.Signature)
	}
	if len(received.Order.Offer) != 1 || received.Order.Offer[0].Identifier != "42" {
		t.Fatalf("报价条目编码错误: %+v", received.Order.Offer)
	}
	if received.Order.Consideration[0].Amount != "1300" {
		t.Fatalf("对价金额编码错误: %+v", received.Order.Consideration)
	}
}
