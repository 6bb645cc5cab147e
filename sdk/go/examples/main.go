package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"

	"TreasuryAgent/sdk/go/treasury"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/api/v1/treasury/status", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(treasury.Status{
			Version:           3,
			CommissionPoolWei: "1200000000000000000",
			SalePoolWei:       "0",
			LastTaxBlock:      19_000_000,
			ActiveListings:    1,
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := treasury.NewClient(srv.URL, srv.Client())
	if err != nil {
		fmt.Println("new client:", err)
		return
	}

	ctx := context.Background()
	if err := client.Healthy(ctx); err != nil {
		fmt.Println("health:", err)
		return
	}

	status, err := client.Status(ctx)
	if err != nil {
		fmt.Println("status:", err)
		return
	}
	fmt.Printf("佣金池: %s wei，活跃挂单: %d\n", status.CommissionPoolWei, status.ActiveListings)
}
